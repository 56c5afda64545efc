package sqlstore

import (
	"strconv"
	"strings"
	"time"

	"realmdb/internal/schema"
	"realmdb/internal/store"
)

// builder копит параметры запроса в порядке появления.
type builder struct {
	c    *conn
	args []any
}

func (c *conn) builder() *builder { return &builder{c: c} }

func (b *builder) arg(v any) string {
	b.args = append(b.args, b.c.s.dialect.Encode(store.Normalize(v)))
	return b.c.s.dialect.Placeholder(len(b.args))
}

// where - " where ..." или пусто для пустого предиката.
func (b *builder) where(p store.Predicate, kinds map[string]schema.Kind) string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p))
	for _, c := range p {
		parts = append(parts, b.cond(c, kinds[c.Column]))
	}
	return " where " + strings.Join(parts, " and ")
}

var sqlOps = map[store.Op]string{
	store.OpGt: ">", store.OpGte: ">=", store.OpLt: "<", store.OpLte: "<=",
}

func (b *builder) cond(c store.Cond, kind schema.Kind) string {
	col := Ident(c.Column)
	switch c.Op {
	case store.OpIn:
		if len(c.Values) == 0 {
			return "1 = 0"
		}
		var ph []string
		null := false
		for _, v := range c.Values {
			if v == nil {
				null = true
				continue
			}
			ph = append(ph, b.arg(coerce(kind, v)))
		}
		switch {
		case len(ph) == 0:
			return col + " is null"
		case null:
			return "(" + col + " in (" + strings.Join(ph, ", ") + ") or " + col + " is null)"
		}
		return col + " in (" + strings.Join(ph, ", ") + ")"
	case store.OpNe:
		if c.Values[0] == nil {
			return col + " is not null"
		}
		return "(" + col + " <> " + b.arg(coerce(kind, c.Values[0])) + " or " + col + " is null)"
	case store.OpEq, "":
		if c.Values[0] == nil {
			return col + " is null"
		}
		return col + " = " + b.arg(coerce(kind, c.Values[0]))
	}
	if c.Values[0] == nil {
		return "1 = 0"
	}
	return col + " " + sqlOps[c.Op] + " " + b.arg(coerce(kind, c.Values[0]))
}

// coerce приводит значение условия к виду колонки: фильтры из запросов
// приходят строками.
func coerce(kind schema.Kind, v any) any {
	v = store.Normalize(v)
	s, ok := v.(string)
	if !ok {
		if kind == schema.KindString && v != nil {
			return store.KeyString(v)
		}
		return v
	}
	s = strings.TrimSpace(s)
	switch kind {
	case schema.KindInt:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	case schema.KindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case schema.KindBool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case schema.KindTime:
		if t, ok := parseTime(s); ok {
			return t
		}
	}
	return v
}

// TimeLayout - запись времени в текстовой колонке. Ширина постоянна,
// поэтому строки сравниваются так же, как моменты.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// decode приводит то, что вернул драйвер, к нормализованному значению вида kind.
func decode(kind schema.Kind, raw any) any {
	if raw == nil {
		return nil
	}
	if b, ok := raw.([]byte); ok && kind != schema.KindBytes {
		raw = string(b)
	}
	switch kind {
	case schema.KindBool:
		switch t := raw.(type) {
		case int64:
			return t != 0
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
	case schema.KindTime:
		if s, ok := raw.(string); ok {
			if t, ok := parseTime(s); ok {
				return t
			}
		}
	case schema.KindInt:
		switch t := raw.(type) {
		case int32:
			return int64(t)
		case float64:
			return int64(t)
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n
			}
		}
	case schema.KindFloat:
		switch t := raw.(type) {
		case float32:
			return float64(t)
		case int64:
			return float64(t)
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		}
	case schema.KindBytes:
		if s, ok := raw.(string); ok {
			return []byte(s)
		}
	}
	return store.Normalize(raw)
}
