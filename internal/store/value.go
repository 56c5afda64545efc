package store

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Normalize приводит значение к одному из типов Row.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int64, float64, string, bool, []byte:
		return t
	case time.Time:
		return t.UTC()
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case fmt.Stringer:
		return t.String()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

// KeyString - каноническое строковое представление ключа: по нему
// хранилища в памяти и кэш адресуют строки.
func KeyString(v any) string {
	switch t := Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Compare сравнивает два нормализованных значения. nil меньше всего.
// Числа сравниваются численно, остальное - по строковому представлению.
func Compare(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return +1
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return +1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.([]byte); ok {
		if bb, ok := b.([]byte); ok {
			return bytes.Compare(ba, bb)
		}
	}
	sa, sb := KeyString(a), KeyString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return +1
	}
	return 0
}

// Equal - равенство в смысле Compare. Строка, сравниваемая с числом,
// временем или bool, сначала разбирается в этот тип ("5" == 5).
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if s, ok := b.(string); ok && a != nil {
		if _, same := a.(string); !same {
			b = coerceLike(a, s)
		}
	} else if s, ok := a.(string); ok && b != nil {
		if _, same := b.(string); !same {
			a = coerceLike(b, s)
		}
	}
	return Compare(a, b) == 0
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// coerceLike разбирает строку s в тип значения like: числа, время (RFC3339 или дата),
// bool. Если разобрать не вышло, возвращает s как есть.
func coerceLike(like any, s string) any {
	s = strings.TrimSpace(s)
	switch Normalize(like).(type) {
	case int64, float64:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case time.Time:
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t.UTC()
		}
	case bool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

// NormalizeRow возвращает копию строки с нормализованными значениями.
func NormalizeRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = Normalize(v)
	}
	return out
}

// IsZeroKey - ключ не задан: nil, пустая строка или 0.
func IsZeroKey(v any) bool {
	switch t := Normalize(v).(type) {
	case nil:
		return true
	case string:
		return t == ""
	case int64:
		return t == 0
	}
	return false
}
