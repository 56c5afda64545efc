package schema

import (
	"reflect"
	"strconv"
	"time"

	"realmdb/internal/entity"
	"realmdb/internal/store"
)

// field - значение поля колонки внутри структуры v.
func (c *Column) field(v reflect.Value) reflect.Value {
	return v.FieldByIndex(c.index)
}

// Value читает значение колонки из структуры v в нормализованном виде.
// Колонку object id так не прочитать: её значение живёт в entity.Base.
func (c *Column) Value(v reflect.Value) any {
	if c.ObjectID {
		return nil
	}
	fv := c.field(v)
	if c.pointer {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}
	switch c.Kind {
	case KindTime:
		return fv.Interface().(time.Time).UTC()
	case KindBytes:
		if fv.IsNil() {
			return nil
		}
		return append([]byte(nil), fv.Bytes()...)
	}
	return store.Normalize(fv.Interface())
}

// Empty - значение считается незаполненным для notnull:
// nil, пустая строка, нулевое время, пустые байты. Числа и bool заполнены всегда.
func Empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case time.Time:
		return t.IsZero()
	case []byte:
		return len(t) == 0
	}
	return false
}

// Set пишет значение из строки хранилища в поле структуры v с приведением типа.
func (c *Column) Set(v reflect.Value, raw any) error {
	if c.ObjectID {
		return nil
	}
	fv := c.field(v)
	raw = store.Normalize(raw)
	if raw == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	target := fv
	if c.pointer {
		target = reflect.New(fv.Type().Elem()).Elem()
	}
	if err := assign(target, c.Kind, raw); err != nil {
		return Error.New("column %q: %v", c.Name, err)
	}
	if c.pointer {
		fv.Set(target.Addr())
	}
	return nil
}

func assign(dst reflect.Value, kind Kind, raw any) error {
	switch kind {
	case KindInt:
		var n int64
		switch t := raw.(type) {
		case int64:
			n = t
		case float64:
			n = int64(t)
		case bool:
			if t {
				n = 1
			}
		case string:
			p, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return err
			}
			n = p
		default:
			return Error.New("cannot convert %T to int", raw)
		}
		switch dst.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			dst.SetUint(uint64(n))
		default:
			dst.SetInt(n)
		}
	case KindFloat:
		switch t := raw.(type) {
		case float64:
			dst.SetFloat(t)
		case int64:
			dst.SetFloat(float64(t))
		case string:
			f, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return err
			}
			dst.SetFloat(f)
		default:
			return Error.New("cannot convert %T to float", raw)
		}
	case KindString:
		switch t := raw.(type) {
		case string:
			dst.SetString(t)
		case []byte:
			dst.SetString(string(t))
		default:
			dst.SetString(store.KeyString(t))
		}
	case KindBool:
		switch t := raw.(type) {
		case bool:
			dst.SetBool(t)
		case int64:
			dst.SetBool(t != 0)
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return err
			}
			dst.SetBool(b)
		default:
			return Error.New("cannot convert %T to bool", raw)
		}
	case KindTime:
		switch t := raw.(type) {
		case time.Time:
			dst.Set(reflect.ValueOf(t.UTC()))
		case string:
			p, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(p.UTC()))
		default:
			return Error.New("cannot convert %T to time", raw)
		}
	case KindBytes:
		switch t := raw.(type) {
		case []byte:
			dst.SetBytes(append([]byte(nil), t...))
		case string:
			dst.SetBytes([]byte(t))
		default:
			return Error.New("cannot convert %T to bytes", raw)
		}
	}
	return nil
}

// Extract снимает строку со структуры. id - значение колонки object id.
// Вызывающий держит мьютекс экземпляра (entity.Base.Capture).
func (et *EntityType) Extract(v reflect.Value, id string) store.Row {
	row := make(store.Row, len(et.Columns))
	for _, c := range et.Columns {
		if c.ObjectID {
			row[c.Name] = id
			continue
		}
		row[c.Name] = c.Value(v)
	}
	return row
}

// Fill раскладывает строку по полям структуры и возвращает object id из строки
// (пустой, если у таблицы нет такой колонки). Отсутствующие колонки не трогает.
func (et *EntityType) Fill(v reflect.Value, row store.Row) (string, error) {
	var id string
	for _, c := range et.Columns {
		raw, ok := row[c.Name]
		if !ok {
			continue
		}
		if c.ObjectID {
			id = store.KeyString(raw)
			continue
		}
		if err := c.Set(v, raw); err != nil {
			return "", Error.New("%s: %v", et.Table, err)
		}
	}
	return id, nil
}

// ValueOf читает значение колонки у живого экземпляра, беря его мьютекс.
func (et *EntityType) ValueOf(e entity.Tracked, c *Column) any {
	if c.ObjectID {
		return e.Tracker().ObjectID()
	}
	var out any
	e.Tracker().Locked(func() { out = c.Value(et.Elem(e)) })
	return out
}

// KeyOf - значение ключа экземпляра: последнее записанное, если строка уже есть,
// иначе текущее значение ключевого поля.
func (et *EntityType) KeyOf(e entity.Tracked) any {
	if k := e.Tracker().Key(); k != nil {
		return k
	}
	return et.ValueOf(e, et.key)
}

// RelationValue - поле связи у структуры v.
func (r *Relation) RelationValue(v reflect.Value) reflect.Value {
	return v.FieldByIndex(r.index)
}

// Attach кладёт связанные объекты в поле связи: для "one" - первый или nil,
// для "many" - свежий срез.
func (r *Relation) Attach(v reflect.Value, related []entity.Tracked) {
	fv := r.RelationValue(v)
	switch r.Cardinality {
	case One:
		if len(related) == 0 {
			fv.Set(reflect.Zero(fv.Type()))
			return
		}
		fv.Set(reflect.ValueOf(related[0]))
	case Many:
		s := reflect.MakeSlice(fv.Type(), 0, len(related))
		for _, e := range related {
			s = reflect.Append(s, reflect.ValueOf(e))
		}
		fv.Set(s)
	}
}

// Attached - объекты, лежащие сейчас в поле связи.
func (r *Relation) Attached(v reflect.Value) []entity.Tracked {
	fv := r.RelationValue(v)
	switch r.Cardinality {
	case One:
		if fv.IsNil() {
			return nil
		}
		return []entity.Tracked{fv.Interface().(entity.Tracked)}
	case Many:
		out := make([]entity.Tracked, 0, fv.Len())
		for i := 0; i < fv.Len(); i++ {
			if el := fv.Index(i); !el.IsNil() {
				out = append(out, el.Interface().(entity.Tracked))
			}
		}
		return out
	}
	return nil
}
