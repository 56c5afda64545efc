package schema

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"realmdb/internal/entity"
)

var (
	trackedType = reflect.TypeFor[entity.Tracked]()
	baseType    = reflect.TypeFor[entity.Base]()
	timeType    = reflect.TypeFor[time.Time]()
	bytesType   = reflect.TypeFor[[]byte]()
)

// Registry - реестр скомпилированных типов. Компиляция идёт под записывающей
// блокировкой, чтение готовых дескрипторов - под читающей.
type Registry struct {
	mu     sync.RWMutex
	types  map[reflect.Type]*EntityType
	tables map[string]*EntityType
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		types:  make(map[reflect.Type]*EntityType),
		tables: make(map[string]*EntityType),
	}
}

// Default - реестр процесса.
var Default = NewRegistry()

// Compile компилирует тип в реестре процесса.
func Compile(t reflect.Type) (*EntityType, error) { return Default.Compile(t) }

// For компилирует тип T (структуру, встроившую entity.Base).
func For[T any](r *Registry) (*EntityType, error) { return r.Compile(reflect.TypeFor[T]()) }

// Lookup возвращает уже скомпилированный тип.
func (r *Registry) Lookup(t reflect.Type) (*EntityType, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	et, ok := r.types[t]
	return et, ok
}

// Of компилирует тип экземпляра.
func (r *Registry) Of(e entity.Tracked) (*EntityType, error) {
	return r.Compile(reflect.TypeOf(e))
}

// Table ищет тип по имени таблицы.
func (r *Registry) Table(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	et, ok := r.tables[name]
	return et, ok
}

// Len - сколько типов в реестре. Реестр только растёт.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// All - все зарегистрированные типы, по имени таблицы.
func (r *Registry) All() []*EntityType {
	r.mu.RLock()
	out := make([]*EntityType, 0, len(r.types))
	for _, et := range r.types {
		out = append(out, et)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// Compile возвращает дескриптор типа, компилируя его (и все типы, на которые
// он ссылается) при первом обращении. Повторный вызов отдаёт тот же указатель.
// При ошибке ни один тип из этой компиляции не регистрируется.
func (r *Registry) Compile(t reflect.Type) (*EntityType, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil, Error.New("nil type")
	}
	if et, ok := r.Lookup(t); ok {
		return et, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if et, ok := r.types[t]; ok {
		return et, nil
	}

	c := &compiler{reg: r, pending: make(map[reflect.Type]*EntityType)}
	et, err := c.compile(t)
	if err != nil {
		return nil, err
	}

	tables := make(map[string]reflect.Type, len(c.order))
	for _, p := range c.order {
		if other, ok := r.tables[p.Table]; ok {
			return nil, Error.New("%s: table %q is already used by %s", p.Name, p.Table, other.Name)
		}
		if other, ok := tables[p.Table]; ok {
			return nil, Error.New("%s: table %q is already used by %s", p.Name, p.Table, other.Name())
		}
		tables[p.Table] = p.goType
	}
	for _, p := range c.order {
		r.types[p.goType] = p
		r.tables[p.Table] = p
	}
	return et, nil
}

type compiler struct {
	reg     *Registry
	pending map[reflect.Type]*EntityType // в процессе компиляции: колонки уже есть
	order   []*EntityType
}

type relField struct {
	field reflect.StructField
	index []int
}

func (c *compiler) compile(t reflect.Type) (*EntityType, error) {
	if et := c.reg.types[t]; et != nil {
		return et, nil
	}
	// цикл: отдаём частично собранный дескриптор, его колонки уже готовы
	if et := c.pending[t]; et != nil {
		return et, nil
	}
	if t.Kind() != reflect.Struct {
		return nil, Error.New("%s: not a struct", t)
	}
	if !reflect.PointerTo(t).Implements(trackedType) {
		return nil, Error.New("%s: does not embed entity.Base", t)
	}

	et := &EntityType{
		Name:     t.Name(),
		goType:   t,
		AutoSave: true,
		byName:   make(map[string]*Column),
		byField:  make(map[string]*Column),
	}
	w := &walker{et: et}
	if err := w.walk(t, nil, false); err != nil {
		return nil, err
	}
	if err := w.finish(); err != nil {
		return nil, err
	}

	c.pending[t] = et
	c.order = append(c.order, et)

	for _, rf := range w.rels {
		rel, err := c.relation(et, rf)
		if err != nil {
			return nil, err
		}
		et.Relations = append(et.Relations, rel)
	}
	return et, nil
}

func (c *compiler) relation(et *EntityType, rf relField) (*Relation, error) {
	f := rf.field
	where := et.Name + "." + f.Name
	if !f.IsExported() {
		return nil, Error.New("%s: relation field must be exported", where)
	}
	if _, ok := f.Tag.Lookup("orm"); ok {
		return nil, Error.New("%s: field has both orm and rel tags", where)
	}

	rel := &Relation{Name: f.Name, index: rf.index}
	var elem reflect.Type
	switch {
	case f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Struct:
		rel.Cardinality = One
		elem = f.Type.Elem()
	case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Pointer &&
		f.Type.Elem().Elem().Kind() == reflect.Struct:
		rel.Cardinality = Many
		elem = f.Type.Elem().Elem()
	default:
		return nil, Error.New("%s: relation field must be *T or []*T, got %s", where, f.Type)
	}

	opts := parseTag(f.Tag.Get("rel"), false)
	for _, k := range opts.keys {
		switch k {
		case "local", "remote", "autoload", "autodelete":
		default:
			return nil, Error.New("%s: unknown relation option %q", where, k)
		}
	}
	rel.AutoLoad = opts.has("autoload")
	rel.AutoDelete = opts.has("autodelete")

	target, err := c.compile(elem)
	if err != nil {
		return nil, Error.New("%s: target %s: %v", where, elem, err)
	}
	rel.Target = target

	if ref := opts.get("local"); ref != "" {
		rel.Local = et.Resolve(ref)
		if rel.Local == nil {
			return nil, Error.New("%s: local field %q not found on %s", where, ref, et.Name)
		}
	} else {
		rel.Local = et.key
	}

	ref := opts.get("remote")
	if ref == "" {
		return nil, Error.New("%s: relation needs remote=<field>", where)
	}
	rel.Remote = target.Resolve(ref)
	if rel.Remote == nil {
		return nil, Error.New("%s: remote field %q does not exist on %s", where, ref, target.Name)
	}
	return rel, nil
}

// walker собирает колонки одного типа (и встроенных inline-структур).
type walker struct {
	et     *EntityType
	rels   []relField
	table  string
	inline reflect.Type
}

func (w *walker) walk(t reflect.Type, prefix []int, inline bool) error {
	et := w.et
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		idx := append(append([]int(nil), prefix...), i)

		if f.Anonymous && f.Type == baseType {
			if inline {
				continue
			}
			if err := w.baseOptions(f.Tag.Get("orm")); err != nil {
				return err
			}
			continue
		}
		if _, ok := f.Tag.Lookup("rel"); ok {
			// копия в backup не тянет связи оригинала
			if !inline {
				w.rels = append(w.rels, relField{field: f, index: idx})
			}
			continue
		}
		tag, ok := f.Tag.Lookup("orm")
		if !ok || tag == "-" {
			continue
		}
		if !f.IsExported() {
			return Error.New("%s.%s: column field must be exported", et.Name, f.Name)
		}
		opts := parseTag(tag, true)

		if opts.has("inline") {
			if inline || w.inline != nil {
				return Error.New("%s.%s: only one level of inline is supported", et.Name, f.Name)
			}
			if f.Type.Kind() != reflect.Struct || !reflect.PointerTo(f.Type).Implements(trackedType) {
				return Error.New("%s.%s: inline field must be an entity struct", et.Name, f.Name)
			}
			w.inline = f.Type
			if err := w.walk(f.Type, idx, true); err != nil {
				return err
			}
			continue
		}

		col, err := buildColumn(et.Name, f, idx, opts)
		if err != nil {
			return err
		}
		if inline {
			col.Primary, col.AutoIncrement = false, false
			col.Unique, col.Group = false, ""
		}
		if err := w.add(col); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) baseOptions(tag string) error {
	et := w.et
	opts := parseTag(tag, false)
	for _, k := range opts.keys {
		switch k {
		case "table":
			w.table = strings.TrimSpace(opts.get("table"))
		case "precache":
			et.Cacheable = true
		case "noautosave":
			et.AutoSave = false
		case "backup":
			et.Backup = true
		default:
			return Error.New("%s: unknown table option %q", et.Name, k)
		}
	}
	return nil
}

func (w *walker) add(col *Column) error {
	et := w.et
	if _, dup := et.byName[col.Name]; dup {
		return Error.New("%s: duplicate column %q", et.Name, col.Name)
	}
	if col.Primary {
		if et.PrimaryKey != nil {
			return Error.New("%s: primary key declared more than once (%s, %s)", et.Name, et.PrimaryKey.Field, col.Field)
		}
		et.PrimaryKey = &PrimaryKey{Field: col.Field, Column: col.Name, AutoIncrement: col.AutoIncrement}
		et.key = col
	}
	et.Columns = append(et.Columns, col)
	et.byName[col.Name] = col
	et.byField[col.Field] = col
	return nil
}

// finish выбирает имя таблицы и ключ, добавляет колонку object id.
func (w *walker) finish() error {
	et := w.et
	switch {
	case w.table != "":
		et.Table = w.table
	case et.Backup:
		if w.inline == nil {
			return Error.New("%s: backup table needs an inline entity field", et.Name)
		}
		et.Table = tableOf(w.inline) + "_backup"
	case strings.ContainsAny(et.Name, "[]"):
		return Error.New("%s: generic type needs an explicit table name", et.Name)
	default:
		et.Table = SnakeCase(et.Name)
	}
	if et.Backup && w.inline == nil {
		return Error.New("%s: backup table needs an inline entity field", et.Name)
	}
	if len(et.Columns) == 0 && w.inline == nil {
		return Error.New("%s: no columns declared", et.Name)
	}

	if et.key != nil && et.key.AutoIncrement {
		return nil
	}
	oid := &Column{
		Name:      et.Table + "_id",
		Field:     "ObjectID",
		Kind:      KindString,
		MaxLength: 26,
		ObjectID:  true,
	}
	if other, dup := et.byName[oid.Name]; dup {
		if other == et.key {
			// ключ уже называется <table>_id
			return nil
		}
		return Error.New("%s: column %q collides with the object id column", et.Name, oid.Name)
	}
	if et.key == nil {
		et.key = oid
	}
	et.objectID = oid
	et.Columns = append([]*Column{oid}, et.Columns...)
	et.byName[oid.Name] = oid
	et.byField[oid.Field] = oid
	return nil
}

// tableOf - имя таблицы типа по тегу его Base, без компиляции.
func tableOf(t reflect.Type) string {
	if f, ok := t.FieldByName("Base"); ok && f.Type == baseType {
		if name := parseTag(f.Tag.Get("orm"), false).get("table"); name != "" {
			return name
		}
	}
	return SnakeCase(t.Name())
}

func buildColumn(owner string, f reflect.StructField, idx []int, opts tagOptions) (*Column, error) {
	where := owner + "." + f.Name
	col := &Column{
		Name:     opts.name,
		Field:    f.Name,
		Nullable: true,
		index:    idx,
	}
	if col.Name == "" {
		col.Name = SnakeCase(f.Name)
	}

	ft := f.Type
	if ft.Kind() == reflect.Pointer {
		col.pointer = true
		ft = ft.Elem()
	}
	kind, ok := kindOf(ft)
	if !ok {
		return nil, Error.New("%s: unsupported field type %s", where, f.Type)
	}
	col.Kind = kind

	for _, k := range opts.keys {
		v := opts.get(k)
		switch k {
		case "primary":
			col.Primary = true
		case "autoinc":
			col.Primary, col.AutoIncrement = true, true
		case "notnull":
			col.Nullable = false
		case "unique":
			if v == "true" {
				col.Unique = true
			} else {
				col.Group = v
			}
		case "index":
			if v == "true" {
				col.Indexed = true
			} else {
				col.IndexOf = v
			}
		case "varchar":
			n, ok := positiveInt(v)
			if !ok {
				return nil, Error.New("%s: bad varchar length %q", where, v)
			}
			if kind != KindString {
				return nil, Error.New("%s: varchar on %s field", where, kind)
			}
			col.MaxLength = n
		default:
			return nil, Error.New("%s: unknown column option %q", where, k)
		}
	}
	if col.AutoIncrement && kind != KindInt {
		return nil, Error.New("%s: autoinc needs an integer field", where)
	}
	if col.Primary {
		col.Nullable = false
	}
	return col, nil
}

func kindOf(t reflect.Type) (Kind, bool) {
	switch {
	case t == timeType:
		return KindTime, true
	case t == bytesType:
		return KindBytes, true
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt, true
	case reflect.Float32, reflect.Float64:
		return KindFloat, true
	case reflect.String:
		return KindString, true
	case reflect.Bool:
		return KindBool, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return KindBytes, true
		}
	}
	return 0, false
}
