// Package schema компилирует объявления сущностей (структуры с тегами orm/rel)
// в неизменяемые дескрипторы EntityType и держит их реестр.
package schema

import (
	"reflect"
	"sort"

	"github.com/zeebo/errs"

	"realmdb/internal/entity"
	"realmdb/internal/store"
)

// Error - противоречивое или некорректное объявление сущности.
var Error = errs.Class("schema")

// Kind - вид значения колонки.
type Kind int

const (
	KindInt Kind = iota + 1
	KindFloat
	KindString
	KindBool
	KindTime
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	}
	return "unknown"
}

// Cardinality связи.
type Cardinality int

const (
	One Cardinality = iota + 1
	Many
)

func (c Cardinality) String() string {
	if c == Many {
		return "many"
	}
	return "one"
}

// Column описывает одну хранимую колонку.
type Column struct {
	Name      string
	Field     string // имя поля Go; для колонки object id - "ObjectID"
	Kind      Kind
	Nullable  bool
	Unique    bool   // уникальна сама по себе
	Indexed   bool
	MaxLength int    // 0 - без ограничения
	Group     string // составной unique: колонки с одинаковой группой уникальны вместе
	IndexOf   string // составной индекс

	Primary       bool
	AutoIncrement bool
	ObjectID      bool // колонка внутреннего идентификатора экземпляра

	index   []int // путь к полю от корня структуры
	pointer bool  // поле - указатель, nil пишется как NULL
}

// PrimaryKey - объявленный первичный ключ.
type PrimaryKey struct {
	Field         string
	Column        string
	AutoIncrement bool
}

// Relation - связь с другой сущностью по равенству local == remote.
type Relation struct {
	Name        string // имя поля Go, в которое кладутся связанные объекты
	Local       *Column
	Remote      *Column
	Target      *EntityType
	Cardinality Cardinality
	AutoLoad    bool
	AutoDelete  bool

	index []int
}

// Index - индекс таблицы (одиночный или составной).
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// EntityType - скомпилированное описание хранимого типа. После регистрации не меняется.
type EntityType struct {
	Name       string // имя типа Go
	Table      string
	Columns    []*Column
	PrimaryKey *PrimaryKey
	Relations  []*Relation
	Cacheable  bool
	AutoSave   bool // значение гейта автосохранения по умолчанию
	Backup     bool

	goType   reflect.Type
	key      *Column
	objectID *Column
	byName   map[string]*Column
	byField  map[string]*Column
}

// Type - структура Go, которую описывает дескриптор.
func (et *EntityType) Type() reflect.Type { return et.goType }

// Column ищет колонку по имени колонки.
func (et *EntityType) Column(name string) *Column { return et.byName[name] }

// Resolve ищет колонку по имени колонки или по имени поля Go.
func (et *EntityType) Resolve(ref string) *Column {
	if c := et.byName[ref]; c != nil {
		return c
	}
	return et.byField[ref]
}

// Key - колонка, которой хранилище адресует строки: первичный ключ
// или, если его нет, колонка object id.
func (et *EntityType) Key() *Column { return et.key }

// ObjectIDColumn - колонка внутреннего идентификатора (nil для автоинкрементного ключа).
func (et *EntityType) ObjectIDColumn() *Column { return et.objectID }

// Relation ищет связь по имени поля.
func (et *EntityType) Relation(name string) *Relation {
	for _, r := range et.Relations {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// StoreTable - описание таблицы для хранилища.
func (et *EntityType) StoreTable() store.Table {
	cols := make([]string, len(et.Columns))
	for i, c := range et.Columns {
		cols[i] = c.Name
	}
	return store.Table{
		Name:          et.Table,
		Key:           et.key.Name,
		AutoIncrement: et.key.AutoIncrement,
		Columns:       cols,
	}
}

// UniqueSets - наборы колонок, значения которых должны быть уникальны:
// одиночные unique-колонки и составные группы.
func (et *EntityType) UniqueSets() [][]*Column {
	var out [][]*Column
	groups := map[string][]*Column{}
	var order []string
	for _, c := range et.Columns {
		if c.Unique {
			out = append(out, []*Column{c})
		}
		if c.Group != "" {
			if _, ok := groups[c.Group]; !ok {
				order = append(order, c.Group)
			}
			groups[c.Group] = append(groups[c.Group], c)
		}
	}
	for _, g := range order {
		out = append(out, groups[g])
	}
	return out
}

// Indexes - индексы для DDL: одиночные index/unique колонки и составные группы.
// Ключ не индексируется отдельно.
func (et *EntityType) Indexes() []Index {
	var out []Index
	idx := map[string][]string{}
	uniq := map[string][]string{}
	for _, c := range et.Columns {
		if c == et.key {
			continue
		}
		switch {
		case c.Unique:
			out = append(out, Index{Name: "uq_" + et.Table + "_" + c.Name, Columns: []string{c.Name}, Unique: true})
		case c.Indexed || c.ObjectID:
			out = append(out, Index{Name: "ix_" + et.Table + "_" + c.Name, Columns: []string{c.Name}, Unique: c.ObjectID})
		}
		if c.Group != "" {
			uniq[c.Group] = append(uniq[c.Group], c.Name)
		}
		if c.IndexOf != "" {
			idx[c.IndexOf] = append(idx[c.IndexOf], c.Name)
		}
	}
	for _, g := range sortedKeys(uniq) {
		out = append(out, Index{Name: "uq_" + et.Table + "_" + g, Columns: uniq[g], Unique: true})
	}
	for _, g := range sortedKeys(idx) {
		out = append(out, Index{Name: "ix_" + et.Table + "_" + g, Columns: idx[g]})
	}
	return out
}

// New создаёт пустой экземпляр типа.
func (et *EntityType) New() entity.Tracked {
	return reflect.New(et.goType).Interface().(entity.Tracked)
}

// Elem - адресуемое значение структуры за экземпляром. Паникует, если
// экземпляр другого типа.
func (et *EntityType) Elem(e entity.Tracked) reflect.Value {
	v := reflect.ValueOf(e)
	if v.Type() != reflect.PointerTo(et.goType) {
		panic("schema: " + v.Type().String() + " is not " + et.Name)
	}
	return v.Elem()
}

// Owns - экземпляр описывается этим дескриптором.
func (et *EntityType) Owns(e entity.Tracked) bool {
	return e != nil && reflect.TypeOf(e) == reflect.PointerTo(et.goType)
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
