package orm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"realmdb/internal/entity"
	"realmdb/internal/orm"
	"realmdb/internal/schema"
	"realmdb/internal/store"
	"realmdb/internal/store/teststore"
)

type Item struct {
	entity.Base
	Key     string  `orm:"item_key,primary"`
	OwnerID string  `orm:"owner_id,notnull,index"`
	Count   int     `orm:"count"`
	Owner   *Player `rel:"local=owner_id,remote=name"`
}

func (i *Item) SetCount(n int) {
	i.Locked(func() { i.Count = n })
	i.MarkDirty()
}

type Player struct {
	entity.Base
	ID    int64   `orm:"id,autoinc"`
	Name  string  `orm:"name,notnull,unique,varchar=16"`
	Realm int     `orm:"realm,unique=slot"`
	Slot  int     `orm:"slot,unique=slot"`
	Level int     `orm:"level"`
	Items []*Item `rel:"local=name,remote=owner_id,autoload,autodelete"`
}

func (p *Player) SetLevel(n int) {
	p.Locked(func() { p.Level = n })
	p.MarkDirty()
}

type Template struct {
	entity.Base `orm:"precache"`
	ID          int64  `orm:"id,primary"`
	Name        string `orm:"name"`
}

type Effect struct {
	entity.Base `orm:"noautosave"`
	ID          int64 `orm:"id,autoinc"`
	Power       int   `orm:"power"`
}

// Timer пишется каждый цикл, даже без правок.
type Timer struct {
	entity.Base
	Name  string    `orm:"name,primary"`
	Until time.Time `orm:"until"`
}

func (t *Timer) IsDirty() bool { return true }

// Loot без хозяина не сохраняется.
type Loot struct {
	entity.Base
	ID    int64  `orm:"id,autoinc"`
	Owner string `orm:"owner"`
}

func (l *Loot) IsDirty() bool {
	return l.DirtyIf(func() bool { return l.Owner != "" })
}

type Sample struct {
	entity.Base
	ID    int64     `orm:"id,autoinc"`
	Name  string    `orm:"name"`
	Level int32     `orm:"level"`
	Rate  float64   `orm:"rate"`
	Alive bool      `orm:"alive"`
	Born  time.Time `orm:"born"`
	Blob  []byte    `orm:"blob"`
	Note  *string   `orm:"note"`
	Gold  uint32    `orm:"gold"`
}

// recorder запоминает, какие колонки уходят в Update.
type recorder struct {
	store.Store
	sets []store.Row
}

func (r *recorder) Update(ctx context.Context, t store.Table, key any, set store.Row) error {
	r.sets = append(r.sets, set.Clone())
	return r.Store.Update(ctx, t, key, set)
}

func newEngine(t *testing.T, st store.Store, opts orm.Options) *orm.Engine {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = schema.NewRegistry()
	}
	if opts.CacheLimit == 0 {
		opts.CacheLimit = 100
	}
	e := orm.New(zaptest.NewLogger(t), st, opts)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func setup(t *testing.T) (*orm.Engine, *teststore.Client) {
	t.Helper()
	st := teststore.New(nil)
	return newEngine(t, st, orm.Options{}), st
}

func rawRow(t *testing.T, e *orm.Engine, st store.Reader, x entity.Tracked, key any) (store.Row, error) {
	t.Helper()
	et, err := e.Type(x)
	require.NoError(t, err)
	return st.Get(context.Background(), et.StoreTable(), key)
}
