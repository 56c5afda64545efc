package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"realmdb/internal/entity"
	"realmdb/internal/orm"
	"realmdb/internal/schema"
	"realmdb/internal/sqlite"
	"realmdb/internal/sqlstore"
	"realmdb/internal/store"
)

type Hero struct {
	entity.Base
	ID     int64     `orm:"id,autoinc"`
	Name   string    `orm:"name,notnull,unique,varchar=24"`
	Level  int       `orm:"level"`
	Rate   float64   `orm:"rate"`
	Alive  bool      `orm:"alive"`
	Born   time.Time `orm:"born"`
	Avatar []byte    `orm:"avatar"`
	Title  *string   `orm:"title"`
	Bags   []*Bag    `rel:"local=name,remote=owner,autoload,autodelete"`
}

type Bag struct {
	entity.Base
	Code  string `orm:"code,primary"`
	Owner string `orm:"owner,notnull,index"`
	Slots int    `orm:"slots"`
}

func openTemp(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), zaptest.NewLogger(t), filepath.Join(t.TempDir(), "realm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func engine(t *testing.T, st *sqlstore.Store) *orm.Engine {
	t.Helper()
	e := orm.New(zaptest.NewLogger(t), st, orm.Options{Registry: schema.NewRegistry()})
	require.NoError(t, e.Register(&Hero{}, &Bag{}))
	require.NoError(t, st.Migrate(context.Background(), e.Registry().All()))
	return e
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open(context.Background(), zaptest.NewLogger(t), " ")
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := openTemp(t)
	e := engine(t, st)
	require.NoError(t, st.Migrate(context.Background(), e.Registry().All()))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	e := engine(t, st)

	title := "the Bold"
	born := time.Date(1190, 5, 17, 8, 30, 0, 120, time.UTC)
	h := &Hero{Name: "Gawain", Level: 7, Rate: 0.25, Alive: true, Born: born, Avatar: []byte{1, 2, 3}, Title: &title}
	require.NoError(t, e.Insert(ctx, h))
	require.NotZero(t, h.ID)

	other := engine(t, st)
	back, err := orm.Load[Hero](ctx, other, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gawain", back.Name)
	assert.Equal(t, 7, back.Level)
	assert.InDelta(t, 0.25, back.Rate, 1e-9)
	assert.True(t, back.Alive)
	assert.True(t, born.Equal(back.Born))
	assert.Equal(t, []byte{1, 2, 3}, back.Avatar)
	require.NotNil(t, back.Title)
	assert.Equal(t, title, *back.Title)
	assert.False(t, back.IsDirty())

	back.Locked(func() { back.Level = 8; back.Title = nil })
	back.MarkDirty()
	require.NoError(t, other.Update(ctx, back))

	row, err := st.Get(ctx, mustType(t, e, h).StoreTable(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), row["level"])
	assert.Nil(t, row["title"])
	assert.Equal(t, true, row["alive"])
}

func TestDuplicateKey(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	e := engine(t, st)

	require.NoError(t, e.Insert(ctx, &Bag{Code: "b1", Owner: "Gawain"}))
	err := e.Insert(ctx, &Bag{Code: "b1", Owner: "Gawain"})
	require.Error(t, err)
	assert.True(t, orm.ConstraintViolation.Has(err))
	fe, ok := orm.Fields(err)
	require.True(t, ok)
	assert.True(t, fe.Has(orm.ErrUniqueViolation))

	// сырая вставка в обход движка ловится индексом базы
	bt := mustType(t, e, &Hero{}).StoreTable()
	_, err = st.Insert(ctx, bt, store.Row{"name": "Lot", "level": int64(1)})
	require.NoError(t, err)
	_, err = st.Insert(ctx, bt, store.Row{"name": "Lot", "level": int64(2)})
	assert.True(t, store.ErrDuplicate.Has(err))
}

func TestTxRollback(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	e := engine(t, st)
	bt := mustType(t, e, &Bag{}).StoreTable()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Insert(ctx, bt, store.Row{"bag_id": "oid-t1", "code": "t1", "owner": "Kay", "slots": int64(1)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.Get(ctx, bt, "t1")
	assert.True(t, store.ErrNotFound.Has(err))
	assert.True(t, store.ErrNotFound.Has(st.Delete(ctx, bt, "t1")))
	assert.True(t, store.ErrNotFound.Has(st.Update(ctx, bt, "t1", store.Row{"slots": int64(2)})))
}

func TestPredicates(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	e := engine(t, st)
	bt := mustType(t, e, &Bag{}).StoreTable()
	for i, owner := range []string{"Kay", "Kay", "Bors", "Lot"} {
		code := string(rune('a' + i))
		_, err := st.Insert(ctx, bt, store.Row{"bag_id": "oid-" + code, "code": code, "owner": owner, "slots": int64(i * 5)})
		require.NoError(t, err)
	}

	codes := func(where ...store.Cond) []string {
		rows, err := st.Select(ctx, bt, store.Where(where...))
		require.NoError(t, err)
		var out []string
		for _, r := range rows {
			out = append(out, r["code"].(string))
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, codes())
	assert.Equal(t, []string{"a", "b"}, codes(store.Eq("owner", "Kay")))
	assert.Equal(t, []string{"c", "d"}, codes(store.Cond{Column: "owner", Op: store.OpNe, Values: []any{"Kay"}}))
	assert.Equal(t, []string{"b", "c"}, codes(
		store.Cond{Column: "slots", Op: store.OpGte, Values: []any{"5"}},
		store.Cond{Column: "slots", Op: store.OpLt, Values: []any{15}},
	))
	assert.Equal(t, []string{"a", "d"}, codes(store.In("code", "a", "d", "zz")))
	assert.Empty(t, codes(store.In("code")))

	n, err := st.Count(ctx, bt, store.Where(store.Eq("owner", "Kay")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = st.Select(ctx, bt, store.Where(store.Eq("nope", 1)))
	assert.Error(t, err)
}

func TestCascadeDelete(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)
	e := engine(t, st)

	h := &Hero{Name: "Tristan"}
	require.NoError(t, e.Insert(ctx, h))
	require.NoError(t, e.Insert(ctx, &Bag{Code: "x1", Owner: "Tristan"}))
	require.NoError(t, e.Insert(ctx, &Bag{Code: "x2", Owner: "Tristan"}))
	require.NoError(t, e.Insert(ctx, &Bag{Code: "y1", Owner: "Mark"}))

	back, err := orm.Load[Hero](ctx, e, h.ID)
	require.NoError(t, err)
	require.Len(t, back.Bags, 2)

	require.NoError(t, e.Delete(ctx, back))
	n, err := orm.Count[Bag](ctx, e)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = orm.Load[Hero](ctx, e, h.ID)
	assert.True(t, orm.NotFound.Has(err))
}

func mustType(t *testing.T, e *orm.Engine, x entity.Tracked) *schema.EntityType {
	t.Helper()
	et, err := e.Type(x)
	require.NoError(t, err)
	return et
}
