package relation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"realmdb/internal/entity"
	"realmdb/internal/relation"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

type Account struct {
	entity.Base
	ID         int64        `orm:"id,autoinc"`
	Name       string       `orm:"name"`
	Characters []*Character `rel:"local=id,remote=account_id,autoload,autodelete"`
}

type Character struct {
	entity.Base
	ID        int64   `orm:"id,autoinc"`
	AccountID int64   `orm:"account_id,index"`
	Name      string  `orm:"name"`
	Items     []*Item `rel:"local=id,remote=owner_id,autodelete"`
	Bank      *Bank   `rel:"local=id,remote=owner_id,autoload"`
}

type Item struct {
	entity.Base
	Key     string `orm:"item_key,primary"`
	OwnerID int64  `orm:"owner_id,index"`
}

type Bank struct {
	entity.Base
	ID      int64 `orm:"id,autoinc"`
	OwnerID int64 `orm:"owner_id"`
	Gold    int64 `orm:"gold"`
}

type Guild struct {
	entity.Base
	Name    string    `orm:"name,primary"`
	Members []*Member `rel:"local=name,remote=guild,autoload"`
}

type Member struct {
	entity.Base
	Name  string `orm:"name,primary"`
	Guild string `orm:"guild"`
	Home  *Guild `rel:"local=guild,remote=name,autoload"`
}

// source - тот же путь, что у сессии движка: выборка IN и карта идентичности.
type source struct {
	st    store.Store
	calls map[string]int
	ids   map[string]entity.Tracked
}

func newSource(st store.Store) *source {
	return &source{st: st, calls: map[string]int{}, ids: map[string]entity.Tracked{}}
}

func (s *source) Related(ctx context.Context, et *schema.EntityType, col *schema.Column, values []any) ([]entity.Tracked, error) {
	s.calls[et.Table]++
	rows, err := s.st.Select(ctx, et.StoreTable(), store.Where(store.In(col.Name, values...)))
	if err != nil {
		return nil, err
	}
	out := make([]entity.Tracked, 0, len(rows))
	for _, row := range rows {
		key := row[et.Key().Name]
		id := et.Table + "/" + store.KeyString(key)
		if x, ok := s.ids[id]; ok {
			out = append(out, x)
			continue
		}
		x := et.New()
		oid, err := et.Fill(et.Elem(x), row)
		if err != nil {
			return nil, err
		}
		x.Tracker().Commit(oid, key, row, x.Tracker().Capture(func() {}))
		s.ids[id] = x
		out = append(out, x)
	}
	return out, nil
}

func insert(t *testing.T, st store.Store, et *schema.EntityType, e entity.Tracked) {
	t.Helper()
	row := et.Extract(et.Elem(e), e.Tracker().ObjectID())
	key, err := st.Insert(context.Background(), et.StoreTable(), row)
	require.NoError(t, err)
	require.NoError(t, et.Key().Set(et.Elem(e), key))
}

func TestAutoLoadIsBatched(t *testing.T) {
	ctx := context.Background()
	reg := schema.NewRegistry()
	accT, err := schema.For[Account](reg)
	require.NoError(t, err)
	chT := accT.Relation("Characters").Target
	bankT := chT.Relation("Bank").Target

	st := store.NewMemory()
	var owners []entity.Tracked
	for i := 0; i < 50; i++ {
		a := &Account{Name: "acc"}
		insert(t, st, accT, a)
		owners = append(owners, a)
		for j := 0; j < 2; j++ {
			c := &Character{AccountID: a.ID, Name: "ch"}
			insert(t, st, chT, c)
			insert(t, st, bankT, &Bank{OwnerID: c.ID, Gold: 10})
		}
	}

	src := newSource(st)
	r := relation.New(zaptest.NewLogger(t))
	require.NoError(t, r.AutoLoad(ctx, src, accT, owners))

	assert.Equal(t, 1, src.calls["character"], "one query for all 50 owners")
	assert.Equal(t, 1, src.calls["bank"], "nested autoload is batched too")
	assert.Zero(t, src.calls["item"], "items are not autoload")

	for _, o := range owners {
		a := o.(*Account)
		require.Len(t, a.Characters, 2)
		for _, c := range a.Characters {
			assert.Equal(t, a.ID, c.AccountID)
			require.NotNil(t, c.Bank)
			assert.Equal(t, c.ID, c.Bank.OwnerID)
			assert.Nil(t, c.Items)
		}
		assert.False(t, a.IsDirty(), "attaching relations does not dirty the owner")
	}
}

func TestOneRelationPicksLowestKey(t *testing.T) {
	ctx := context.Background()
	reg := schema.NewRegistry()
	chT, err := schema.For[Character](reg)
	require.NoError(t, err)
	bankT := chT.Relation("Bank").Target

	st := store.NewMemory()
	c := &Character{Name: "dup"}
	insert(t, st, chT, c)
	insert(t, st, bankT, &Bank{OwnerID: c.ID, Gold: 1})
	insert(t, st, bankT, &Bank{OwnerID: c.ID, Gold: 2})

	core, logs := observer.New(zap.WarnLevel)
	r := relation.New(zap.New(core))
	require.NoError(t, r.AutoLoad(ctx, newSource(st), chT, []entity.Tracked{c}))

	require.NotNil(t, c.Bank)
	assert.Equal(t, int64(1), c.Bank.Gold)
	assert.Equal(t, 1, logs.FilterMessageSnippet("several rows").Len())

	got, err := r.Resolve(ctx, newSource(st), chT, c, chT.Relation("Bank"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].(*Bank).Gold)
}

func TestAutoLoadCycleTerminates(t *testing.T) {
	ctx := context.Background()
	reg := schema.NewRegistry()
	gT, err := schema.For[Guild](reg)
	require.NoError(t, err)
	mT := gT.Relation("Members").Target

	st := store.NewMemory()
	g := &Guild{Name: "Wolves"}
	insert(t, st, gT, g)
	insert(t, st, mT, &Member{Name: "a", Guild: "Wolves"})
	insert(t, st, mT, &Member{Name: "b", Guild: "Wolves"})

	src := newSource(st)
	loaded, err := src.Related(ctx, gT, gT.Key(), []any{"Wolves"})
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	r := relation.New(zaptest.NewLogger(t))
	require.NoError(t, r.AutoLoad(ctx, src, gT, loaded))

	guild := loaded[0].(*Guild)
	require.Len(t, guild.Members, 2)
	for _, m := range guild.Members {
		assert.Same(t, guild, m.Home, "identity map closes the cycle")
	}
}

func TestResolveReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	reg := schema.NewRegistry()
	accT, err := schema.For[Account](reg)
	require.NoError(t, err)
	chT := accT.Relation("Characters").Target

	st := store.NewMemory()
	a := &Account{Name: "x"}
	insert(t, st, accT, a)
	insert(t, st, chT, &Character{AccountID: a.ID})

	r := relation.New(zaptest.NewLogger(t))
	got, err := r.Resolve(ctx, newSource(st), accT, a, accT.Relation("Characters"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, a.Characters, "Resolve does not touch the owner")

	got = append(got, &Character{})
	again, err := r.Resolve(ctx, newSource(st), accT, a, accT.Relation("Characters"))
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestFillAllIncludesLazyRelations(t *testing.T) {
	ctx := context.Background()
	reg := schema.NewRegistry()
	chT, err := schema.For[Character](reg)
	require.NoError(t, err)
	itemT := chT.Relation("Items").Target

	st := store.NewMemory()
	c := &Character{Name: "x"}
	insert(t, st, chT, c)
	insert(t, st, itemT, &Item{Key: "sword", OwnerID: c.ID})
	insert(t, st, itemT, &Item{Key: "axe", OwnerID: c.ID})

	r := relation.New(zaptest.NewLogger(t))
	require.NoError(t, r.AutoLoad(ctx, newSource(st), chT, []entity.Tracked{c}))
	assert.Nil(t, c.Items)

	require.NoError(t, r.FillAll(ctx, newSource(st), chT, []entity.Tracked{c}))
	require.Len(t, c.Items, 2)
	assert.Equal(t, "axe", c.Items[0].Key, "ordered by key")
}

func TestPlanIsDepthFirst(t *testing.T) {
	ctx := context.Background()
	reg := schema.NewRegistry()
	accT, err := schema.For[Account](reg)
	require.NoError(t, err)
	chT := accT.Relation("Characters").Target
	itemT := chT.Relation("Items").Target
	bankT := chT.Relation("Bank").Target

	st := store.NewMemory()
	a := &Account{Name: "x"}
	insert(t, st, accT, a)
	c := &Character{AccountID: a.ID}
	insert(t, st, chT, c)
	insert(t, st, itemT, &Item{Key: "i1", OwnerID: c.ID})
	insert(t, st, itemT, &Item{Key: "i2", OwnerID: c.ID})
	insert(t, st, bankT, &Bank{OwnerID: c.ID})

	row, err := st.Get(ctx, accT.StoreTable(), a.ID)
	require.NoError(t, err)

	r := relation.New(zaptest.NewLogger(t))
	steps, err := r.Plan(ctx, st, accT, row)
	require.NoError(t, err)

	var got []string
	for _, s := range steps {
		got = append(got, s.Type.Table+":"+store.KeyString(s.Key))
	}
	// bank не autodelete
	assert.Equal(t, []string{"item:i1", "item:i2", "character:1", "account:1"}, got)
}
