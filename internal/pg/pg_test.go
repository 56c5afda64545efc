package pg_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap/zaptest"

	"realmdb/internal/entity"
	"realmdb/internal/orm"
	"realmdb/internal/pg"
	"realmdb/internal/schema"
	"realmdb/internal/sqlstore"
	"realmdb/internal/store"
)

type Guild struct {
	entity.Base
	ID      int64     `orm:"id,autoinc"`
	Name    string    `orm:"name,notnull,unique,varchar=32"`
	Realm   int       `orm:"realm,index"`
	Members []*Member `rel:"local=name,remote=guild,autoload,autodelete"`
}

type Member struct {
	entity.Base `orm:"table=guild_member"`
	Nick        string `orm:"nick,primary"`
	Guild       string `orm:"guild,notnull,index"`
	Rank        int    `orm:"rank,unique=seat"`
	Seat        int    `orm:"seat,unique=seat"`
}

func TestDDL(t *testing.T) {
	reg := schema.NewRegistry()
	g, err := schema.For[Guild](reg)
	require.NoError(t, err)
	m, err := schema.For[Member](reg)
	require.NoError(t, err)

	stmts, err := sqlstore.DDL(pg.Dialect{}, []*schema.EntityType{g, m})
	require.NoError(t, err)
	all := strings.Join(stmts, ";\n")

	assert.Contains(t, all, `create table if not exists "guild"`)
	assert.Contains(t, all, `"id" bigint generated by default as identity primary key`)
	assert.Contains(t, all, `"name" varchar(32) not null`)
	assert.Contains(t, all, `"nick" text primary key`)
	assert.Contains(t, all, `"guild_member_id" varchar(26) not null`)
	assert.Contains(t, all, `create unique index if not exists "uq_guild_name" on "guild"("name")`)
	assert.Contains(t, all, `create index if not exists "ix_guild_realm" on "guild"("realm")`)
	assert.Contains(t, all, `create unique index if not exists "uq_guild_member_seat" on "guild_member"("rank", "seat")`)

	_, err = sqlstore.DDL(pg.Dialect{}, []*schema.EntityType{g, g})
	assert.Error(t, err)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$1", pg.Dialect{}.Placeholder(1))
	assert.Equal(t, "$12", pg.Dialect{}.Placeholder(12))
}

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("realm"),
		postgres.WithUsername("realm"),
		postgres.WithPassword("realm"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

func TestPostgresEngine(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	st, err := pg.Open(ctx, log, url, pg.Pool{})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	e := orm.New(log, st, orm.Options{Registry: schema.NewRegistry()})
	require.NoError(t, e.Register(&Guild{}, &Member{}))
	require.NoError(t, st.Migrate(ctx, e.Registry().All()))
	require.NoError(t, st.Migrate(ctx, e.Registry().All()))

	g := &Guild{Name: "Round Table", Realm: 1}
	require.NoError(t, e.Insert(ctx, g))
	require.NotZero(t, g.ID)
	require.NoError(t, e.Insert(ctx, &Member{Nick: "Kay", Guild: "Round Table", Rank: 1, Seat: 1}))
	require.NoError(t, e.Insert(ctx, &Member{Nick: "Bors", Guild: "Round Table", Rank: 1, Seat: 2}))

	err = e.Insert(ctx, &Member{Nick: "Lot", Guild: "Round Table", Rank: 1, Seat: 2})
	require.Error(t, err)
	assert.True(t, orm.ConstraintViolation.Has(err))

	back, err := orm.Load[Guild](ctx, e, g.ID)
	require.NoError(t, err)
	require.Len(t, back.Members, 2)

	found, err := orm.Find[Guild](ctx, e, store.Cond{Column: "realm", Op: store.OpGte, Values: []any{"1"}})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	require.NoError(t, e.Delete(ctx, back))
	n, err := orm.Count[Member](ctx, e)
	require.NoError(t, err)
	assert.Zero(t, n)
}
