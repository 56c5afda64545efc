package schema_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmdb/internal/entity"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

type Mob struct {
	entity.Base
	ID      uint32     `orm:"id,autoinc"`
	Name    string     `orm:"name"`
	Speed   float32    `orm:"speed"`
	Boss    bool       `orm:"boss"`
	Respawn *time.Time `orm:"respawn"`
	Loot    []byte     `orm:"loot"`
	Note    *string    `orm:"note"`
}

func TestExtractFill(t *testing.T) {
	reg := schema.NewRegistry()
	et, err := schema.For[Mob](reg)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	m := &Mob{ID: 7, Name: "wolf", Speed: 1.5, Boss: true, Respawn: &at, Loot: []byte{9}}

	row := et.Extract(et.Elem(m), "")
	assert.Equal(t, int64(7), row["id"])
	assert.Equal(t, "wolf", row["name"])
	assert.Equal(t, float64(1.5), row["speed"])
	assert.Equal(t, true, row["boss"])
	assert.Equal(t, at.UTC(), row["respawn"])
	assert.Equal(t, []byte{9}, row["loot"])
	assert.Nil(t, row["note"])

	var back Mob
	_, err = et.Fill(et.Elem(&back), store.Row{
		"id":      "7",
		"name":    "wolf",
		"speed":   int64(2),
		"boss":    int64(1),
		"respawn": at.UTC().Format(time.RFC3339Nano),
		"loot":    nil,
		"note":    "rare",
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(7), back.ID)
	assert.Equal(t, float32(2), back.Speed)
	assert.True(t, back.Boss)
	require.NotNil(t, back.Respawn)
	assert.True(t, at.Equal(*back.Respawn))
	assert.Nil(t, back.Loot)
	require.NotNil(t, back.Note)
	assert.Equal(t, "rare", *back.Note)

	_, err = et.Fill(et.Elem(&back), store.Row{"boss": "maybe"})
	assert.True(t, schema.Error.Has(err))
}

func TestFillReturnsObjectID(t *testing.T) {
	reg := schema.NewRegistry()
	et, err := schema.For[Item](reg)
	require.NoError(t, err)

	it := &Item{Key: "sword1", OwnerID: "playerA", Count: 1}
	row := et.Extract(et.Elem(it), it.ObjectID())
	assert.Equal(t, it.ObjectID(), row["inventory_id"])

	var back Item
	id, err := et.Fill(et.Elem(&back), row)
	require.NoError(t, err)
	assert.Equal(t, it.ObjectID(), id)
	assert.Equal(t, "sword1", back.Key)
	assert.Equal(t, 1, back.Count)

	assert.Equal(t, "sword1", et.KeyOf(it))
	assert.Equal(t, "playerA", et.ValueOf(it, et.Column("owner_id")))
}

func TestEmpty(t *testing.T) {
	assert.True(t, schema.Empty(nil))
	assert.True(t, schema.Empty(""))
	assert.True(t, schema.Empty(time.Time{}))
	assert.False(t, schema.Empty(int64(0)))
	assert.False(t, schema.Empty(false))
	assert.False(t, schema.Empty("x"))
}

func TestAttach(t *testing.T) {
	reg := schema.NewRegistry()
	acc, err := schema.For[Account](reg)
	require.NoError(t, err)

	a := &Account{ID: 1}
	c1, c2 := &Character{Name: "a"}, &Character{Name: "b"}

	rel := acc.Relation("Characters")
	rel.Attach(acc.Elem(a), []entity.Tracked{c1, c2})
	assert.Equal(t, []*Character{c1, c2}, a.Characters)
	assert.Len(t, rel.Attached(acc.Elem(a)), 2)

	back := rel.Target.Relation("Account")
	back.Attach(rel.Target.Elem(c1), []entity.Tracked{a})
	assert.Same(t, a, c1.Account)
	back.Attach(rel.Target.Elem(c1), nil)
	assert.Nil(t, c1.Account)
	assert.Empty(t, back.Attached(rel.Target.Elem(c1)))
}
