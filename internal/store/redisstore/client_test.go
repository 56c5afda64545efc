package redisstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmdb/internal/store"
	"realmdb/internal/store/redisstore"
)

var characters = store.Table{
	Name:          "character",
	Key:           "id",
	AutoIncrement: true,
	Columns:       []string{"id", "name", "level", "created", "portrait"},
}

func open(t *testing.T) *redisstore.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisstore.OpenClientFrom(context.Background(), "redis://"+mr.Addr()+"?db=0&prefix=test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := open(t)

	created := time.Date(2024, 5, 1, 12, 30, 0, 123000000, time.UTC)
	key, err := client.Insert(ctx, characters, store.Row{
		"name":     "Arwen",
		"level":    12,
		"created":  created,
		"portrait": []byte{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), key)

	row, err := client.Get(ctx, characters, key)
	require.NoError(t, err)
	assert.Equal(t, "Arwen", row["name"])
	assert.Equal(t, int64(12), row["level"])
	assert.True(t, created.Equal(row["created"].(time.Time)))
	assert.Equal(t, []byte{1, 2, 3}, row["portrait"])

	require.NoError(t, client.Update(ctx, characters, key, store.Row{"level": 13}))
	row, err = client.Get(ctx, characters, int64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(13), row["level"])
	assert.Equal(t, "Arwen", row["name"])

	require.NoError(t, client.Delete(ctx, characters, key))
	_, err = client.Get(ctx, characters, key)
	assert.True(t, store.ErrNotFound.Has(err))
	assert.True(t, store.ErrNotFound.Has(client.Delete(ctx, characters, key)))
}

func TestAutoIncrementAndDuplicates(t *testing.T) {
	ctx := context.Background()
	client := open(t)

	_, err := client.Insert(ctx, characters, store.Row{"id": 5, "name": "a"})
	require.NoError(t, err)
	_, err = client.Insert(ctx, characters, store.Row{"id": 5, "name": "b"})
	assert.True(t, store.ErrDuplicate.Has(err))

	key, err := client.Insert(ctx, characters, store.Row{"name": "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), key)
}

func TestSelectAndCount(t *testing.T) {
	ctx := context.Background()
	client := open(t)
	for _, lvl := range []int{30, 10, 20} {
		_, err := client.Insert(ctx, characters, store.Row{"name": "x", "level": lvl})
		require.NoError(t, err)
	}

	rows, err := client.Select(ctx, characters, store.Where(store.Cond{Column: "level", Op: store.OpGt, Values: []any{15}}))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, int64(3), rows[1]["id"])

	n, err := client.Count(ctx, characters, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = client.Count(ctx, characters, store.Where(store.Eq("level", 10)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	client := open(t)
	key, err := client.Insert(ctx, characters, store.Row{"name": "keep"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = client.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Delete(ctx, characters, key); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	row, err := client.Get(ctx, characters, key)
	require.NoError(t, err)
	assert.Equal(t, "keep", row["name"])
}

func TestInvalidAddress(t *testing.T) {
	_, err := redisstore.OpenClientFrom(context.Background(), "http://localhost:6379")
	assert.True(t, redisstore.Error.Has(err))
}
