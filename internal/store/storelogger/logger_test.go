package storelogger_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"realmdb/internal/store"
	"realmdb/internal/store/storelogger"
)

var guilds = store.Table{Name: "guild", Key: "id", AutoIncrement: true, Columns: []string{"id", "name"}}

func TestLoggerPassesThrough(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	st := storelogger.New(zap.New(core), store.NewMemory())

	key, err := st.Insert(ctx, guilds, store.Row{"name": "Avalon"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), key)

	row, err := st.Get(ctx, guilds, key)
	require.NoError(t, err)
	assert.Equal(t, "Avalon", row["name"])

	rows, err := st.Select(ctx, guilds, store.Where(store.Eq("name", "Avalon")))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
		assert.True(t, strings.HasPrefix(e.LoggerName, "store."), e.LoggerName)
	}
	assert.Equal(t, []string{"Insert", "Get", "Select"}, msgs)
	assert.Equal(t, "guild", logs.All()[0].ContextMap()["table"])
}

func TestLoggerTxRollback(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	st := storelogger.New(zap.New(core), store.NewMemory())

	_, err := st.Insert(ctx, guilds, store.Row{"name": "Avalon"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Insert(ctx, guilds, store.Row{"name": "Camelot"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := st.Count(ctx, guilds, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "rolled back insert is gone")

	assert.Equal(t, 1, logs.FilterMessage("Begin").Len())
	assert.Equal(t, 1, logs.FilterMessage("Rollback").Len())
	assert.Zero(t, logs.FilterMessage("Commit").Len())
	inTx := logs.FilterMessage("Insert").FilterField(zap.String("table", "guild")).All()
	require.Len(t, inTx, 2)
	assert.True(t, strings.HasSuffix(inTx[1].LoggerName, ".tx"), inTx[1].LoggerName)
}
