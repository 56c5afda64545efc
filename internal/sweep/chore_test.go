package sweep_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"realmdb/internal/entity"
	"realmdb/internal/orm"
	"realmdb/internal/schema"
	"realmdb/internal/store/teststore"
	"realmdb/internal/sweep"
)

type Knight struct {
	entity.Base
	ID   int64 `orm:"id,autoinc"`
	Gold int   `orm:"gold"`
}

type Banner struct {
	entity.Base `orm:"noautosave"`
	ID          int64  `orm:"id,autoinc"`
	Motto       string `orm:"motto"`
}

func TestChoreSavesDirtyInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := teststore.New(nil)
	e := orm.New(zaptest.NewLogger(t), st, orm.Options{Registry: schema.NewRegistry()})
	k := &Knight{Gold: 1}
	b := &Banner{Motto: "a"}
	require.NoError(t, e.Insert(ctx, k))
	require.NoError(t, e.Insert(ctx, b))

	chore := sweep.NewChore(zaptest.NewLogger(t), e, sweep.Config{Interval: time.Hour})
	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		runErr = chore.Run(ctx)
	}()

	k.Locked(func() { k.Gold = 2 })
	k.MarkDirty()
	b.Locked(func() { b.Motto = "b" })
	b.MarkDirty()

	chore.Loop.TriggerWait()
	assert.False(t, k.IsDirty())
	assert.True(t, b.IsDirty(), "noautosave waits for the final flush")

	cancel()
	wg.Wait()
	require.NoError(t, runErr)

	require.NoError(t, chore.Flush(context.Background()))
	assert.False(t, b.IsDirty())
}

type failing struct{ calls int }

func (f *failing) SaveAll(context.Context, bool) (int, error) {
	f.calls++
	return 0, errors.New("storage down")
}

func TestChoreSurvivesFailedCycle(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	saver := &failing{}
	chore := sweep.NewChore(zap.New(core), saver, sweep.Config{Interval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- chore.Run(context.Background()) }()

	chore.Loop.TriggerWait()
	chore.Loop.Stop()
	require.NoError(t, <-done)

	assert.Equal(t, 2, saver.calls)
	assert.Equal(t, 2, logs.FilterMessage("autosave cycle failed").Len())
}
