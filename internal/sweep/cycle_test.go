package sweep_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmdb/internal/sweep"
)

func TestCycleTriggerAndStop(t *testing.T) {
	cycle := sweep.NewCycle(time.Hour)
	var runs int64
	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&runs, 1)
			return nil
		})
	}()

	cycle.TriggerWait()
	cycle.TriggerWait()
	assert.EqualValues(t, 3, atomic.LoadInt64(&runs), "first pass plus two triggers")

	cycle.Stop()
	require.NoError(t, <-done)

	// после остановки вызовы не блокируются
	cycle.TriggerWait()
	cycle.Stop()
}

func TestCycleStopsOnError(t *testing.T) {
	cycle := sweep.NewCycle(time.Millisecond)
	boom := errors.New("boom")
	var runs int64
	err := cycle.Run(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt64(&runs, 1) == 3 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 3, atomic.LoadInt64(&runs))
}

func TestCycleCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cycle := sweep.NewCycle(time.Hour)
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(ctx, func(ctx context.Context) error {
			select {
			case <-started:
			default:
				close(started)
			}
			return nil
		})
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
