package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldsync/internal/queue"
	"fieldsync/internal/remote"
)

func TestRunner_TriggerDrains(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, queue.ActionTaskUpdate, remote.TaskUpdate{TaskID: "t1"})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r := NewRunner(h.engine, 0, zap.NewNop())
	r.Start(ctx, &wg)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	r.Trigger()

	require.Eventually(t, func() bool {
		n, err := h.queue.Len(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.remote.Calls(), 1)
}

func TestRunner_TriggersCoalesce(t *testing.T) {
	h := newHarness(t, nil)

	var drains atomic.Int32
	r := NewRunner(h.engine, 0, zap.NewNop())
	r.OnDrain(func(Result, error) { drains.Add(1) })

	for i := 0; i < 10; i++ {
		r.Trigger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r.Start(ctx, &wg)

	require.Eventually(t, func() bool { return drains.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), drains.Load())

	cancel()
	wg.Wait()
}

func TestRunner_PeriodicDrain(t *testing.T) {
	h := newHarness(t, nil)

	var drains atomic.Int32
	r := NewRunner(h.engine, 10*time.Millisecond, zap.NewNop())
	r.OnDrain(func(Result, error) { drains.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r.Start(ctx, &wg)

	require.Eventually(t, func() bool { return drains.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestRunner_OfflineDrainReported(t *testing.T) {
	h := newHarness(t, nil)
	h.online.Set(false)

	errs := make(chan error, 1)
	r := NewRunner(h.engine, 0, zap.NewNop())
	r.OnDrain(func(_ Result, err error) { errs <- err })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r.Start(ctx, &wg)
	r.Trigger()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrOffline)
	case <-time.After(2 * time.Second):
		t.Fatal("drain not reported")
	}

	cancel()
	wg.Wait()
}
