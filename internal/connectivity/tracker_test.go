package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu   sync.Mutex
	seen []bool
}

func (r *recorder) record(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, online)
}

func (r *recorder) values() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.seen...)
}

func TestTracker_DefaultsOnline(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	assert.True(t, tr.IsOnline())
}

func TestTracker_NotifiesEveryTransitionOnce(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	var a, b recorder
	tr.Subscribe(a.record)
	tr.Subscribe(b.record)

	tr.Set(true) // unchanged
	tr.Set(false)
	tr.Set(false)
	tr.Set(true)

	assert.Equal(t, []bool{false, true}, a.values())
	assert.Equal(t, []bool{false, true}, b.values())
}

func TestTracker_ReconnectFiresOnlyOnRisingEdge(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	var drains atomic.Int32
	tr.OnReconnect(func() { drains.Add(1) })

	tr.Set(false)
	assert.Equal(t, int32(0), drains.Load())

	tr.Set(true)
	assert.Equal(t, int32(1), drains.Load())

	tr.Set(true)
	assert.Equal(t, int32(1), drains.Load())
}

func TestTracker_Unsubscribe(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	var r recorder
	cancel := tr.Subscribe(r.record)

	tr.Set(false)
	cancel()
	tr.Set(true)

	assert.Equal(t, []bool{false}, r.values())
}

func TestTracker_LegacySlotLastRegistrationWins(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	var first, second, listener recorder
	tr.Subscribe(listener.record)
	tr.SetOnlineCallback(first.record)
	tr.SetOnlineCallback(second.record)

	tr.Set(false)

	assert.Empty(t, first.values())
	assert.Equal(t, []bool{false}, second.values())
	assert.Equal(t, []bool{false}, listener.values())

	tr.SetOnlineCallback(nil)
	tr.Set(true)
	assert.Equal(t, []bool{false}, second.values())
	assert.Equal(t, []bool{false, true}, listener.values())
}

func TestTracker_ObserverPanicDoesNotStopOthers(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	var r recorder
	tr.Subscribe(func(bool) { panic("boom") })
	tr.Subscribe(r.record)

	tr.Set(false)
	assert.Equal(t, []bool{false}, r.values())
}

func TestTracker_InitializeRunsSignalOnce(t *testing.T) {
	sig := NewManualSignal(false)
	tr := NewTracker(sig, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.Initialize(ctx)
	tr.Initialize(ctx)

	require.Eventually(t, func() bool { return !tr.IsOnline() }, time.Second, 5*time.Millisecond)

	sig.Set(true)
	assert.True(t, tr.IsOnline())
}

func TestTracker_ConcurrentSetsDeliverInStateOrder(t *testing.T) {
	tr := NewTracker(nil, zap.NewNop())
	rec := &recorder{}
	tr.Subscribe(func(online bool) {
		// widen the window between state change and delivery
		time.Sleep(50 * time.Microsecond)
		rec.record(online)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.Set((i+j)%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	seen := rec.values()
	require.NotEmpty(t, seen)
	assert.Equal(t, tr.IsOnline(), seen[len(seen)-1])
	// online starts true, so deliveries alternate beginning with false
	for i, v := range seen {
		assert.Equal(t, i%2 == 1, v, "delivery %d", i)
	}
}
