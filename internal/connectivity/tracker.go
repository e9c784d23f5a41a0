// Package connectivity tracks whether the backend is reachable and turns the
// offline->online edge into a drain trigger.
package connectivity

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Signal is a platform source of connectivity readings. Run reports every
// reading it observes and blocks until ctx is done.
type Signal interface {
	Run(ctx context.Context, report func(online bool)) error
}

type subscriber struct {
	id int
	fn func(online bool)
}

// Tracker holds the cached online state and its observers
type Tracker struct {
	logger *zap.Logger
	signal Signal

	// notifyMu orders fan-outs the same way as the state changes they report
	notifyMu sync.Mutex

	mu          sync.Mutex
	online      bool
	subs        []subscriber
	nextID      int
	slotID      int
	onReconnect func()

	initOnce sync.Once
}

// NewTracker creates a tracker that assumes it is online until told otherwise.
// signal may be nil when readings are pushed with Set.
func NewTracker(signal Signal, logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger.With(zap.String("component", "connectivity")),
		signal: signal,
		online: true,
	}
}

// Initialize starts the signal source. Only the first call has any effect.
func (t *Tracker) Initialize(ctx context.Context) {
	t.initOnce.Do(func() {
		if t.signal == nil {
			return
		}
		go func() {
			if err := t.signal.Run(ctx, t.Set); err != nil && ctx.Err() == nil {
				t.logger.Error("Connectivity signal stopped", zap.Error(err))
				t.Set(false)
			}
		}()
	})
}

// OnReconnect registers the hook fired on every offline->online edge
func (t *Tracker) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReconnect = fn
}

// Subscribe registers fn for every transition and returns its cancel func
func (t *Tracker) Subscribe(fn func(online bool)) func() {
	t.mu.Lock()
	id := t.addLocked(fn)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.removeLocked(id)
	}
}

// SetOnlineCallback fills the single legacy observer slot, replacing any
// callback registered through it before. Subscribe observers are unaffected.
func (t *Tracker) SetOnlineCallback(fn func(online bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.slotID != 0 {
		t.removeLocked(t.slotID)
	}
	if fn != nil {
		t.slotID = t.addLocked(fn)
	}
}

func (t *Tracker) addLocked(fn func(online bool)) int {
	t.nextID++
	t.subs = append(t.subs, subscriber{id: t.nextID, fn: fn})
	return t.nextID
}

func (t *Tracker) removeLocked(id int) {
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			break
		}
	}
	if t.slotID == id {
		t.slotID = 0
	}
}

// IsOnline returns the cached reading
func (t *Tracker) IsOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Set records a reading. Repeated readings are ignored; a change notifies
// every observer and a false->true change fires the reconnect hook.
// Observers must not call Set.
func (t *Tracker) Set(online bool) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.online == online {
		t.mu.Unlock()
		return
	}
	t.online = online
	subs := make([]subscriber, len(t.subs))
	copy(subs, t.subs)
	reconnect := t.onReconnect
	t.mu.Unlock()

	t.logger.Info("Connectivity changed", zap.Bool("online", online))

	for _, s := range subs {
		t.notify(s, online)
	}

	if online && reconnect != nil {
		t.logger.Info("Back online, triggering queue drain")
		reconnect()
	}
}

func (t *Tracker) notify(s subscriber, online bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Connectivity observer panicked", zap.Any("panic", r))
		}
	}()
	s.fn(online)
}
