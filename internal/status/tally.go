package status

import (
	"sync"
	"time"

	"fieldsync/internal/engine"
)

// Totals accumulates drain results since the process started
type Totals struct {
	Drains      int64
	Succeeded   int64
	Retried     int64
	Dropped     int64
	OfflineRuns int64
	Errors      int64
	StartTime   time.Time
	LastDrain   time.Time
}

// Tally tracks drain results for the live display
type Tally struct {
	mu     sync.RWMutex
	totals Totals
}

// NewTally creates an empty tally
func NewTally() *Tally {
	return &Tally{totals: Totals{StartTime: time.Now()}}
}

// Observe records one drain attempt. It matches the runner's OnDrain hook.
func (t *Tally) Observe(res engine.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case err == nil:
		t.totals.Drains++
		t.totals.Succeeded += int64(res.Succeeded)
		t.totals.Retried += int64(res.Retried)
		t.totals.Dropped += int64(res.Dropped)
		t.totals.LastDrain = time.Now()
	case isOffline(err):
		t.totals.OfflineRuns++
	default:
		t.totals.Errors++
	}
}

// Totals returns a copy of the accumulated counters
func (t *Tally) Totals() Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totals
}
