// Package status reports how far the device is from being in sync.
package status

import (
	"context"
	"fmt"

	"fieldsync/internal/engine"
	"fieldsync/internal/kvstore"
	"fieldsync/internal/queue"
)

// Status is a point-in-time view of sync state
type Status struct {
	LastSync    *int64 `json:"lastSync"`    // epoch millis of the last drain, nil if none ran
	QueueCount  int    `json:"queueCount"`  // mutations waiting to sync
	FailedCount int    `json:"failedCount"` // dead-lettered mutations
	IsOnline    bool   `json:"isOnline"`
}

// Connectivity reports the cached online reading
type Connectivity interface {
	IsOnline() bool
}

// Reporter derives Status from persisted state on every call
type Reporter struct {
	store  kvstore.Store
	queue  *queue.Queue
	online Connectivity
}

// NewReporter creates a reporter
func NewReporter(store kvstore.Store, q *queue.Queue, online Connectivity) *Reporter {
	return &Reporter{store: store, queue: q, online: online}
}

// Status recomputes the current status. On a read error the returned
// Status still carries the connectivity reading.
func (r *Reporter) Status(ctx context.Context) (Status, error) {
	st := Status{IsOnline: r.online.IsOnline()}

	lastSync, err := engine.LastSync(ctx, r.store)
	if err != nil {
		return st, err
	}

	live, err := r.queue.Len(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to read queue: %w", err)
	}

	failed, err := r.queue.Failed(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to read dead letters: %w", err)
	}

	st.LastSync = lastSync
	st.QueueCount = live
	st.FailedCount = len(failed)
	return st, nil
}
