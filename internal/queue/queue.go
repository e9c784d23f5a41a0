// Package queue implements the durable FIFO of pending mutations.
//
// The whole list lives under a single key and every read-modify-write cycle
// runs in one store transaction, so enqueues that land while a drain is in
// flight are never lost or resurrected, even when they come from another
// process sharing the database.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldsync/internal/kvstore"

	"go.uber.org/zap"
)

const (
	// KeyQueue holds the JSON array of pending records
	KeyQueue = "offline_queue"
	// KeyFailed holds the JSON array of dead-lettered records
	KeyFailed = "offline_failed"
)

// Option customizes a record at enqueue time
type Option func(*Record)

// WithCacheKey links the mutation to the cache entry it settles
func WithCacheKey(key string) Option {
	return func(r *Record) { r.CacheKey = key }
}

// Outcome describes what a drain pass decided for each processed record
type Outcome struct {
	// Remove lists ids that succeeded
	Remove []string
	// Retry maps id to the error message of a failed, still retryable attempt
	Retry map[string]string
	// Drop maps id to the error message of the attempt that exhausted the budget
	Drop map[string]string
}

// Empty reports whether the outcome changes nothing
func (o Outcome) Empty() bool {
	return len(o.Remove) == 0 && len(o.Retry) == 0 && len(o.Drop) == 0
}

// CommitResult reports what Commit actually changed
type CommitResult struct {
	Removed []Record
	Retried []Record
	Dropped []Record
}

// Queue is the durable mutation queue
type Queue struct {
	store  kvstore.Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a queue persisted through store
func New(store kvstore.Store, logger *zap.Logger, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{
		store:  store,
		logger: logger.With(zap.String("component", "queue")),
		now:    now,
	}
}

// Enqueue appends a new record for action/payload and persists the queue
func (q *Queue) Enqueue(ctx context.Context, action Action, payload any, opts ...Option) (Record, error) {
	if !action.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return Record{}, err
	}

	now := q.now()
	rec := Record{
		ID:         newID(now),
		Action:     action,
		Payload:    raw,
		EnqueuedAt: now.UnixMilli(),
	}
	for _, opt := range opts {
		opt(&rec)
	}

	var length int
	err = q.store.Update(ctx, func(tx kvstore.Tx) error {
		records, err := q.load(ctx, tx, KeyQueue)
		if err != nil {
			return err
		}
		records = append(records, rec)
		length = len(records)
		if err := kvstore.SetJSON(ctx, tx, KeyQueue, records); err != nil {
			return fmt.Errorf("failed to persist queue: %w", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	q.logger.Debug("Enqueued mutation",
		zap.String("id", rec.ID),
		zap.String("action", string(rec.Action)),
		zap.Int("queue_length", length),
	)
	return rec, nil
}

// All returns every pending record in FIFO order
func (q *Queue) All(ctx context.Context) ([]Record, error) {
	return q.load(ctx, q.store, KeyQueue)
}

// Len returns the number of pending records
func (q *Queue) Len(ctx context.Context) (int, error) {
	records, err := q.All(ctx)
	return len(records), err
}

// Commit applies a drain outcome to the persisted queue. The list is re-read
// inside the transaction, so records appended after the drain took its
// snapshot survive untouched.
func (q *Queue) Commit(ctx context.Context, outcome Outcome) (CommitResult, error) {
	var res CommitResult
	if outcome.Empty() {
		return res, nil
	}

	remove := make(map[string]struct{}, len(outcome.Remove))
	for _, id := range outcome.Remove {
		remove[id] = struct{}{}
	}

	now := q.now().UnixMilli()
	err := q.store.Update(ctx, func(tx kvstore.Tx) error {
		res = CommitResult{}
		records, err := q.load(ctx, tx, KeyQueue)
		if err != nil {
			return err
		}
		kept := applyOutcome(records, outcome, remove, now, &res)

		if len(res.Dropped) > 0 {
			failed, err := q.load(ctx, tx, KeyFailed)
			if err != nil {
				return err
			}
			failed = append(failed, res.Dropped...)
			if err := kvstore.SetJSON(ctx, tx, KeyFailed, failed); err != nil {
				return fmt.Errorf("failed to persist dead letters: %w", err)
			}
		}

		if err := kvstore.SetJSON(ctx, tx, KeyQueue, kept); err != nil {
			return fmt.Errorf("failed to persist queue: %w", err)
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}
	return res, nil
}

// applyOutcome splits records by outcome into res and returns the ones that stay live
func applyOutcome(records []Record, outcome Outcome, remove map[string]struct{}, now int64, res *CommitResult) []Record {
	kept := make([]Record, 0, len(records))
	for _, rec := range records {
		if _, ok := remove[rec.ID]; ok {
			res.Removed = append(res.Removed, rec)
			continue
		}
		if msg, ok := outcome.Drop[rec.ID]; ok {
			rec.RetryCount++
			rec.LastError = msg
			rec.FailedAt = now
			res.Dropped = append(res.Dropped, rec)
			continue
		}
		if msg, ok := outcome.Retry[rec.ID]; ok {
			rec.RetryCount++
			rec.LastError = msg
			res.Retried = append(res.Retried, rec)
		}
		kept = append(kept, rec)
	}
	return kept
}

// Failed returns the dead-lettered records
func (q *Queue) Failed(ctx context.Context) ([]Record, error) {
	return q.load(ctx, q.store, KeyFailed)
}

// Requeue moves dead-lettered records back to the tail of the live queue with
// a fresh retry budget. An empty id requeues every dead letter. It returns the
// number of records moved.
func (q *Queue) Requeue(ctx context.Context, id string) (int, error) {
	moved := 0
	err := q.store.Update(ctx, func(tx kvstore.Tx) error {
		moved = 0
		failed, err := q.load(ctx, tx, KeyFailed)
		if err != nil {
			return err
		}
		records, err := q.load(ctx, tx, KeyQueue)
		if err != nil {
			return err
		}

		rest := []Record{}
		for _, rec := range failed {
			if id != "" && rec.ID != id {
				rest = append(rest, rec)
				continue
			}
			rec.RetryCount = 0
			rec.FailedAt = 0
			records = append(records, rec)
			moved++
		}
		if moved == 0 {
			return nil
		}

		if err := kvstore.SetJSON(ctx, tx, KeyQueue, records); err != nil {
			return fmt.Errorf("failed to persist queue: %w", err)
		}
		if err := kvstore.SetJSON(ctx, tx, KeyFailed, rest); err != nil {
			return fmt.Errorf("failed to persist dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// PurgeFailed discards every dead-lettered record
func (q *Queue) PurgeFailed(ctx context.Context) error {
	return q.store.Remove(ctx, KeyFailed)
}

// Clear removes the live queue and the dead letters
func (q *Queue) Clear(ctx context.Context) error {
	return q.store.Update(ctx, func(tx kvstore.Tx) error {
		return tx.Remove(ctx, KeyQueue, KeyFailed)
	})
}

// load reads a record list through r. A value that fails to decode is logged
// and treated as empty so a corrupt queue never wedges the app.
func (q *Queue) load(ctx context.Context, r kvstore.Reader, key string) ([]Record, error) {
	data, err := r.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if data == nil {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		q.logger.Error("Discarding unreadable record list",
			zap.String("key", key),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return []Record{}, nil
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		return data, nil
	}
}
