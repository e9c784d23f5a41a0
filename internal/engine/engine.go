// Package engine replays queued mutations against the remote API.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldsync/internal/cache"
	"fieldsync/internal/kvstore"
	"fieldsync/internal/metrics"
	"fieldsync/internal/queue"
	"fieldsync/internal/remote"

	"go.uber.org/zap"
)

// KeyLastSync holds the epoch millis of the last completed drain
const KeyLastSync = "last_sync"

// ErrOffline is returned by Drain when connectivity is unavailable
var ErrOffline = errors.New("offline")

// Config controls retry and timeout behavior
type Config struct {
	// MaxRetries is the number of failed attempts after which a mutation is dead-lettered
	MaxRetries int
	// HandlerTimeout bounds a single remote call
	HandlerTimeout time.Duration
}

// DefaultConfig mirrors the historical retry budget of three attempts
func DefaultConfig() Config {
	return Config{MaxRetries: 3, HandlerTimeout: 30 * time.Second}
}

// Connectivity reports the cached online reading
type Connectivity interface {
	IsOnline() bool
}

// Result summarizes one drain pass
type Result struct {
	Processed int
	Succeeded int
	Retried   int
	Dropped   int
	Duration  time.Duration
}

// Engine drains the mutation queue
type Engine struct {
	config  Config
	store   kvstore.Store
	queue   *queue.Queue
	cache   *cache.Cache
	remote  remote.Client
	online  Connectivity
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	// drainMu keeps two drains from overlapping
	drainMu sync.Mutex
}

// New creates a sync engine. metrics may be nil.
func New(
	config Config,
	store kvstore.Store,
	q *queue.Queue,
	c *cache.Cache,
	client remote.Client,
	online Connectivity,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Engine {
	defaults := DefaultConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = defaults.HandlerTimeout
	}
	return &Engine{
		config:  config,
		store:   store,
		queue:   q,
		cache:   c,
		remote:  client,
		online:  online,
		metrics: metricsCollector,
		logger:  logger.With(zap.String("component", "engine")),
		now:     time.Now,
	}
}

// Drain processes the queue once in FIFO order. Successful mutations are
// removed, failed ones have their retry count bumped and are dead-lettered
// once it reaches MaxRetries. last_sync is written after every pass that
// ran, whatever the per-item outcome.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	if !e.online.IsOnline() {
		e.logger.Debug("Offline - skipping queue processing")
		e.observeDrain("offline", 0)
		return Result{}, ErrOffline
	}

	startTime := time.Now()
	records, err := e.queue.All(ctx)
	if err != nil {
		e.observeDrain("error", 0)
		return Result{}, fmt.Errorf("failed to read queue: %w", err)
	}

	var res Result
	outcome := queue.Outcome{
		Retry: make(map[string]string),
		Drop:  make(map[string]string),
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			e.logger.Info("Drain cancelled", zap.Int("remaining", len(records)-res.Processed))
			break
		}
		if !e.online.IsOnline() {
			e.logger.Info("Connectivity lost - stopping drain", zap.Int("remaining", len(records)-res.Processed))
			break
		}

		err := e.process(ctx, rec)
		if err != nil && ctx.Err() != nil {
			// interrupted locally, not rejected by the remote
			e.logger.Info("Drain cancelled", zap.String("id", rec.ID), zap.Int("remaining", len(records)-res.Processed))
			break
		}
		res.Processed++
		if err == nil {
			outcome.Remove = append(outcome.Remove, rec.ID)
			res.Succeeded++
			e.logger.Info("Mutation synced",
				zap.String("id", rec.ID),
				zap.String("action", string(rec.Action)),
			)
			continue
		}

		if rec.RetryCount+1 >= e.config.MaxRetries {
			outcome.Drop[rec.ID] = err.Error()
			res.Dropped++
			e.logger.Error("Mutation failed after all retries",
				zap.String("id", rec.ID),
				zap.String("action", string(rec.Action)),
				zap.Int("attempts", rec.RetryCount+1),
				zap.Error(err),
			)
			continue
		}

		outcome.Retry[rec.ID] = err.Error()
		res.Retried++
		e.logger.Warn("Mutation attempt failed",
			zap.String("id", rec.ID),
			zap.String("action", string(rec.Action)),
			zap.Int("attempt", rec.RetryCount+1),
			zap.Error(err),
		)
	}

	// Outcomes of calls already made must be recorded even if ctx was cancelled.
	persistCtx := context.WithoutCancel(ctx)

	committed, err := e.queue.Commit(persistCtx, outcome)
	if err != nil {
		e.observeDrain("error", 0)
		return res, fmt.Errorf("failed to commit drain outcome: %w", err)
	}
	e.settle(persistCtx, committed)

	if err := kvstore.SetJSON(persistCtx, e.store, KeyLastSync, e.now().UnixMilli()); err != nil {
		e.logger.Error("Failed to persist last sync time", zap.Error(err))
	}

	res.Duration = time.Since(startTime)
	e.observeDrain("ok", res.Duration)
	e.updateDepth(persistCtx)

	e.logger.Info("Processed offline queue",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("retried", res.Retried),
		zap.Int("dropped", res.Dropped),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// Exclusive runs fn while no drain is in flight and none can start
func (e *Engine) Exclusive(fn func() error) error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	return fn()
}

// process dispatches one record to the remote operation for its action
func (e *Engine) process(ctx context.Context, rec queue.Record) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.HandlerTimeout)
	defer cancel()

	startTime := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveHandler(string(rec.Action), time.Since(startTime))
		}
	}()

	switch rec.Action {
	case queue.ActionTaskUpdate:
		var p remote.TaskUpdate
		if err := decodePayload(rec, &p); err != nil {
			return err
		}
		return e.remote.UpdateTask(ctx, rec.ID, p)
	case queue.ActionLocationUpdate:
		var p remote.LocationUpdate
		if err := decodePayload(rec, &p); err != nil {
			return err
		}
		return e.remote.UpdateLocation(ctx, rec.ID, p)
	case queue.ActionPhotoUpload:
		var p remote.PhotoUpload
		if err := decodePayload(rec, &p); err != nil {
			return err
		}
		return e.remote.UploadPhoto(ctx, rec.ID, p)
	case queue.ActionTaskCompletion:
		var p remote.TaskCompletion
		if err := decodePayload(rec, &p); err != nil {
			return err
		}
		return e.remote.CompleteTask(ctx, rec.ID, p)
	default:
		return fmt.Errorf("%w: %q", queue.ErrUnknownAction, rec.Action)
	}
}

func decodePayload(rec queue.Record, v any) error {
	if len(rec.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", rec.Action)
	}
	if err := json.Unmarshal(rec.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", rec.Action, err)
	}
	return nil
}

// settle propagates committed outcomes to the cache and metrics
func (e *Engine) settle(ctx context.Context, committed queue.CommitResult) {
	for _, rec := range committed.Removed {
		e.incOutcome(rec, metrics.OutcomeSuccess)
		if rec.CacheKey != "" {
			e.setCacheStatus(ctx, rec, cache.StatusSynced)
		}
		if rec.Action == queue.ActionPhotoUpload {
			e.markPhotoSynced(ctx, rec)
		}
	}
	for _, rec := range committed.Retried {
		e.incOutcome(rec, metrics.OutcomeRetry)
	}
	for _, rec := range committed.Dropped {
		e.incOutcome(rec, metrics.OutcomeDropped)
		if rec.CacheKey != "" {
			e.setCacheStatus(ctx, rec, cache.StatusError)
		}
	}
}

func (e *Engine) setCacheStatus(ctx context.Context, rec queue.Record, status cache.Status) {
	if err := e.cache.SetStatus(ctx, rec.CacheKey, status); err != nil {
		e.logger.Warn("Failed to update cache status",
			zap.String("id", rec.ID),
			zap.String("cache_key", rec.CacheKey),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (e *Engine) markPhotoSynced(ctx context.Context, rec queue.Record) {
	var p remote.PhotoUpload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return
	}
	if _, err := e.cache.MarkPhotoSynced(ctx, p.TaskID, p.PhotoURI); err != nil {
		e.logger.Warn("Failed to mark photo synced",
			zap.String("task_id", p.TaskID),
			zap.String("uri", p.PhotoURI),
			zap.Error(err),
		)
	}
}

func (e *Engine) incOutcome(rec queue.Record, outcome string) {
	if e.metrics != nil {
		e.metrics.IncOutcome(string(rec.Action), outcome)
	}
}

func (e *Engine) observeDrain(result string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.ObserveDrain(result, d)
	}
}

func (e *Engine) updateDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	live, err := e.queue.Len(ctx)
	if err != nil {
		return
	}
	failed, err := e.queue.Failed(ctx)
	if err != nil {
		return
	}
	e.metrics.SetQueueDepth(live, len(failed))
}

// LastSync returns the time of the last completed drain, or nil if none ran
func LastSync(ctx context.Context, store kvstore.Store) (*int64, error) {
	var ms int64
	found, err := kvstore.GetJSON(ctx, store, KeyLastSync, &ms)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &ms, nil
}
