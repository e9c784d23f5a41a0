// Package app wires the offline sync subsystem into one instance with the
// operations UI code calls.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldsync/internal/cache"
	"fieldsync/internal/config"
	"fieldsync/internal/connectivity"
	"fieldsync/internal/engine"
	"fieldsync/internal/kvstore"
	"fieldsync/internal/metrics"
	"fieldsync/internal/queue"
	"fieldsync/internal/remote"
	"fieldsync/internal/status"
	"fieldsync/internal/storage"

	"go.uber.org/zap"
)

// ErrNoRemote is returned by operations that need a remote when none is configured
var ErrNoRemote = errors.New("no remote configured")

// Deps are the collaborators an App is assembled from
type Deps struct {
	Store  kvstore.Store
	Signal connectivity.Signal
	// Manual, when set, is also the Signal and receives SetOnline calls
	Manual  *connectivity.ManualSignal
	Remote  remote.Client
	Metrics *metrics.Collector
	Logger  *zap.Logger
	Now     func() time.Time

	Sync         engine.Config
	SyncInterval time.Duration
	MetricsAddr  string
}

// App is one offline sync instance
type App struct {
	logger   *zap.Logger
	store    kvstore.Store
	queue    *queue.Queue
	cache    *cache.Cache
	tracker  *connectivity.Tracker
	manual   *connectivity.ManualSignal
	engine   *engine.Engine
	runner   *engine.Runner
	reporter *status.Reporter
	tally    *status.Tally
	metrics  *metrics.Collector

	metricsAddr string

	initOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
	closeMu  sync.Mutex
}

// New creates an App from configuration
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := kvstore.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	deps := Deps{
		Store:        store,
		Metrics:      metrics.New(),
		Logger:       logger,
		SyncInterval: cfg.Sync.Interval,
		MetricsAddr:  cfg.Metrics.Addr,
		Sync: engine.Config{
			MaxRetries:     cfg.Sync.MaxRetries,
			HandlerTimeout: cfg.Sync.HandlerTimeout,
		},
	}

	switch cfg.Connectivity.Mode {
	case config.ModeFile:
		deps.Signal = connectivity.NewFileSignal(cfg.Connectivity.File, logger)
	case config.ModeProbe:
		deps.Signal = connectivity.NewProbeSignal(cfg.Connectivity.ProbeURL,
			cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
	default:
		deps.Manual = connectivity.NewManualSignal(!cfg.Connectivity.Offline)
		deps.Signal = deps.Manual
	}

	client, err := newRemote(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	deps.Remote = client

	return NewWithDeps(deps), nil
}

func newRemote(cfg *config.Config, logger *zap.Logger) (remote.Client, error) {
	if cfg.Remote.DryRun {
		return remote.NewLogClient(logger), nil
	}
	if cfg.Remote.BaseURL == "" {
		return nil, nil
	}

	var photos remote.PhotoUploader
	if cfg.Photos.Enabled() {
		objects, err := storage.NewMinIOClient(storage.Config{
			Endpoint:  cfg.Photos.Endpoint,
			AccessKey: cfg.Photos.AccessKey,
			SecretKey: cfg.Photos.SecretKey,
			Secure:    cfg.Photos.Secure,
			Region:    cfg.Photos.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create photo storage client: %w", err)
		}
		photos = remote.NewObjectPhotoUploader(objects, cfg.Photos.Bucket)
	}

	client, err := remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	}, photos, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	return client, nil
}

// NewWithDeps assembles an App from explicit collaborators. A nil Remote
// leaves the App usable for local reads and writes only.
func NewWithDeps(deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.New()
	}
	signal := deps.Signal
	if signal == nil && deps.Manual != nil {
		signal = deps.Manual
	}

	a := &App{
		logger:      logger,
		store:       deps.Store,
		queue:       queue.New(deps.Store, logger, deps.Now),
		cache:       cache.New(deps.Store, deps.Now),
		tracker:     connectivity.NewTracker(signal, logger),
		manual:      deps.Manual,
		tally:       status.NewTally(),
		metrics:     collector,
		metricsAddr: deps.MetricsAddr,
	}
	if deps.Manual != nil {
		a.tracker.Set(deps.Manual.Current())
	}
	a.reporter = status.NewReporter(a.store, a.queue, a.tracker)
	a.metrics.SetOnline(a.tracker.IsOnline())
	a.tracker.Subscribe(a.metrics.SetOnline)

	if deps.Remote != nil {
		a.engine = engine.New(deps.Sync, a.store, a.queue, a.cache, deps.Remote, a.tracker, collector, logger)
		a.runner = engine.NewRunner(a.engine, deps.SyncInterval, logger)
		a.runner.OnDrain(a.tally.Observe)
		a.tracker.OnReconnect(a.runner.Trigger)
	}

	return a
}

// Initialize starts connectivity tracking, the background drain loop and,
// when configured, the metrics server. Only the first call has any effect.
// Without a remote nothing is drained.
func (a *App) Initialize(ctx context.Context) {
	a.initOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		a.cancel = cancel

		a.tracker.Initialize(runCtx)

		if a.metricsAddr != "" {
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				if err := a.metrics.StartServer(runCtx, a.metricsAddr); err != nil {
					a.logger.Error("Failed to start metrics server", zap.Error(err))
				}
			}()
		}

		a.updateDepth(ctx)

		if a.runner != nil {
			a.runner.Start(runCtx, &a.wg)
			if a.tracker.IsOnline() {
				a.runner.Trigger()
			}
		}
		a.logger.Info("Offline sync initialized",
			zap.Bool("online", a.tracker.IsOnline()),
			zap.Bool("remote", a.engine != nil))
	})
}

// Enqueue records a mutation and, when online, schedules a drain without
// waiting for it.
func (a *App) Enqueue(ctx context.Context, action queue.Action, payload any, opts ...queue.Option) (queue.Record, error) {
	rec, err := a.queue.Enqueue(ctx, action, payload, opts...)
	if err != nil {
		a.logger.Error("Error adding to offline queue",
			zap.String("action", string(action)),
			zap.Error(err))
		return queue.Record{}, err
	}

	a.metrics.IncEnqueued(string(action))
	a.updateDepth(ctx)

	if a.runner != nil && a.tracker.IsOnline() {
		a.runner.Trigger()
	}
	return rec, nil
}

// PendingMutations returns the live queue in FIFO order
func (a *App) PendingMutations(ctx context.Context) ([]queue.Record, error) {
	records, err := a.queue.All(ctx)
	if err != nil {
		a.logger.Error("Error getting offline queue", zap.Error(err))
		return nil, err
	}
	return records, nil
}

// StoreSnapshot caches data under key with status pending
func (a *App) StoreSnapshot(ctx context.Context, key string, data any) error {
	if err := a.cache.Store(ctx, key, data); err != nil {
		a.logger.Error("Error storing offline data", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// FetchSnapshot returns the cached entry for key, or nil
func (a *App) FetchSnapshot(ctx context.Context, key string) (*cache.Entry, error) {
	entry, err := a.cache.Fetch(ctx, key)
	if err != nil {
		a.logger.Error("Error getting offline data", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return entry, nil
}

// FetchSnapshotInto decodes the cached data for key into v
func (a *App) FetchSnapshotInto(ctx context.Context, key string, v any) (bool, error) {
	found, err := a.cache.FetchInto(ctx, key, v)
	if err != nil {
		a.logger.Error("Error getting offline data", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return found, nil
}

// StorePendingPhoto appends a photo to the task's local photo list
func (a *App) StorePendingPhoto(ctx context.Context, taskID, uri string) error {
	if err := a.cache.AddPhoto(ctx, taskID, uri); err != nil {
		a.logger.Error("Error storing offline photo",
			zap.String("task_id", taskID),
			zap.String("uri", uri),
			zap.Error(err))
		return err
	}
	return nil
}

// FetchPendingPhotos returns the task's photo list, never nil
func (a *App) FetchPendingPhotos(ctx context.Context, taskID string) ([]cache.Photo, error) {
	photos, err := a.cache.Photos(ctx, taskID)
	if err != nil {
		a.logger.Error("Error getting offline photos", zap.String("task_id", taskID), zap.Error(err))
		return []cache.Photo{}, err
	}
	return photos, nil
}

// SyncStatus reports last sync, queue size and connectivity
func (a *App) SyncStatus(ctx context.Context) (status.Status, error) {
	st, err := a.reporter.Status(ctx)
	if err != nil {
		a.logger.Error("Error getting sync status", zap.Error(err))
	}
	return st, err
}

// ForceSync drains the queue now and waits for the result
func (a *App) ForceSync(ctx context.Context) (engine.Result, error) {
	if a.engine == nil {
		return engine.Result{}, ErrNoRemote
	}
	a.logger.Info("Manual sync triggered")
	res, err := a.engine.Drain(ctx)
	a.tally.Observe(res, err)
	if err != nil && !errors.Is(err, engine.ErrOffline) {
		a.logger.Error("Error processing offline queue", zap.Error(err))
	}
	return res, err
}

// ClearAll wipes the queue, dead letters, snapshots, photos and last sync time
func (a *App) ClearAll(ctx context.Context) error {
	wipe := func() error {
		if err := a.queue.Clear(ctx); err != nil {
			a.logger.Error("Error clearing offline queue", zap.Error(err))
			return err
		}
		if err := a.cache.Clear(ctx); err != nil {
			a.logger.Error("Error clearing offline cache", zap.Error(err))
			return err
		}
		if err := a.store.Remove(ctx, engine.KeyLastSync); err != nil {
			a.logger.Error("Error clearing last sync time", zap.Error(err))
			return err
		}
		return nil
	}

	// A drain in flight would rewrite last_sync after the wipe
	var err error
	if a.engine != nil {
		err = a.engine.Exclusive(wipe)
	} else {
		err = wipe()
	}
	if err != nil {
		return err
	}

	a.updateDepth(ctx)
	a.logger.Info("Offline data cleared")
	return nil
}

// SubscribeOnlineStatus registers fn for every connectivity transition and
// returns its cancel func
func (a *App) SubscribeOnlineStatus(fn func(online bool)) func() {
	return a.tracker.Subscribe(fn)
}

// SetOnlineCallback replaces the single legacy connectivity observer
func (a *App) SetOnlineCallback(fn func(online bool)) {
	a.tracker.SetOnlineCallback(fn)
}

// IsOnline returns the cached connectivity reading
func (a *App) IsOnline() bool {
	return a.tracker.IsOnline()
}

// SetOnline pushes a connectivity reading. With a manual signal the reading
// goes through the signal so it is not lost before Initialize.
func (a *App) SetOnline(online bool) {
	if a.manual != nil {
		a.manual.Set(online)
		return
	}
	a.tracker.Set(online)
}

// FailedMutations returns the dead-lettered mutations
func (a *App) FailedMutations(ctx context.Context) ([]queue.Record, error) {
	failed, err := a.queue.Failed(ctx)
	if err != nil {
		a.logger.Error("Error getting failed mutations", zap.Error(err))
		return nil, err
	}
	return failed, nil
}

// RetryFailed moves the dead letter id (every one when id is empty) back
// into the live queue
func (a *App) RetryFailed(ctx context.Context, id string) (int, error) {
	moved, err := a.queue.Requeue(ctx, id)
	if err != nil {
		a.logger.Error("Error requeueing failed mutations", zap.String("id", id), zap.Error(err))
		return 0, err
	}
	if moved > 0 {
		a.logger.Info("Requeued failed mutations", zap.Int("count", moved))
		a.updateDepth(ctx)
		if a.runner != nil && a.tracker.IsOnline() {
			a.runner.Trigger()
		}
	}
	return moved, nil
}

// PurgeFailed discards every dead-lettered mutation
func (a *App) PurgeFailed(ctx context.Context) error {
	if err := a.queue.PurgeFailed(ctx); err != nil {
		a.logger.Error("Error purging failed mutations", zap.Error(err))
		return err
	}
	a.updateDepth(ctx)
	return nil
}

// Reporter exposes the status reporter for periodic display
func (a *App) Reporter() *status.Reporter { return a.reporter }

// Tally exposes the drain counters accumulated by this instance
func (a *App) Tally() *status.Tally { return a.tally }

// Close stops background work and closes the store
func (a *App) Close() error {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

func (a *App) updateDepth(ctx context.Context) {
	live, err := a.queue.Len(ctx)
	if err != nil {
		return
	}
	failed, err := a.queue.Failed(ctx)
	if err != nil {
		return
	}
	a.metrics.SetQueueDepth(live, len(failed))
}
