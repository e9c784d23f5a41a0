package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner drains the queue in the background whenever it is triggered and,
// optionally, on a fixed interval.
type Runner struct {
	engine   *Engine
	interval time.Duration
	trigger  chan struct{}
	logger   *zap.Logger

	// onDrain is called after every drain attempt
	onDrain func(Result, error)
}

// NewRunner creates a runner. interval 0 disables periodic drains.
func NewRunner(engine *Engine, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		engine:   engine,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With(zap.String("component", "runner")),
	}
}

// OnDrain registers fn to observe every drain result. Must be called before Start.
func (r *Runner) OnDrain(fn func(Result, error)) {
	r.onDrain = fn
}

// Trigger requests a drain without blocking. Triggers that arrive while one
// is already pending collapse into it.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start runs the drain loop until ctx is cancelled
func (r *Runner) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go r.loop(ctx, wg)
}

func (r *Runner) loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.logger.Info("Sync runner started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Sync runner stopped - context cancelled")
			return
		case <-r.trigger:
			r.drain(ctx)
		case <-tick:
			r.drain(ctx)
		}
	}
}

func (r *Runner) drain(ctx context.Context) {
	res, err := r.engine.Drain(ctx)
	if err != nil && !errors.Is(err, ErrOffline) {
		r.logger.Error("Error processing offline queue", zap.Error(err))
	}
	if r.onDrain != nil {
		r.onDrain(res, err)
	}
}
