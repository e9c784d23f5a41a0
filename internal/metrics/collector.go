package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for processed mutations
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

// Collector collects and exposes sync metrics
type Collector struct {
	registry        *prometheus.Registry
	mutationsTotal  *prometheus.CounterVec
	enqueuedTotal   *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	failedDepth     prometheus.Gauge
	online          prometheus.Gauge
	drainsTotal     *prometheus.CounterVec
	drainDuration   prometheus.Histogram
	handlerDuration *prometheus.HistogramVec
}

// New creates a collector backed by its own registry, so several
// instances can live in one process.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldsync_mutations_total",
				Help: "Total number of queued mutations processed",
			},
			[]string{"action", "outcome"},
		),
		enqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldsync_enqueued_total",
				Help: "Total number of mutations enqueued",
			},
			[]string{"action"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldsync_queue_depth",
				Help: "Number of mutations waiting to sync",
			},
		),
		failedDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldsync_failed_depth",
				Help: "Number of dead-lettered mutations",
			},
		),
		online: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldsync_online",
				Help: "1 when connectivity is available",
			},
		),
		drainsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldsync_drains_total",
				Help: "Total number of drain attempts",
			},
			[]string{"result"},
		),
		drainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fieldsync_drain_duration_seconds",
				Help:    "Time taken by a queue drain",
				Buckets: prometheus.DefBuckets,
			},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldsync_handler_duration_seconds",
				Help:    "Time taken by a single remote call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}

	c.registry.MustRegister(
		c.mutationsTotal,
		c.enqueuedTotal,
		c.queueDepth,
		c.failedDepth,
		c.online,
		c.drainsTotal,
		c.drainDuration,
		c.handlerDuration,
	)

	return c
}

// IncOutcome counts a processed mutation
func (c *Collector) IncOutcome(action, outcome string) {
	c.mutationsTotal.WithLabelValues(action, outcome).Inc()
}

// IncEnqueued counts an accepted mutation
func (c *Collector) IncEnqueued(action string) {
	c.enqueuedTotal.WithLabelValues(action).Inc()
}

// SetQueueDepth sets the live and dead-letter queue sizes
func (c *Collector) SetQueueDepth(live, failed int) {
	c.queueDepth.Set(float64(live))
	c.failedDepth.Set(float64(failed))
}

// SetOnline records the connectivity state
func (c *Collector) SetOnline(online bool) {
	if online {
		c.online.Set(1)
		return
	}
	c.online.Set(0)
}

// ObserveDrain records a finished drain; result is "ok", "offline" or "error"
func (c *Collector) ObserveDrain(result string, duration time.Duration) {
	c.drainsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		c.drainDuration.Observe(duration.Seconds())
	}
}

// ObserveHandler records the latency of one remote call
func (c *Collector) ObserveHandler(action string, duration time.Duration) {
	c.handlerDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// Handler exposes the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StartServer serves /metrics on addr until ctx is cancelled
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
