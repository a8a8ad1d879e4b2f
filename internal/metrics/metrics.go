// Package metrics wraps the Prometheus collectors for poller lifecycle,
// fetch outcomes, and output writes. A nil *Collector is valid and records
// nothing, so components can be built without metrics in tests.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockwatch"

// Collector holds the process metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	fetches         *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	writes          *prometheus.CounterVec
	writeLatency    prometheus.Histogram
	queueDepth      prometheus.Gauge
	activePollers   prometheus.Gauge
	reconciliations *prometheus.CounterVec
	stopTimeouts    prometheus.Counter
}

// NewCollector creates a collector with every metric registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetches_total",
			Help:      "Price fetch attempts by symbol and result (ok, error)",
		},
		[]string{"symbol", "result"},
	)

	c.fetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetch_failures_total",
			Help:      "Failed price fetches by symbol and error type",
		},
		[]string{"symbol", "type"},
	)

	c.writes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "writes_total",
			Help:      "Output store writes by result (ok, error)",
		},
		[]string{"result"},
	)

	c.writeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "write_duration_seconds",
			Help:      "Time taken to persist one update",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Updates waiting to be written",
		},
	)

	c.activePollers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_pollers",
			Help:      "Poller tasks currently registered",
		},
	)

	c.reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "reconciliations_total",
			Help:      "Watchlist reconciliations by result (ok, error)",
		},
		[]string{"result"},
	)

	c.stopTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "stop_timeouts_total",
			Help:      "Poller tasks that did not exit within the stop timeout",
		},
	)

	c.registry.MustRegister(
		c.fetches,
		c.fetchFailures,
		c.writes,
		c.writeLatency,
		c.queueDepth,
		c.activePollers,
		c.reconciliations,
		c.stopTimeouts,
	)

	return c
}

// Handler returns the /metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordFetch records one fetch attempt. errType is empty on success.
func (c *Collector) RecordFetch(symbol string, errType string) {
	if c == nil {
		return
	}
	if errType == "" {
		c.fetches.WithLabelValues(symbol, "ok").Inc()
		return
	}
	c.fetches.WithLabelValues(symbol, "error").Inc()
	c.fetchFailures.WithLabelValues(symbol, errType).Inc()
}

// RecordWrite records one output store write.
func (c *Collector) RecordWrite(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.writes.WithLabelValues(result).Inc()
	c.writeLatency.Observe(d.Seconds())
}

// SetQueueDepth sets the pending update count.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// SetActivePollers sets the registered task count.
func (c *Collector) SetActivePollers(n int) {
	if c == nil {
		return
	}
	c.activePollers.Set(float64(n))
}

// RecordReconcile records one reconciliation attempt.
func (c *Collector) RecordReconcile(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.reconciliations.WithLabelValues(result).Inc()
}

// RecordStopTimeout records a task that ignored cancellation too long.
func (c *Collector) RecordStopTimeout() {
	if c == nil {
		return
	}
	c.stopTimeouts.Inc()
}

// Serve exposes Handler on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
