// Package metrics provides Prometheus metrics export for nudge dispatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/nudger/server/service/nudge"
)

// PrometheusExporter implements nudge.Recorder and serves the collected
// metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	dispatches      *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec

	channelAttempts *prometheus.CounterVec
	channelLatency  *prometheus.HistogramVec

	lockContention prometheus.Counter
	batchUsers     *prometheus.HistogramVec
}

var _ nudge.Recorder = (*PrometheusExporter)(nil)

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nudger",
			Name:      "dispatch_total",
			Help:      "Dispatch decisions by nudge type and outcome",
		},
		[]string{"nudge_type", "outcome"},
	)

	e.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nudger",
			Name:      "dispatch_latency_seconds",
			Help:      "End-to-end dispatch latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"nudge_type"},
	)

	e.channelAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nudger",
			Name:      "channel_attempts_total",
			Help:      "Provider calls by channel and status",
		},
		[]string{"channel", "status"},
	)

	e.channelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nudger",
			Name:      "channel_latency_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"channel"},
	)

	e.lockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nudger",
			Name:      "lock_contention_total",
			Help:      "Dispatches skipped because the user was locked",
		},
	)

	e.batchUsers = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nudger",
			Name:      "batch_users",
			Help:      "Users selected per batch run",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"nudge_type"},
	)

	registry.MustRegister(
		e.dispatches,
		e.dispatchLatency,
		e.channelAttempts,
		e.channelLatency,
		e.lockContention,
		e.batchUsers,
	)

	return e
}

func (e *PrometheusExporter) ObserveDispatch(nudgeType string, outcome nudge.Outcome, d time.Duration) {
	e.dispatches.WithLabelValues(nudgeType, string(outcome)).Inc()
	e.dispatchLatency.WithLabelValues(nudgeType).Observe(d.Seconds())
}

func (e *PrometheusExporter) ObserveChannelAttempt(channel string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	e.channelAttempts.WithLabelValues(channel, status).Inc()
	e.channelLatency.WithLabelValues(channel).Observe(d.Seconds())
}

func (e *PrometheusExporter) ObserveLockContention() {
	e.lockContention.Inc()
}

func (e *PrometheusExporter) ObserveBatch(nudgeType string, users int) {
	e.batchUsers.WithLabelValues(nudgeType).Observe(float64(users))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the underlying registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
