package synchronizer

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/converge/internal/artefact"
)

// MetricsCallback records pass activity as Prometheus metrics.
// It owns its registry so several instances can coexist in tests.
type MetricsCallback struct {
	registry *prometheus.Registry

	Transitions  *prometheus.CounterVec
	Errors       prometheus.Counter
	PassDuration *prometheus.HistogramVec
	Passes       *prometheus.CounterVec
}

// NewMetricsCallback creates a MetricsCallback with its own registry.
func NewMetricsCallback(namespace string) *MetricsCallback {
	reg := prometheus.NewRegistry()

	m := &MetricsCallback{
		registry: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artefact_transitions_total",
			Help:      "Total number of artefact lifecycle transitions",
		}, []string{"synchronizer", "lifecycle"}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synchronizer_errors_total",
			Help:      "Total number of errors reported during synchronization",
		}),
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of synchronizer passes in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"synchronizer"}),
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Total number of synchronizer passes by result",
		}, []string{"synchronizer", "state"}),
	}

	reg.MustRegister(m.Transitions, m.Errors, m.PassDuration, m.Passes)
	return m
}

func (m *MetricsCallback) RegisterState(synchronizer string, _ artefact.Artefact, l artefact.Lifecycle, _ string) {
	m.Transitions.WithLabelValues(synchronizer, string(l)).Inc()
}

func (m *MetricsCallback) AddError(string) {
	m.Errors.Inc()
}

func (m *MetricsCallback) ObservePass(synchronizer, state string, elapsed time.Duration) {
	m.PassDuration.WithLabelValues(synchronizer).Observe(elapsed.Seconds())
	m.Passes.WithLabelValues(synchronizer, state).Inc()
}

// Registry returns the Prometheus registry holding the metrics.
func (m *MetricsCallback) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that serves the metrics.
func (m *MetricsCallback) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
