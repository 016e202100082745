package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for tool invocations and queue
// pressure. A nil *Metrics is valid and records nothing, so wiring metrics
// stays optional.
type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	queueActive prometheus.Gauge
	queueWaited prometheus.Gauge
}

// NewMetrics registers the instruments on the given registerer. Pass
// prometheus.DefaultRegisterer for the process-wide registry or a fresh
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contextkit_invocations_total",
			Help: "Tool invocations by terminal status.",
		}, []string{"tool", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contextkit_invocation_duration_seconds",
			Help:    "Wall time from start to terminal status per tool.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"tool"}),
		queueActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contextkit_queue_active_slots",
			Help: "Invocations currently holding an execution slot.",
		}),
		queueWaited: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contextkit_queue_waiting",
			Help: "Invocations queued behind the per-session limit.",
		}),
	}
}

// Finished records one terminal invocation outcome.
func (m *Metrics) Finished(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(tool, status).Inc()
	if seconds >= 0 {
		m.duration.WithLabelValues(tool).Observe(seconds)
	}
}

// QueueDepth updates the queue gauges. Shaped to plug straight into the
// queue manager's observer hook.
func (m *Metrics) QueueDepth(active, waiting int) {
	if m == nil {
		return
	}
	m.queueActive.Set(float64(active))
	m.queueWaited.Set(float64(waiting))
}
