package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics tracks latency and errors of the regime API endpoints.
type APIMetrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	m := &APIMetrics{
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "regime",
				Subsystem: "api",
				Name:      "latency_seconds",
				Help:      "Latency of regime API endpoints",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "regime",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Errors by regime API endpoint and kind",
			},
			[]string{"endpoint", "kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.latency, m.errors)
	}
	return m
}

// Observe returns a func that records the elapsed time for endpoint.
func (m *APIMetrics) Observe(endpoint string) func() {
	start := time.Now()
	return func() {
		m.latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (m *APIMetrics) Error(endpoint, kind string) {
	m.errors.WithLabelValues(endpoint, kind).Inc()
}
