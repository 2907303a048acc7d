package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	evaluations   *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	currentState  *prometheus.GaugeVec
}

// New creates a recorder registered on reg (nil means the default registry).
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regime_evaluations_total",
				Help: "Completed evaluations by resulting state",
			},
			[]string{"state"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regime_alerts_total",
				Help: "Alerts raised by type and level",
			},
			[]string{"type", "level"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regime_notifications_total",
				Help: "Notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regime_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"kind"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regime_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		currentState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regime_current_state",
				Help: "1 for the most recently evaluated state, 0 otherwise",
			},
			[]string{"state"},
		),
	}
}

func (r *Recorder) RecordEvaluation(state string) {
	r.evaluations.WithLabelValues(state).Inc()
}

func (r *Recorder) RecordAlert(alertType, level string) {
	r.alerts.WithLabelValues(alertType, level).Inc()
}

func (r *Recorder) RecordNotification(channel, result string) {
	r.notifications.WithLabelValues(channel, result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordCurrentState flips the state gauge to the given state.
func (r *Recorder) RecordCurrentState(state string) {
	r.currentState.Reset()
	r.currentState.WithLabelValues(state).Set(1)
}
