package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordEvaluation("OFF")
	r.RecordEvaluation("OFF")
	r.RecordAlert("FLIP_CONFIRMED", "CRITICAL")
	r.RecordNotification("discord", "error")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.evaluations.WithLabelValues("OFF")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alerts.WithLabelValues("FLIP_CONFIRMED", "CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("discord", "error")))
}

func TestRecordCurrentStateKeepsOneSeries(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordCurrentState("ON")
	r.RecordCurrentState("OFF_OVERRIDE")

	assert.Equal(t, 1, testutil.CollectAndCount(r.currentState))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.currentState.WithLabelValues("OFF_OVERRIDE")))
}
