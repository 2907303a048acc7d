package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAPIMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAPIMetrics(reg)

	done := m.Observe("evaluate")
	done()
	m.Error("evaluate", "validation")
	m.Error("evaluate", "validation")

	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.errors.WithLabelValues("evaluate", "validation")))
}
