package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPegOverrideThresholdsAreInclusive(t *testing.T) {
	p := DefaultRegimeParameters()

	tests := []struct {
		name string
		peg  *PegStatus
		want bool
	}{
		{"no telemetry", nil, false},
		{"single at threshold", &PegStatus{MaxDepegBps: 100}, true},
		{"aggregate at threshold", &PegStatus{AggDepegBps: 150}, true},
		{"both just under", &PegStatus{MaxDepegBps: 99, AggDepegBps: 149}, false},
		{"single just under", &PegStatus{MaxDepegBps: 99}, false},
		{"both over", &PegStatus{MaxDepegBps: 150, AggDepegBps: 200}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.PegOverride(tt.peg))
		})
	}
}

func TestHistoryWindow(t *testing.T) {
	p := DefaultRegimeParameters()
	assert.Equal(t, 50, p.HistoryWindow())

	p.EMALong = 60
	assert.Equal(t, 65, p.HistoryWindow())
}

func TestPegClearWindow(t *testing.T) {
	assert.Equal(t, 24*time.Hour, DefaultRegimeParameters().PegClearWindow())
}

func TestParseRegimeState(t *testing.T) {
	for _, s := range AllStates {
		got, err := ParseRegimeState(string(s))
		assert.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseRegimeState("on")
	assert.Error(t, err)
}
