package regime

import (
	"testing"

	"RegimeWatch/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func st(s models.RegimeState) *models.RegimeState { return &s }

func TestClassifyNoTransition(t *testing.T) {
	e := NewAlertEngine(models.DefaultRegimeParameters())

	assert.Nil(t, e.Classify(AlertInput{Previous: st(models.StateRiskOn), Next: models.StateRiskOn, Signal: riskOnSignal}))
	assert.Nil(t, e.Classify(AlertInput{Next: models.StateNeutral, Signal: flatSignal}), "initialisation is not a change")
}

func TestClassifyPegOverride(t *testing.T) {
	e := NewAlertEngine(models.DefaultRegimeParameters())

	for _, prev := range []*models.RegimeState{nil, st(models.StateNeutral), st(models.StateRiskOn), st(models.StateRiskOff)} {
		a := e.Classify(AlertInput{
			Previous:    prev,
			Next:        models.StateOffOverride,
			PegOverride: true,
			Peg:         &models.PegStatus{MaxDepegBps: 150, AggDepegBps: 200},
			Signal:      riskOnSignal,
		})
		require.NotNil(t, a)
		assert.Equal(t, models.AlertOverridePeg, a.Type)
		assert.Equal(t, models.LevelCritical, a.Level)
		assert.Contains(t, a.TriggerConditions[0], "max_depeg_bps=150/100")
		assert.Contains(t, a.TriggerConditions[1], "z_score=")
	}
}

func TestClassifyFlips(t *testing.T) {
	e := NewAlertEngine(models.DefaultRegimeParameters())

	a := e.Classify(AlertInput{Previous: st(models.StateRiskOn), Next: models.StateRiskOff, Signal: riskOffSignal})
	require.NotNil(t, a)
	assert.Equal(t, models.AlertFlipConfirmed, a.Type)
	assert.Equal(t, models.LevelCritical, a.Level)
	assert.Contains(t, a.TriggerConditions[0], "above zero")
	assert.Contains(t, a.TriggerConditions[3], "breadth_pct=70.0")

	a = e.Classify(AlertInput{Previous: st(models.StateNeutral), Next: models.StateRiskOn, Signal: riskOnSignal})
	require.NotNil(t, a)
	assert.Equal(t, models.AlertFlipConfirmed, a.Type)
	assert.Contains(t, a.TriggerConditions[0], "below zero")
}

func TestClassifyOtherChangesAreWarnings(t *testing.T) {
	e := NewAlertEngine(models.DefaultRegimeParameters())

	a := e.Classify(AlertInput{Previous: st(models.StateOffOverride), Next: models.StateRiskOff, Signal: flatSignal})
	require.NotNil(t, a)
	assert.Equal(t, models.AlertEarlyWarning, a.Type)
	assert.Equal(t, models.LevelWarning, a.Level)
	assert.Equal(t, "regime changed: OFF_OVERRIDE -> OFF", a.Message)
}

func TestLevelForCoversEveryType(t *testing.T) {
	for _, typ := range []models.AlertType{models.AlertFlipConfirmed, models.AlertOverridePeg, models.AlertEarlyWarning, models.AlertInvalidation} {
		assert.True(t, LevelFor(typ).Valid())
	}
	assert.Panics(t, func() { LevelFor("BOGUS") })
}
