package models

import "time"

// RegimeParameters are the classifier thresholds, loaded once at startup.
type RegimeParameters struct {
	EMAShort          int
	EMALong           int
	ZEnter            float64
	PersistDays       int
	CooldownDays      int
	BreadthOnMax      float64
	BreadthOffMin     float64
	PegSingleBps      uint
	PegAggBps         uint
	PegClearHours     int
	VolatilityEpsilon float64
}

// DefaultRegimeParameters returns the production defaults.
func DefaultRegimeParameters() RegimeParameters {
	return RegimeParameters{
		EMAShort:          7,
		EMALong:           30,
		ZEnter:            0.5,
		PersistDays:       2,
		CooldownDays:      7,
		BreadthOnMax:      40.0,
		BreadthOffMin:     60.0,
		PegSingleBps:      100,
		PegAggBps:         150,
		PegClearHours:     24,
		VolatilityEpsilon: 0.001,
	}
}

// HistoryWindow is the number of prior signals an evaluation loads.
func (p RegimeParameters) HistoryWindow() int {
	if n := p.EMALong + 5; n > 50 {
		return n
	}
	return 50
}

// PegOverride reports whether peg telemetry breaches either threshold.
func (p RegimeParameters) PegOverride(peg *PegStatus) bool {
	if peg == nil {
		return false
	}
	return peg.MaxDepegBps >= p.PegSingleBps || peg.AggDepegBps >= p.PegAggBps
}

// PegClearWindow is how long an override stays active after the last stress event.
func (p RegimeParameters) PegClearWindow() time.Duration {
	return time.Duration(p.PegClearHours) * time.Hour
}
