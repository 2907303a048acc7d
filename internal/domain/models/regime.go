package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RegimeState is the classified market risk regime.
type RegimeState string

const (
	StateNeutral     RegimeState = "NEU"
	StateRiskOn      RegimeState = "ON"
	StateRiskOff     RegimeState = "OFF"
	StateOffOverride RegimeState = "OFF_OVERRIDE"
)

// AllStates lists every regime in display order.
var AllStates = []RegimeState{StateNeutral, StateRiskOn, StateRiskOff, StateOffOverride}

func (s RegimeState) Valid() bool {
	switch s {
	case StateNeutral, StateRiskOn, StateRiskOff, StateOffOverride:
		return true
	}
	return false
}

func ParseRegimeState(s string) (RegimeState, error) {
	st := RegimeState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown regime state %q", s)
	}
	return st, nil
}

// AlertType classifies a state transition.
type AlertType string

const (
	AlertFlipConfirmed AlertType = "FLIP_CONFIRMED"
	AlertOverridePeg   AlertType = "OVERRIDE_PEG"
	AlertEarlyWarning  AlertType = "EARLY_WARNING"
	AlertInvalidation  AlertType = "INVALIDATION"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertFlipConfirmed, AlertOverridePeg, AlertEarlyWarning, AlertInvalidation:
		return true
	}
	return false
}

// AlertLevel is the alert severity. Only CRITICAL alerts leave the process.
type AlertLevel string

const (
	LevelWarning  AlertLevel = "WARNING"
	LevelCritical AlertLevel = "CRITICAL"
)

func (l AlertLevel) Valid() bool {
	switch l {
	case LevelWarning, LevelCritical:
		return true
	}
	return false
}

// RegimeAlert is produced when an evaluation changes the regime.
type RegimeAlert struct {
	Type              AlertType  `json:"type"`
	Level             AlertLevel `json:"level"`
	Message           string     `json:"message"`
	TriggerConditions []string   `json:"trigger_conditions"`
}

// PegStatus is the optional peg-stability telemetry for a date.
type PegStatus struct {
	MaxDepegBps uint `json:"max_depeg_bps"`
	AggDepegBps uint `json:"agg_depeg_bps"`
}

// Component is one index constituent and its risk-adjusted yield.
type Component struct {
	Symbol string          `json:"symbol" validate:"required"`
	RAY    decimal.Decimal `json:"ray"`
}

// ComponentExcess is a constituent's RAY over the T-bill rate on one date.
type ComponentExcess struct {
	Symbol string          `json:"symbol"`
	Excess decimal.Decimal `json:"excess"`
}

// RegimeSignal is the processed daily signal. Immutable once computed for a date.
type RegimeSignal struct {
	SYIExcess     decimal.Decimal `json:"syi_excess"`
	Spread        decimal.Decimal `json:"spread"`
	ZScore        decimal.Decimal `json:"z_score"`
	Slope7        decimal.Decimal `json:"slope7"`
	BreadthPct    decimal.Decimal `json:"breadth_pct"`
	Volatility30d decimal.Decimal `json:"volatility_30d"`
	EMAShort      decimal.Decimal `json:"ema_short"`
	EMALong       decimal.Decimal `json:"ema_long"`
}
