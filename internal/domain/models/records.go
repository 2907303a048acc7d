package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalRecord is the persisted signal for one calendar date.
type SignalRecord struct {
	Date       time.Time         `json:"date"`
	SYI        decimal.Decimal   `json:"syi"`
	TBill3M    decimal.Decimal   `json:"tbill_3m"`
	Signal     RegimeSignal      `json:"signal"`
	Components []ComponentExcess `json:"components"`
	Peg        *PegStatus        `json:"peg_status,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// StateRecord is the persisted regime for one calendar date.
// CooldownUntil and OverrideUntil are set only on the flip or override that produced them.
type StateRecord struct {
	Date          time.Time    `json:"date"`
	State         RegimeState  `json:"state"`
	PreviousState *RegimeState `json:"previous_state,omitempty"`
	DaysInState   int          `json:"days_in_state"`
	CooldownUntil *time.Time   `json:"cooldown_until,omitempty"`
	OverrideUntil *time.Time   `json:"override_until,omitempty"`
	Alert         *RegimeAlert `json:"alert,omitempty"`
	PegOverride   bool         `json:"peg_override"`
	// consecutive evaluation dates on which each flip condition held
	OffStreak int       `json:"off_streak"`
	OnStreak  int       `json:"on_streak"`
	CreatedAt time.Time `json:"created_at"`
}

// IsFlip reports whether this record was a confirmed flip.
func (r *StateRecord) IsFlip() bool {
	return r.Alert != nil && r.Alert.Type == AlertFlipConfirmed
}

// HistoryPoint is one row of the signal/state join.
type HistoryPoint struct {
	Date       string          `json:"date"`
	State      RegimeState     `json:"state"`
	SYIExcess  decimal.Decimal `json:"syi_excess"`
	ZScore     decimal.Decimal `json:"z_score"`
	Spread     decimal.Decimal `json:"spread"`
	Slope7     decimal.Decimal `json:"slope7"`
	BreadthPct decimal.Decimal `json:"breadth_pct"`
	AlertType  *AlertType      `json:"alert_type,omitempty"`
}

// StoreStats are the raw aggregates a store computes over all state records.
type StoreStats struct {
	Counts    map[RegimeState]int
	TotalDays int
	Flips     int
	Latest    *StateRecord
}

// RegimeStats is the stats() response.
type RegimeStats struct {
	StateCounts       map[RegimeState]int `json:"state_counts"`
	TotalDays         int                 `json:"total_days"`
	CurrentState      *RegimeState        `json:"current_state,omitempty"`
	CurrentDate       string              `json:"current_date,omitempty"`
	CurrentDuration   int                 `json:"current_duration_days"`
	TotalFlips        int                 `json:"total_flips"`
	AvgRegimeDuration float64             `json:"avg_regime_duration"`
}

// EvaluationResult is returned by evaluate and upsert.
type EvaluationResult struct {
	Date          string       `json:"date"`
	State         RegimeState  `json:"state"`
	Signal        RegimeSignal `json:"signal"`
	Alert         *RegimeAlert `json:"alert,omitempty"`
	PreviousState *RegimeState `json:"previous_state,omitempty"`
	DaysInState   int          `json:"days_in_state"`
	CooldownUntil *string      `json:"cooldown_until,omitempty"`
	OverrideUntil *time.Time   `json:"override_until,omitempty"`
}

// HealthReport is the health() response.
type HealthReport struct {
	Status     string `json:"status"`
	Store      string `json:"store"`
	Backend    string `json:"backend"`
	LatestDate string `json:"latest_date,omitempty"`
	Channels   int    `json:"channels"`
	Error      string `json:"error,omitempty"`
}
