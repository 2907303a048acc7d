package regime

import (
	"time"

	"RegimeWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Rule names the transition rule that decided an evaluation.
type Rule string

const (
	RulePegOverride     Rule = "peg_override"
	RuleOverrideActive  Rule = "override_active"
	RuleInitial         Rule = "initial"
	RuleOverrideRelease Rule = "override_release"
	RuleCooldown        Rule = "cooldown"
	RuleFlipOff         Rule = "flip_off"
	RuleFlipOn          Rule = "flip_on"
	RuleHold            Rule = "hold"
)

// TransitionInput is everything the machine needs for one evaluation date.
// CooldownUntil and OverrideUntil are the latest values recorded on prior dates.
type TransitionInput struct {
	Date          time.Time
	Signal        models.RegimeSignal
	PegOverride   bool
	Previous      *models.StateRecord
	CooldownUntil *time.Time
	OverrideUntil *time.Time
}

// Transition is the machine's decision. CooldownUntil and OverrideUntil are
// non-nil only when this evaluation sets them.
type Transition struct {
	State         models.RegimeState
	Previous      *models.RegimeState
	Rule          Rule
	OffStreak     int
	OnStreak      int
	CooldownUntil *time.Time
	OverrideUntil *time.Time
}

// Flipped reports a confirmed flip to ON or OFF.
func (t Transition) Flipped() bool {
	return t.Rule == RuleFlipOff || t.Rule == RuleFlipOn
}

// StateMachine applies the regime transition rules. It is pure.
type StateMachine struct {
	params models.RegimeParameters
}

func NewStateMachine(params models.RegimeParameters) *StateMachine {
	return &StateMachine{params: params}
}

// Next evaluates the transition priority list; the first matching rule wins.
func (m *StateMachine) Next(in TransitionInput) Transition {
	date := in.Date
	out := Transition{}
	if in.Previous != nil {
		prev := in.Previous.State
		out.Previous = &prev
	}

	// streaks advance every day regardless of which rule decides the state
	offCond, onCond := m.offCondition(in.Signal), m.onCondition(in.Signal)
	if offCond {
		out.OffStreak = 1
		if in.Previous != nil {
			out.OffStreak += in.Previous.OffStreak
		}
	}
	if onCond {
		out.OnStreak = 1
		if in.Previous != nil {
			out.OnStreak += in.Previous.OnStreak
		}
	}

	if in.PegOverride {
		out.State, out.Rule = models.StateOffOverride, RulePegOverride
		until := date.Add(m.params.PegClearWindow())
		if in.OverrideUntil == nil || until.After(*in.OverrideUntil) {
			out.OverrideUntil = &until
		}
		return out
	}

	if in.OverrideUntil != nil && !date.After(*in.OverrideUntil) {
		out.State, out.Rule = models.StateOffOverride, RuleOverrideActive
		return out
	}

	if in.Previous == nil {
		out.State, out.Rule = models.StateNeutral, RuleInitial
		return out
	}

	prev := in.Previous.State
	if prev == models.StateOffOverride {
		// the override has lapsed; resume from OFF and evaluate flips from the next date
		out.State, out.Rule = models.StateRiskOff, RuleOverrideRelease
		return out
	}

	if in.CooldownUntil != nil && !date.After(*in.CooldownUntil) {
		out.State, out.Rule = prev, RuleCooldown
		return out
	}

	persist := m.params.PersistDays
	switch {
	case (prev == models.StateRiskOn || prev == models.StateNeutral) && offCond && out.OffStreak >= persist:
		out.State, out.Rule = models.StateRiskOff, RuleFlipOff
	case (prev == models.StateRiskOff || prev == models.StateNeutral) && onCond && out.OnStreak >= persist:
		out.State, out.Rule = models.StateRiskOn, RuleFlipOn
	default:
		out.State, out.Rule = prev, RuleHold
		return out
	}

	cooldown := date.AddDate(0, 0, m.params.CooldownDays)
	out.CooldownUntil = &cooldown
	return out
}

// offCondition is the risk-off crossing: excess yield rising above its long EMA
// with z-score confirmation and either positive momentum or broad participation.
func (m *StateMachine) offCondition(s models.RegimeSignal) bool {
	zEnter := decimal.NewFromFloat(m.params.ZEnter)
	return s.Spread.IsPositive() &&
		s.ZScore.GreaterThanOrEqual(zEnter) &&
		(s.Slope7.IsPositive() || s.BreadthPct.GreaterThanOrEqual(decimal.NewFromFloat(m.params.BreadthOffMin)))
}

func (m *StateMachine) onCondition(s models.RegimeSignal) bool {
	zEnter := decimal.NewFromFloat(m.params.ZEnter)
	return s.Spread.IsNegative() &&
		s.ZScore.LessThanOrEqual(zEnter.Neg()) &&
		(s.Slope7.IsNegative() || s.BreadthPct.LessThanOrEqual(decimal.NewFromFloat(m.params.BreadthOnMax)))
}
