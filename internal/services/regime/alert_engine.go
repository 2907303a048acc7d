package regime

import (
	"fmt"

	"RegimeWatch/internal/domain/models"
)

// AlertInput describes one evaluated transition.
type AlertInput struct {
	Previous    *models.RegimeState
	Next        models.RegimeState
	PegOverride bool
	Peg         *models.PegStatus
	Signal      models.RegimeSignal
}

// AlertEngine classifies state changes into alerts. It is pure.
type AlertEngine struct {
	params models.RegimeParameters
}

func NewAlertEngine(params models.RegimeParameters) *AlertEngine {
	return &AlertEngine{params: params}
}

// Classify returns nil when the state did not change. Initialising to NEU is
// not a change.
func (e *AlertEngine) Classify(in AlertInput) *models.RegimeAlert {
	if in.Previous == nil && in.Next == models.StateNeutral {
		return nil
	}
	if in.Previous != nil && *in.Previous == in.Next {
		return nil
	}

	sig := in.Signal
	var (
		typ        models.AlertType
		msg        string
		conditions []string
	)
	switch {
	case in.PegOverride:
		typ = models.AlertOverridePeg
		msg = "peg stress detected: forcing risk-off override"
		conditions = []string{e.pegCondition(in.Peg), fmt.Sprintf("z_score=%s", sig.ZScore.StringFixed(4))}
	case in.Next == models.StateRiskOff && fromAny(in.Previous, models.StateRiskOn, models.StateNeutral):
		typ = models.AlertFlipConfirmed
		msg = fmt.Sprintf("regime flip confirmed: %s -> OFF", label(in.Previous))
		conditions = []string{
			fmt.Sprintf("spread crossed above zero (spread=%s)", sig.Spread.StringFixed(6)),
			fmt.Sprintf("z_score=%s >= %.2f", sig.ZScore.StringFixed(4), e.params.ZEnter),
			fmt.Sprintf("slope7=%s", sig.Slope7.StringFixed(6)),
			fmt.Sprintf("breadth_pct=%s", sig.BreadthPct.StringFixed(1)),
		}
	case in.Next == models.StateRiskOn && fromAny(in.Previous, models.StateRiskOff, models.StateNeutral):
		typ = models.AlertFlipConfirmed
		msg = fmt.Sprintf("regime flip confirmed: %s -> ON", label(in.Previous))
		conditions = []string{
			fmt.Sprintf("spread crossed below zero (spread=%s)", sig.Spread.StringFixed(6)),
			fmt.Sprintf("z_score=%s <= -%.2f", sig.ZScore.StringFixed(4), e.params.ZEnter),
			fmt.Sprintf("slope7=%s", sig.Slope7.StringFixed(6)),
			fmt.Sprintf("breadth_pct=%s", sig.BreadthPct.StringFixed(1)),
		}
	default:
		typ = models.AlertEarlyWarning
		msg = fmt.Sprintf("regime changed: %s -> %s", label(in.Previous), in.Next)
		conditions = []string{fmt.Sprintf("z_score=%s", sig.ZScore.StringFixed(4))}
	}

	return &models.RegimeAlert{
		Type:              typ,
		Level:             LevelFor(typ),
		Message:           msg,
		TriggerConditions: conditions,
	}
}

// LevelFor maps every alert type to its severity.
func LevelFor(t models.AlertType) models.AlertLevel {
	switch t {
	case models.AlertFlipConfirmed, models.AlertOverridePeg:
		return models.LevelCritical
	case models.AlertEarlyWarning, models.AlertInvalidation:
		return models.LevelWarning
	default:
		panic(fmt.Sprintf("unhandled alert type %q", t))
	}
}

func (e *AlertEngine) pegCondition(peg *models.PegStatus) string {
	if peg == nil {
		return "peg stress detected"
	}
	return fmt.Sprintf("peg stress detected (max_depeg_bps=%d/%d, agg_depeg_bps=%d/%d)",
		peg.MaxDepegBps, e.params.PegSingleBps, peg.AggDepegBps, e.params.PegAggBps)
}

func fromAny(prev *models.RegimeState, states ...models.RegimeState) bool {
	if prev == nil {
		return false
	}
	for _, s := range states {
		if *prev == s {
			return true
		}
	}
	return false
}

func label(prev *models.RegimeState) string {
	if prev == nil {
		return "none"
	}
	return string(*prev)
}
