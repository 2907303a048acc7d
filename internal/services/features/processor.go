package features

import (
	"fmt"

	"RegimeWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

const (
	slopeWindow    = 7
	daysPerYear    = 365.0
	neutralBreadth = 50.0
)

// SignalInput is one day of raw index data.
type SignalInput struct {
	SYI        decimal.Decimal
	TBill3M    decimal.Decimal
	Components []models.Component
}

// Processor turns raw daily inputs plus prior signals into a RegimeSignal. It holds no state.
type Processor struct {
	params models.RegimeParameters
}

func NewProcessor(params models.RegimeParameters) *Processor {
	return &Processor{params: params}
}

// Compute derives the signal for one date. history holds prior signal records in
// ascending date order. The per-constituent excess values returned are persisted
// alongside the signal so later dates can compute breadth baselines.
func (p *Processor) Compute(in SignalInput, history []models.SignalRecord) (models.RegimeSignal, []models.ComponentExcess, error) {
	excess := in.SYI.Sub(in.TBill3M)

	series := make([]float64, 0, len(history)+1)
	for _, h := range history {
		series = append(series, h.Signal.SYIExcess.InexactFloat64())
	}
	series = append(series, excess.InexactFloat64())

	emaShort := EMA(series, p.params.EMAShort)
	emaLong := EMA(series, p.params.EMALong)
	spread := emaShort - emaLong

	eps := p.params.VolatilityEpsilon
	vol, ok := SampleStdDev(Tail(series, p.params.EMALong))
	if !ok {
		vol = eps
	}
	denom := vol
	if denom < eps {
		denom = eps
	}
	z := spread / denom

	slope := OLSSlope(Tail(series, slopeWindow)) * daysPerYear

	components := componentExcess(in)
	breadth := p.breadth(components, history)

	values := map[string]float64{
		"ema_short":      emaShort,
		"ema_long":       emaLong,
		"spread":         spread,
		"volatility_30d": vol,
		"z_score":        z,
		"slope7":         slope,
		"breadth_pct":    breadth,
	}
	for name, v := range values {
		if !finite(v) {
			return models.RegimeSignal{}, nil, models.NewComputationError(fmt.Sprintf("non-finite %s", name), nil)
		}
	}

	sig := models.RegimeSignal{
		SYIExcess:     excess,
		Spread:        decimal.NewFromFloat(spread),
		ZScore:        decimal.NewFromFloat(z),
		Slope7:        decimal.NewFromFloat(slope),
		BreadthPct:    decimal.NewFromFloat(breadth),
		Volatility30d: decimal.NewFromFloat(vol),
		EMAShort:      decimal.NewFromFloat(emaShort),
		EMALong:       decimal.NewFromFloat(emaLong),
	}
	if len(series) == 1 {
		// keep the degenerate case exact rather than float-rounded
		sig.EMAShort, sig.EMALong, sig.Spread = excess, excess, decimal.Zero
	}
	return sig, components, nil
}

func componentExcess(in SignalInput) []models.ComponentExcess {
	out := make([]models.ComponentExcess, 0, len(in.Components))
	for _, c := range in.Components {
		out = append(out, models.ComponentExcess{Symbol: c.Symbol, Excess: c.RAY.Sub(in.TBill3M)})
	}
	return out
}

// breadth is the share of constituents whose excess beats their own trailing
// EMA. Constituents without prior observations have no baseline and are left
// out of the denominator.
func (p *Processor) breadth(current []models.ComponentExcess, history []models.SignalRecord) float64 {
	if len(current) == 0 {
		return neutralBreadth
	}

	past := make(map[string][]float64, len(current))
	for _, h := range history {
		for _, c := range h.Components {
			past[c.Symbol] = append(past[c.Symbol], c.Excess.InexactFloat64())
		}
	}

	above, eligible := 0, 0
	for _, c := range current {
		series := Tail(past[c.Symbol], p.params.EMALong)
		if len(series) == 0 {
			continue
		}
		eligible++
		if c.Excess.InexactFloat64() > EMA(series, p.params.EMALong) {
			above++
		}
	}
	if eligible == 0 {
		return neutralBreadth
	}
	return 100 * float64(above) / float64(eligible)
}
