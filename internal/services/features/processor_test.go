package features

import (
	"testing"
	"time"

	"RegimeWatch/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func historyOf(excess ...float64) []models.SignalRecord {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.SignalRecord, 0, len(excess))
	for i, e := range excess {
		out = append(out, models.SignalRecord{
			Date:   start.AddDate(0, 0, i),
			Signal: models.RegimeSignal{SYIExcess: decimal.NewFromFloat(e)},
		})
	}
	return out
}

func TestComputeExcessIsExact(t *testing.T) {
	p := NewProcessor(models.DefaultRegimeParameters())

	sig, _, err := p.Compute(SignalInput{SYI: d("0.0445"), TBill3M: d("0.0530")}, nil)
	require.NoError(t, err)
	assert.InDelta(t, -0.0085, sig.SYIExcess.InexactFloat64(), 1e-6)

	sig, _, err = p.Compute(SignalInput{SYI: d("0.0500"), TBill3M: d("0.0450")}, nil)
	require.NoError(t, err)
	assert.True(t, sig.SYIExcess.Equal(d("0.0050")), "got %s", sig.SYIExcess)
}

func TestComputeSinglePointSeries(t *testing.T) {
	p := NewProcessor(models.DefaultRegimeParameters())

	sig, _, err := p.Compute(SignalInput{SYI: d("0.0600"), TBill3M: d("0.0400")}, nil)
	require.NoError(t, err)

	assert.True(t, sig.EMAShort.Equal(d("0.02")))
	assert.True(t, sig.EMALong.Equal(d("0.02")))
	assert.True(t, sig.Spread.IsZero())
	assert.True(t, sig.Slope7.IsZero())
	assert.True(t, sig.ZScore.IsZero())
	assert.InDelta(t, 0.001, sig.Volatility30d.InexactFloat64(), 1e-12, "falls back to epsilon")
}

func TestComputeRisingSeriesHasPositiveMomentum(t *testing.T) {
	p := NewProcessor(models.DefaultRegimeParameters())
	hist := make([]float64, 0, 40)
	for i := 0; i < 40; i++ {
		hist = append(hist, -0.01+float64(i)*0.0005)
	}

	sig, _, err := p.Compute(SignalInput{SYI: d("0.0500"), TBill3M: d("0.0400")}, historyOf(hist...))
	require.NoError(t, err)

	assert.True(t, sig.Spread.IsPositive())
	assert.True(t, sig.ZScore.IsPositive())
	assert.True(t, sig.Slope7.IsPositive())
	assert.True(t, sig.EMAShort.GreaterThan(sig.EMALong))
}

func TestComputeRejectsNonFinite(t *testing.T) {
	p := NewProcessor(models.DefaultRegimeParameters())

	_, _, err := p.Compute(SignalInput{SYI: d("1e400"), TBill3M: d("0")}, historyOf(0.01, 0.02))
	require.Error(t, err)
	assert.True(t, models.IsComputation(err))
}

func TestBreadthEmptyComponentsIsNeutral(t *testing.T) {
	p := NewProcessor(models.DefaultRegimeParameters())

	sig, comps, err := p.Compute(SignalInput{SYI: d("0.05"), TBill3M: d("0.04")}, historyOf(0.01))
	require.NoError(t, err)
	assert.Empty(t, comps)
	assert.True(t, sig.BreadthPct.Equal(d("50")))
}

func TestBreadthAgainstPerSymbolBaseline(t *testing.T) {
	p := NewProcessor(models.DefaultRegimeParameters())
	hist := historyOf(0.01, 0.01, 0.01)
	for i := range hist {
		hist[i].Components = []models.ComponentExcess{
			{Symbol: "USDC", Excess: d("0.010")},
			{Symbol: "DAI", Excess: d("0.030")},
		}
	}

	in := SignalInput{
		SYI:     d("0.05"),
		TBill3M: d("0.04"),
		Components: []models.Component{
			{Symbol: "USDC", RAY: d("0.060")}, // excess 0.02 > 0.01
			{Symbol: "DAI", RAY: d("0.060")},  // excess 0.02 < 0.03
			{Symbol: "NEW", RAY: d("0.090")},  // no baseline
		},
	}
	sig, comps, err := p.Compute(in, hist)
	require.NoError(t, err)

	require.Len(t, comps, 3)
	assert.True(t, comps[0].Excess.Equal(d("0.02")))
	assert.True(t, sig.BreadthPct.Equal(d("50")), "got %s", sig.BreadthPct)
}

func TestBreadthWithinBounds(t *testing.T) {
	p := NewProcessor(models.DefaultRegimeParameters())
	hist := historyOf(0.01, 0.01)
	for i := range hist {
		hist[i].Components = []models.ComponentExcess{{Symbol: "A", Excess: d("0.01")}, {Symbol: "B", Excess: d("0.01")}}
	}

	for _, ray := range []string{"-1", "0", "0.05", "1"} {
		sig, _, err := p.Compute(SignalInput{
			SYI:        d("0.05"),
			TBill3M:    d("0.04"),
			Components: []models.Component{{Symbol: "A", RAY: d(ray)}, {Symbol: "B", RAY: d(ray)}},
		}, hist)
		require.NoError(t, err)
		b := sig.BreadthPct.InexactFloat64()
		assert.GreaterOrEqual(t, b, 0.0)
		assert.LessOrEqual(t, b, 100.0)
	}
}
