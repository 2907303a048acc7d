package features

import "math"

// EMA computes a recursive exponential moving average over series with
// alpha = 2/(period+1), seeded with the first value. It returns the last value.
func EMA(series []float64, period int) float64 {
	if len(series) == 0 {
		return 0
	}
	if period < 1 {
		period = 1
	}
	alpha := 2.0 / float64(period+1)
	ema := series[0]
	for _, v := range series[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// SampleStdDev returns the n-1 standard deviation of series, or (0, false)
// with fewer than two points.
func SampleStdDev(series []float64) (float64, bool) {
	n := len(series)
	if n < 2 {
		return 0, false
	}
	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)
	ss := 0.0
	for _, v := range series {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1)), true
}

// OLSSlope fits y against x = 0..n-1 and returns the slope. Fewer than two
// points yields 0.
func OLSSlope(y []float64) float64 {
	n := len(y)
	if n < 2 {
		return 0
	}
	fn := float64(n)
	xMean := (fn - 1) / 2
	yMean := 0.0
	for _, v := range y {
		yMean += v
	}
	yMean /= fn
	num, den := 0.0, 0.0
	for i, v := range y {
		dx := float64(i) - xMean
		num += dx * (v - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Tail returns the last n elements of series (all of it when shorter).
func Tail(series []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(series) <= n {
		return series
	}
	return series[len(series)-n:]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
