package indicator

import "math"

// StdDev is the rolling population standard deviation, aligned to values.
func StdDev(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += values[j]
		}
		mean := sum / float64(period)
		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			sq += d * d
		}
		out[i] = math.Sqrt(sq / float64(period))
	}
	return out
}

// Bollinger returns the middle, upper and lower bands.
func Bollinger(values []float64, period int, mult float64) (mid, upper, lower []float64) {
	mid = Pad(SMA(values, period), len(values))
	sd := StdDev(values, period)
	upper = nanSeries(len(values))
	lower = nanSeries(len(values))
	for i := range values {
		if !Valid(mid[i], sd[i]) {
			continue
		}
		upper[i] = mid[i] + mult*sd[i]
		lower[i] = mid[i] - mult*sd[i]
	}
	return mid, upper, lower
}

// TrueRange of each bar; the first bar uses high-low.
func TrueRange(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		tr := high[i] - low[i]
		if i > 0 {
			tr = math.Max(tr, math.Abs(high[i]-close[i-1]))
			tr = math.Max(tr, math.Abs(low[i]-close[i-1]))
		}
		out[i] = tr
	}
	return out
}

// ATR is Wilder's average true range, aligned; first value at period-1.
func ATR(high, low, close []float64, period int) []float64 {
	out := nanSeries(len(close))
	if period <= 0 || len(close) < period {
		return out
	}
	tr := TrueRange(high, low, close)
	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period-1] = atr
	for i := period; i < len(close); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
