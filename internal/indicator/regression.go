package indicator

import "math"

// LinRegChannel fits a least-squares line over each trailing window of
// period values. mid is the fitted value at the window's last point, dev
// the standard deviation of residuals around the line and slope the
// per-bar gradient. All series are aligned to values.
func LinRegChannel(values []float64, period int) (mid, dev, slope []float64) {
	n := len(values)
	mid, dev, slope = nanSeries(n), nanSeries(n), nanSeries(n)
	if period < 2 {
		return mid, dev, slope
	}

	p := float64(period)
	sumX := p * (p - 1) / 2
	sumXX := (p - 1) * p * (2*p - 1) / 6
	denom := p*sumXX - sumX*sumX

	for i := period - 1; i < n; i++ {
		var sumY, sumXY float64
		for k := 0; k < period; k++ {
			y := values[i-period+1+k]
			sumY += y
			sumXY += float64(k) * y
		}
		b := (p*sumXY - sumX*sumY) / denom
		a := (sumY - b*sumX) / p

		var sq float64
		for k := 0; k < period; k++ {
			r := values[i-period+1+k] - (a + b*float64(k))
			sq += r * r
		}
		mid[i] = a + b*(p-1)
		dev[i] = math.Sqrt(sq / p)
		slope[i] = b
	}
	return mid, dev, slope
}

// NadarayaWatson is a causal Gaussian-kernel regression: each point is the
// kernel-weighted mean of the trailing lookback values, weight
// exp(-k^2 / (2 h^2)) for a value k bars back. It never repaints.
func NadarayaWatson(values []float64, bandwidth float64, lookback int) []float64 {
	out := nanSeries(len(values))
	if lookback <= 0 || bandwidth <= 0 {
		return out
	}

	weights := make([]float64, lookback)
	var total float64
	for k := range weights {
		weights[k] = math.Exp(-float64(k*k) / (2 * bandwidth * bandwidth))
		total += weights[k]
	}

	for i := lookback - 1; i < len(values); i++ {
		var acc float64
		for k, w := range weights {
			acc += w * values[i-k]
		}
		out[i] = acc / total
	}
	return out
}

// NWEnvelope surrounds the kernel estimate with mult times the mean
// absolute deviation of values from it over the trailing lookback.
func NWEnvelope(values []float64, bandwidth float64, lookback int, mult float64) (mid, upper, lower []float64) {
	n := len(values)
	mid = NadarayaWatson(values, bandwidth, lookback)
	upper, lower = nanSeries(n), nanSeries(n)
	if lookback <= 0 {
		return mid, upper, lower
	}

	for i := 2*lookback - 2; i < n; i++ {
		var mae float64
		for j := i - lookback + 1; j <= i; j++ {
			mae += math.Abs(values[j] - mid[j])
		}
		mae /= float64(lookback)
		upper[i] = mid[i] + mult*mae
		lower[i] = mid[i] - mult*mae
	}
	return mid, upper, lower
}
