package indicator

import "math"

// Hann smooths values with a Hann-window FIR of the given length,
// aligned; first value at length-1. The window tapers both ends, so the
// filter lags less than an SMA of the same length.
func Hann(values []float64, length int) []float64 {
	out := nanSeries(len(values))
	if length <= 0 {
		return out
	}

	weights := make([]float64, length)
	var total float64
	for k := 1; k <= length; k++ {
		w := 1 - math.Cos(2*math.Pi*float64(k)/float64(length+1))
		weights[k-1] = w
		total += w
	}

	for i := length - 1; i < len(values); i++ {
		var acc float64
		for k, w := range weights {
			acc += w * values[i-k]
		}
		out[i] = acc / total
	}
	return out
}
