package indicator

import "math"

// SMA calculates Simple Moving Average
// Returns slice of length: len(prices) - period + 1
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)

	// Calculate first SMA
	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	result = append(result, sum/float64(period))

	// Rolling calculation
	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		result = append(result, sum/float64(period))
	}

	return result
}

// EMA calculates Exponential Moving Average seeded with the first SMA.
// Returns slice of length: len(prices) - period + 1
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)
	multiplier := 2.0 / float64(period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)
	result = append(result, ema)

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
		result = append(result, ema)
	}

	return result
}

// Pad left-pads values with NaN up to length n, aligning a shortened
// series with the bars it was computed from.
func Pad(values []float64, n int) []float64 {
	out := make([]float64, n)
	offset := n - len(values)
	for i := range out {
		if i < offset {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i-offset]
	}
	return out
}

// SMASeries is SMA aligned to values, skipping a leading NaN warm-up.
func SMASeries(values []float64, period int) []float64 {
	start := firstValid(values)
	return Pad(SMA(values[start:], period), len(values))
}

// EMASeries is EMA aligned to values, skipping a leading NaN warm-up.
func EMASeries(values []float64, period int) []float64 {
	start := firstValid(values)
	return Pad(EMA(values[start:], period), len(values))
}

func firstValid(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i
		}
	}
	return len(values)
}

// Valid reports whether every value is a number.
func Valid(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
