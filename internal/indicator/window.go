package indicator

// Highest is the rolling maximum over period bars, aligned.
func Highest(values []float64, period int) []float64 {
	return rolling(values, period, func(a, b float64) bool { return a > b })
}

// Lowest is the rolling minimum over period bars, aligned.
func Lowest(values []float64, period int) []float64 {
	return rolling(values, period, func(a, b float64) bool { return a < b })
}

func rolling(values []float64, period int, better func(a, b float64) bool) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		best := values[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			if better(values[j], best) {
				best = values[j]
			}
		}
		out[i] = best
	}
	return out
}

// CrossOver reports whether a crossed above b at index i.
func CrossOver(a, b []float64, i int) bool {
	if i < 1 || !Valid(a[i], b[i], a[i-1], b[i-1]) {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

// CrossUnder reports whether a crossed below b at index i.
func CrossUnder(a, b []float64, i int) bool {
	if i < 1 || !Valid(a[i], b[i], a[i-1], b[i-1]) {
		return false
	}
	return a[i-1] >= b[i-1] && a[i] < b[i]
}
