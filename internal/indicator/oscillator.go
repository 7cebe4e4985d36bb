package indicator

// RSI is Wilder's relative strength index, aligned; first value at period.
func RSI(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MFI is the money flow index over period bars, aligned; first value at period.
func MFI(high, low, close, volume []float64, period int) []float64 {
	n := len(close)
	out := nanSeries(n)
	if period <= 0 || n <= period {
		return out
	}

	typical := make([]float64, n)
	for i := range close {
		typical[i] = (high[i] + low[i] + close[i]) / 3
	}

	for i := period; i < n; i++ {
		var pos, neg float64
		for j := i - period + 1; j <= i; j++ {
			flow := typical[j] * volume[j]
			switch {
			case typical[j] > typical[j-1]:
				pos += flow
			case typical[j] < typical[j-1]:
				neg += flow
			}
		}
		out[i] = rsiValue(pos, neg)
	}
	return out
}
