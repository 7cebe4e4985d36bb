// Package strategytest builds deterministic synthetic bar series for tests.
package strategytest

import (
	"math"
	"time"

	"github.com/newthinker/arena/internal/core"
)

// Start is the timestamp of the first synthetic bar.
var Start = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

// FromCloses builds hourly bars opening at the previous close (the first
// at firstOpen) with a fixed wick above and below the body.
func FromCloses(symbol string, closes []float64, wick, firstOpen float64) []core.OHLCV {
	bars := make([]core.OHLCV, len(closes))
	prev := firstOpen
	for i, c := range closes {
		open := prev
		bars[i] = core.OHLCV{
			Symbol:   symbol,
			Interval: "1h",
			Time:     Start.Add(time.Duration(i) * time.Hour),
			Open:     open,
			High:     math.Max(open, c) + wick,
			Low:      math.Min(open, c) - wick,
			Close:    c,
			Volume:   float64(1000 + (i*53)%17*60),
		}
		prev = c
	}
	return bars
}

// Uptrend rises half a point per bar with a small oscillation and a sharp
// one-bar dip every twelve bars.
func Uptrend(n int) []core.OHLCV {
	closes := make([]float64, n)
	for i := range closes {
		base := 100 + 0.5*float64(i)
		closes[i] = base + math.Sin(float64(i)*0.7)
		if i%12 == 6 {
			closes[i] = base - 4
		}
	}
	return FromCloses("UP", closes, 0.3, 100)
}

// Wave oscillates around 100 with the given amplitude, period and drift
// per bar, plus a deterministic jitter.
func Wave(n int, amplitude, period, drift float64) []core.OHLCV {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + drift*float64(i) + amplitude*math.Sin(2*math.Pi*float64(i)/period) + jitter(i)
	}
	return FromCloses("WAVE", closes, 0.4, 100)
}

// Shocks is a gentle wave with a one-bar spike every 25 bars, alternating
// down and up.
func Shocks(n int) []core.OHLCV {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 3*math.Sin(2*math.Pi*float64(i)/40) + jitter(i)
		if i%25 == 24 {
			if (i/25)%2 == 0 {
				closes[i] -= 7
			} else {
				closes[i] += 7
			}
		}
	}
	return FromCloses("SHOCK", closes, 0.4, 100)
}

func jitter(i int) float64 {
	return float64((i*37)%11-5) / 10
}
