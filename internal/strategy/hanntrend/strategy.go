// Package hanntrend follows turns of a Hann-window filtered close and
// protects the ride with an ATR trailing stop.
package hanntrend

import (
	"fmt"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/indicator"
	"github.com/newthinker/arena/internal/strategy"
)

const Name = "hann_trend"

// HannTrend enters on a turn of the filter slope and exits on the next
// opposite turn, unless the trailing stop takes the trade out first.
type HannTrend struct{}

func New() *HannTrend { return &HannTrend{} }

func (h *HannTrend) Name() string { return Name }

func (h *HannTrend) Description() string {
	return "Hann-window trend filter slope turns with ATR trailing stop"
}

func (h *HannTrend) Params() []strategy.ParamSpec {
	return []strategy.ParamSpec{
		strategy.Integer("hann_length", "Hann window length", 4, 200, 20),
		strategy.Integer("atr_period", "ATR period", 2, 50, 14),
		strategy.Number("atr_sl_mult", "Initial stop distance in ATRs", 0.5, 10, 0.1, 2.0),
		strategy.Number("trail_atr_mult", "Trailing stop distance in ATRs, 0 disables", 0, 10, 0.1, 2.5),
		strategy.Number("risk_reward", "Take-profit multiple of risk, 0 disables", 0, 10, 0.1, 0),
	}
}

func (h *HannTrend) Evaluate(bars []core.OHLCV, p strategy.Params, longOnly bool) (strategy.Evaluation, error) {
	c := strategy.Split(bars)
	filt := indicator.Hann(c.Close, p.Int("hann_length"))
	atr := indicator.ATR(c.High, c.Low, c.Close, p.Int("atr_period"))
	slMult := p.Float("atr_sl_mult")
	trailMult := p.Float("trail_atr_mult")
	rr := p.Float("risk_reward")

	b := strategy.NewBuilder(bars, longOnly)
	for i := 2; i < len(bars); i++ {
		if !indicator.Valid(filt[i], filt[i-1], filt[i-2], atr[i]) {
			continue
		}

		up := filt[i] > filt[i-1] && filt[i-1] <= filt[i-2]
		down := filt[i] < filt[i-1] && filt[i-1] >= filt[i-2]
		trail := atr[i] * trailMult

		if down {
			b.Exit(i, core.Long, fmt.Sprintf("hann filter turned down at %.2f", filt[i]))
		}
		if up {
			b.Exit(i, core.Short, fmt.Sprintf("hann filter turned up at %.2f", filt[i]))
		}

		switch {
		case up:
			b.Enter(i, core.Long, c.Close[i]-atr[i]*slMult, rr, trail,
				fmt.Sprintf("hann filter turned up at %.2f", filt[i]))
		case down:
			b.Enter(i, core.Short, c.Close[i]+atr[i]*slMult, rr, trail,
				fmt.Sprintf("hann filter turned down at %.2f", filt[i]))
		}
	}

	return strategy.Evaluation{
		Signals: b.Signals(),
		Indicators: map[string][]float64{
			"hann": filt,
			"atr":  atr,
		},
	}, nil
}
