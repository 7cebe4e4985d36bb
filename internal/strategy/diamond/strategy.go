// Package diamond scores four independent confirmations per bar and enters
// when the score first reaches the configured confluence.
package diamond

import (
	"fmt"
	"math"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/indicator"
	"github.com/newthinker/arena/internal/strategy"
)

const Name = "diamond"

// Diamond is the confluence strategy. Conditions per side: EMA trend,
// RSI momentum away from the extreme, volume expansion and a candle
// breaking the prior bar's range.
type Diamond struct{}

func New() *Diamond { return &Diamond{} }

func (d *Diamond) Name() string { return Name }

func (d *Diamond) Description() string {
	return "Diamond confluence: trend, momentum, volume and breakout confirmations"
}

func (d *Diamond) Params() []strategy.ParamSpec {
	return []strategy.ParamSpec{
		strategy.Integer("ema_fast", "Fast EMA period", 2, 50, 9),
		strategy.Integer("ema_slow", "Slow EMA period", 5, 200, 21),
		strategy.Integer("rsi_period", "RSI period", 2, 50, 14),
		strategy.Integer("volume_period", "Volume average period", 2, 100, 20),
		strategy.Number("volume_mult", "Volume expansion threshold", 0.5, 5, 0.1, 1.2),
		strategy.Integer("min_confluence", "Confirmations required to enter", 1, 4, 3),
		strategy.Integer("atr_period", "ATR period", 2, 50, 14),
		strategy.Number("atr_sl_mult", "Stop distance in ATRs", 0.5, 5, 0.1, 1.5),
		strategy.Number("risk_reward", "Take-profit distance as a multiple of risk", 0.5, 10, 0.1, 2.0),
	}
}

func (d *Diamond) Validate(p strategy.Params) error {
	return strategy.Ordered(p, "ema_fast", "ema_slow")
}

func (d *Diamond) Evaluate(bars []core.OHLCV, p strategy.Params, longOnly bool) (strategy.Evaluation, error) {
	n := len(bars)
	c := strategy.Split(bars)
	fast := indicator.Pad(indicator.EMA(c.Close, p.Int("ema_fast")), n)
	slow := indicator.Pad(indicator.EMA(c.Close, p.Int("ema_slow")), n)
	rsi := indicator.RSI(c.Close, p.Int("rsi_period"))
	volAvg := indicator.Pad(indicator.SMA(c.Volume, p.Int("volume_period")), n)
	atr := indicator.ATR(c.High, c.Low, c.Close, p.Int("atr_period"))
	minScore := p.Float("min_confluence")
	slMult := p.Float("atr_sl_mult")
	rr := p.Float("risk_reward")

	longScore := make([]float64, n)
	shortScore := make([]float64, n)
	for i := range longScore {
		longScore[i], shortScore[i] = math.NaN(), math.NaN()
	}

	b := strategy.NewBuilder(bars, longOnly)
	for i := 1; i < n; i++ {
		if !indicator.Valid(fast[i], slow[i], rsi[i], rsi[i-1], volAvg[i], atr[i]) {
			continue
		}

		volume := c.Volume[i] > volAvg[i]*p.Float("volume_mult")
		long := count(
			fast[i] > slow[i],
			rsi[i] > rsi[i-1] && rsi[i] < 70,
			volume,
			c.Close[i] > c.Open[i] && c.Close[i] > c.High[i-1],
		)
		short := count(
			fast[i] < slow[i],
			rsi[i] < rsi[i-1] && rsi[i] > 30,
			volume,
			c.Close[i] < c.Open[i] && c.Close[i] < c.Low[i-1],
		)
		longScore[i], shortScore[i] = long, short

		switch {
		case long >= minScore && prior(longScore, i) < minScore && long > short:
			b.Enter(i, core.Long, c.Close[i]-atr[i]*slMult, rr, 0,
				fmt.Sprintf("long confluence %.0f/4 (rsi %.1f)", long, rsi[i]))
		case short >= minScore && prior(shortScore, i) < minScore && short > long:
			b.Enter(i, core.Short, c.Close[i]+atr[i]*slMult, rr, 0,
				fmt.Sprintf("short confluence %.0f/4 (rsi %.1f)", short, rsi[i]))
		}
	}

	return strategy.Evaluation{
		Signals: b.Signals(),
		Indicators: map[string][]float64{
			"ema_fast":    fast,
			"ema_slow":    slow,
			"rsi":         rsi,
			"long_score":  longScore,
			"short_score": shortScore,
		},
	}, nil
}

func count(conds ...bool) float64 {
	var n float64
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}

func prior(score []float64, i int) float64 {
	if math.IsNaN(score[i-1]) {
		return 0
	}
	return score[i-1]
}
