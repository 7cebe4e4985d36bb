// Package regression implements a mean-reversion scalper around a rolling
// linear regression channel.
package regression

import (
	"fmt"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/indicator"
	"github.com/newthinker/arena/internal/strategy"
)

const Name = "regression_scalping"

// Scalper buys dips back into the channel while the regression slopes up,
// and sells rallies back into it while the slope is down.
type Scalper struct{}

// New creates the regression scalping strategy.
func New() *Scalper { return &Scalper{} }

func (s *Scalper) Name() string { return Name }

func (s *Scalper) Description() string {
	return "Regression channel scalping: re-entry into a linear regression channel in the direction of its slope"
}

func (s *Scalper) Params() []strategy.ParamSpec {
	return []strategy.ParamSpec{
		strategy.Integer("reg_period", "Regression window in bars", 10, 200, 50),
		strategy.Number("reg_mult", "Channel width in residual standard deviations", 0.5, 4, 0.1, 2.0),
		strategy.Integer("swing_lookback", "Bars scanned for the protective swing extreme", 2, 50, 5),
		strategy.Number("sl_buffer", "Stop distance beyond the swing extreme, percent", 0, 10, 0.1, 1.5),
		strategy.Number("risk_reward", "Take-profit distance as a multiple of risk", 0.5, 10, 0.1, 2.0),
		strategy.Bool("exit_at_mean", "Close when price crosses the regression line", false),
	}
}

func (s *Scalper) Evaluate(bars []core.OHLCV, p strategy.Params, longOnly bool) (strategy.Evaluation, error) {
	period := p.Int("reg_period")
	mult := p.Float("reg_mult")
	buffer := p.Float("sl_buffer") / 100
	rr := p.Float("risk_reward")

	c := strategy.Split(bars)
	mid, dev, slope := indicator.LinRegChannel(c.Close, period)
	upper := make([]float64, len(bars))
	lower := make([]float64, len(bars))
	for i := range bars {
		upper[i] = mid[i] + mult*dev[i]
		lower[i] = mid[i] - mult*dev[i]
	}
	swingLow := indicator.Lowest(c.Low, p.Int("swing_lookback"))
	swingHigh := indicator.Highest(c.High, p.Int("swing_lookback"))

	b := strategy.NewBuilder(bars, longOnly)
	for i := period; i < len(bars); i++ {
		if !indicator.Valid(mid[i], dev[i], lower[i-1], upper[i-1], swingLow[i], swingHigh[i]) {
			continue
		}

		if p.Bool("exit_at_mean") {
			if indicator.CrossOver(c.Close, mid, i) {
				b.Exit(i, core.Long, fmt.Sprintf("close %.2f reclaimed regression mean %.2f", c.Close[i], mid[i]))
			}
			if indicator.CrossUnder(c.Close, mid, i) {
				b.Exit(i, core.Short, fmt.Sprintf("close %.2f lost regression mean %.2f", c.Close[i], mid[i]))
			}
		}

		switch {
		case slope[i] > 0 && c.Close[i-1] < lower[i-1] && c.Close[i] >= lower[i]:
			stop := swingLow[i] * (1 - buffer)
			b.Enter(i, core.Long, stop, rr, 0,
				fmt.Sprintf("re-entered channel above lower band %.2f (slope %.4f)", lower[i], slope[i]))
		case slope[i] < 0 && c.Close[i-1] > upper[i-1] && c.Close[i] <= upper[i]:
			stop := swingHigh[i] * (1 + buffer)
			b.Enter(i, core.Short, stop, rr, 0,
				fmt.Sprintf("re-entered channel below upper band %.2f (slope %.4f)", upper[i], slope[i]))
		}
	}

	return strategy.Evaluation{
		Signals: b.Signals(),
		Indicators: map[string][]float64{
			"reg_mid":   mid,
			"reg_upper": upper,
			"reg_lower": lower,
		},
	}, nil
}
