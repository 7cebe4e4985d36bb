// Package moneyflow trades crossings of a cloud built from two EMAs of the
// money flow index.
package moneyflow

import (
	"fmt"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/indicator"
	"github.com/newthinker/arena/internal/strategy"
)

const Name = "money_flow_cloud"

// Cloud enters when the fast MFI average crosses the slow one in the
// direction of the price trend, and exits on the reverse cross.
type Cloud struct{}

func New() *Cloud { return &Cloud{} }

func (m *Cloud) Name() string { return Name }

func (m *Cloud) Description() string {
	return "Money flow cloud: fast/slow MFI averages crossing with a price trend filter"
}

func (m *Cloud) Params() []strategy.ParamSpec {
	return []strategy.ParamSpec{
		strategy.Integer("mfi_period", "Money flow index period", 2, 50, 14),
		strategy.Integer("cloud_fast", "Fast cloud EMA over MFI", 2, 50, 5),
		strategy.Integer("cloud_slow", "Slow cloud EMA over MFI", 3, 100, 20),
		strategy.Integer("trend_period", "Price trend EMA period", 5, 300, 50),
		strategy.Bool("use_trend_filter", "Only enter in the direction of the trend EMA", true),
		strategy.Integer("atr_period", "ATR period", 2, 50, 14),
		strategy.Number("atr_sl_mult", "Stop distance in ATRs", 0.5, 10, 0.1, 2.0),
		strategy.Number("risk_reward", "Take-profit multiple of risk, 0 disables", 0, 10, 0.1, 2.0),
	}
}

func (m *Cloud) Validate(p strategy.Params) error {
	return strategy.Ordered(p, "cloud_fast", "cloud_slow")
}

func (m *Cloud) Evaluate(bars []core.OHLCV, p strategy.Params, longOnly bool) (strategy.Evaluation, error) {
	n := len(bars)
	c := strategy.Split(bars)
	mfi := indicator.MFI(c.High, c.Low, c.Close, c.Volume, p.Int("mfi_period"))
	fast := indicator.EMASeries(mfi, p.Int("cloud_fast"))
	slow := indicator.EMASeries(mfi, p.Int("cloud_slow"))
	trend := indicator.Pad(indicator.EMA(c.Close, p.Int("trend_period")), n)
	atr := indicator.ATR(c.High, c.Low, c.Close, p.Int("atr_period"))
	filter := p.Bool("use_trend_filter")
	slMult := p.Float("atr_sl_mult")
	rr := p.Float("risk_reward")

	b := strategy.NewBuilder(bars, longOnly)
	for i := 1; i < n; i++ {
		if !indicator.Valid(fast[i], slow[i], trend[i], atr[i]) {
			continue
		}

		up := indicator.CrossOver(fast, slow, i)
		down := indicator.CrossUnder(fast, slow, i)
		if down {
			b.Exit(i, core.Long, fmt.Sprintf("money flow turned down (%.1f < %.1f)", fast[i], slow[i]))
		}
		if up {
			b.Exit(i, core.Short, fmt.Sprintf("money flow turned up (%.1f > %.1f)", fast[i], slow[i]))
		}

		switch {
		case up && (!filter || c.Close[i] > trend[i]):
			b.Enter(i, core.Long, c.Close[i]-atr[i]*slMult, rr, 0,
				fmt.Sprintf("cloud bullish cross, mfi %.1f", mfi[i]))
		case down && (!filter || c.Close[i] < trend[i]):
			b.Enter(i, core.Short, c.Close[i]+atr[i]*slMult, rr, 0,
				fmt.Sprintf("cloud bearish cross, mfi %.1f", mfi[i]))
		}
	}

	return strategy.Evaluation{
		Signals: b.Signals(),
		Indicators: map[string][]float64{
			"mfi":        mfi,
			"cloud_fast": fast,
			"cloud_slow": slow,
			"trend":      trend,
		},
	}, nil
}
