// Package nwbollinger combines a Nadaraya-Watson kernel envelope with
// Bollinger bands for mean-reversion entries.
package nwbollinger

import (
	"fmt"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/indicator"
	"github.com/newthinker/arena/internal/strategy"
)

const Name = "nw_bollinger"

// NWBollinger enters when price crosses back inside the kernel envelope on
// the far side of the Bollinger midline, and exits on a Bollinger band break
// in the trade's favour.
type NWBollinger struct{}

func New() *NWBollinger { return &NWBollinger{} }

func (s *NWBollinger) Name() string { return Name }

func (s *NWBollinger) Description() string {
	return "Nadaraya-Watson envelope reversal filtered by Bollinger bands"
}

func (s *NWBollinger) Params() []strategy.ParamSpec {
	return []strategy.ParamSpec{
		strategy.Integer("bb1_period", "Bollinger period", 5, 100, 20),
		strategy.Number("bb1_stddev", "Bollinger width in standard deviations", 0.5, 4, 0.1, 2.0),
		strategy.Number("nw_bandwidth", "Kernel bandwidth in bars", 1, 50, 0.5, 8),
		strategy.Integer("nw_lookback", "Kernel window in bars", 10, 300, 50),
		strategy.Number("nw_mult", "Envelope width in mean absolute errors", 0.5, 5, 0.1, 2.5),
		strategy.Integer("swing_lookback", "Bars scanned for the protective swing extreme", 2, 50, 3),
		strategy.Number("sl_buffer", "Stop distance beyond the swing extreme, percent", 0, 10, 0.1, 1.0),
		strategy.Number("risk_reward", "Take-profit distance as a multiple of risk", 0.5, 10, 0.1, 1.5),
	}
}

func (s *NWBollinger) Evaluate(bars []core.OHLCV, p strategy.Params, longOnly bool) (strategy.Evaluation, error) {
	c := strategy.Split(bars)
	nwMid, nwUpper, nwLower := indicator.NWEnvelope(c.Close, p.Float("nw_bandwidth"), p.Int("nw_lookback"), p.Float("nw_mult"))
	bbMid, bbUpper, bbLower := indicator.Bollinger(c.Close, p.Int("bb1_period"), p.Float("bb1_stddev"))
	swingLow := indicator.Lowest(c.Low, p.Int("swing_lookback"))
	swingHigh := indicator.Highest(c.High, p.Int("swing_lookback"))
	buffer := p.Float("sl_buffer") / 100
	rr := p.Float("risk_reward")

	b := strategy.NewBuilder(bars, longOnly)
	for i := 1; i < len(bars); i++ {
		if !indicator.Valid(nwMid[i], nwUpper[i], nwLower[i], bbMid[i], bbUpper[i], bbLower[i], swingLow[i], swingHigh[i]) {
			continue
		}

		if indicator.CrossOver(c.Close, bbUpper, i) {
			b.Exit(i, core.Long, fmt.Sprintf("close %.2f broke upper Bollinger %.2f", c.Close[i], bbUpper[i]))
		}
		if indicator.CrossUnder(c.Close, bbLower, i) {
			b.Exit(i, core.Short, fmt.Sprintf("close %.2f broke lower Bollinger %.2f", c.Close[i], bbLower[i]))
		}

		switch {
		case indicator.CrossOver(c.Close, nwLower, i) && c.Close[i] < bbMid[i]:
			b.Enter(i, core.Long, swingLow[i]*(1-buffer), rr, 0,
				fmt.Sprintf("close %.2f crossed back above NW lower %.2f", c.Close[i], nwLower[i]))
		case indicator.CrossUnder(c.Close, nwUpper, i) && c.Close[i] > bbMid[i]:
			b.Enter(i, core.Short, swingHigh[i]*(1+buffer), rr, 0,
				fmt.Sprintf("close %.2f crossed back below NW upper %.2f", c.Close[i], nwUpper[i]))
		}
	}

	return strategy.Evaluation{
		Signals: b.Signals(),
		Indicators: map[string][]float64{
			"nw_mid":   nwMid,
			"nw_upper": nwUpper,
			"nw_lower": nwLower,
			"bb_mid":   bbMid,
			"bb_upper": bbUpper,
			"bb_lower": bbLower,
		},
	}, nil
}
