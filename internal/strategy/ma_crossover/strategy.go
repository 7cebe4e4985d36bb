package ma_crossover

import (
	"fmt"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/indicator"
	"github.com/newthinker/arena/internal/strategy"
)

const Name = "ma_crossover"

// MACrossover implements a moving average crossover strategy
type MACrossover struct{}

// New creates a new MA Crossover strategy
func New() *MACrossover {
	return &MACrossover{}
}

func (m *MACrossover) Name() string {
	return Name
}

func (m *MACrossover) Description() string {
	return "MA Crossover: golden and death crosses of two simple moving averages"
}

func (m *MACrossover) Params() []strategy.ParamSpec {
	return []strategy.ParamSpec{
		strategy.Integer("fast_period", "Fast SMA period", 2, 100, 10),
		strategy.Integer("slow_period", "Slow SMA period", 3, 400, 30),
		strategy.Number("sl_pct", "Stop distance from entry, percent", 0.1, 50, 0.1, 3),
		strategy.Number("risk_reward", "Take-profit multiple of risk, 0 disables", 0, 10, 0.1, 2),
	}
}

func (m *MACrossover) Validate(p strategy.Params) error {
	return strategy.Ordered(p, "fast_period", "slow_period")
}

func (m *MACrossover) Evaluate(bars []core.OHLCV, p strategy.Params, longOnly bool) (strategy.Evaluation, error) {
	fastPeriod, slowPeriod := p.Int("fast_period"), p.Int("slow_period")
	slPct := p.Float("sl_pct") / 100
	rr := p.Float("risk_reward")

	c := strategy.Split(bars)
	fastMA := indicator.Pad(indicator.SMA(c.Close, fastPeriod), len(bars))
	slowMA := indicator.Pad(indicator.SMA(c.Close, slowPeriod), len(bars))

	b := strategy.NewBuilder(bars, longOnly)
	for i := 1; i < len(bars); i++ {
		currFast, currSlow := fastMA[i], slowMA[i]

		// Golden Cross: fast crosses above slow
		if indicator.CrossOver(fastMA, slowMA, i) {
			reason := fmt.Sprintf("Golden Cross: MA%d (%.2f) crossed above MA%d (%.2f)", fastPeriod, currFast, slowPeriod, currSlow)
			b.Exit(i, core.Short, reason)
			b.Enter(i, core.Long, c.Close[i]*(1-slPct), rr, 0, reason)
		}

		// Death Cross: fast crosses below slow
		if indicator.CrossUnder(fastMA, slowMA, i) {
			reason := fmt.Sprintf("Death Cross: MA%d (%.2f) crossed below MA%d (%.2f)", fastPeriod, currFast, slowPeriod, currSlow)
			b.Exit(i, core.Long, reason)
			if !longOnly {
				b.Enter(i, core.Short, c.Close[i]*(1+slPct), rr, 0, reason)
			}
		}
	}

	return strategy.Evaluation{
		Signals: b.Signals(),
		Indicators: map[string][]float64{
			fmt.Sprintf("sma_%d", fastPeriod): fastMA,
			fmt.Sprintf("sma_%d", slowPeriod): slowMA,
		},
	}, nil
}
