package strategy

import (
	"github.com/newthinker/arena/internal/core"
)

// Evaluation is the output of one evaluator pass over a bar series.
// Indicator series are aligned with the input bars; warm-up values are NaN.
type Evaluation struct {
	Signals    []core.Signal
	Indicators map[string][]float64
}

// Strategy defines the evaluator contract every trading strategy implements.
//
// Evaluate must be pure: identical bars and params always yield identical
// output. A signal at bar i may only depend on bars[0..i]. Histories shorter
// than the strategy's lookback yield no signals rather than an error.
type Strategy interface {
	Name() string
	Description() string
	Params() []ParamSpec
	Evaluate(bars []core.OHLCV, params Params, longOnly bool) (Evaluation, error)
}

// Validator is implemented by strategies with cross-parameter constraints.
type Validator interface {
	Validate(params Params) error
}

// Evaluate resolves raw params against s's bounds and runs it. This is the
// single entry point shared by the backtest and live paths.
func Evaluate(s Strategy, bars []core.OHLCV, raw map[string]any, longOnly bool) (Evaluation, Params, error) {
	params, err := Resolve(s, raw)
	if err != nil {
		return Evaluation{}, nil, err
	}
	eval, err := s.Evaluate(bars, params, longOnly)
	if err != nil {
		return Evaluation{}, nil, err
	}
	if eval.Indicators == nil {
		eval.Indicators = map[string][]float64{}
	}
	return eval, params, nil
}

// Columns splits bars into per-field series.
type Columns struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// Split builds Columns from bars.
func Split(bars []core.OHLCV) Columns {
	c := Columns{
		Open:   make([]float64, len(bars)),
		High:   make([]float64, len(bars)),
		Low:    make([]float64, len(bars)),
		Close:  make([]float64, len(bars)),
		Volume: make([]float64, len(bars)),
	}
	for i, b := range bars {
		c.Open[i] = b.Open
		c.High[i] = b.High
		c.Low[i] = b.Low
		c.Close[i] = b.Close
		c.Volume[i] = b.Volume
	}
	return c
}
