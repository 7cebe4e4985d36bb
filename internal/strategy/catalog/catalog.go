// Package catalog is the closed set of evaluators the engine dispatches to.
package catalog

import (
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/strategy/diamond"
	"github.com/newthinker/arena/internal/strategy/hanntrend"
	"github.com/newthinker/arena/internal/strategy/ma_crossover"
	"github.com/newthinker/arena/internal/strategy/moneyflow"
	"github.com/newthinker/arena/internal/strategy/nwbollinger"
	"github.com/newthinker/arena/internal/strategy/regression"
	"go.uber.org/zap"
)

// Names lists every strategy identifier, in display order.
var Names = []string{
	regression.Name,
	nwbollinger.Name,
	diamond.Name,
	moneyflow.Name,
	hanntrend.Name,
	ma_crossover.Name,
}

// All returns one instance of every strategy.
func All() []strategy.Strategy {
	return []strategy.Strategy{
		regression.New(),
		nwbollinger.New(),
		diamond.New(),
		moneyflow.New(),
		hanntrend.New(),
		ma_crossover.New(),
	}
}

// NewEngine returns an engine with the full catalog registered.
func NewEngine(logger *zap.Logger) *strategy.Engine {
	e := strategy.NewEngine(logger)
	for _, s := range All() {
		e.Register(s)
	}
	return e
}
