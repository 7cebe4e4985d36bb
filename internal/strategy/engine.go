package strategy

import (
	"sort"
	"sync"

	"github.com/newthinker/arena/internal/core"
	"go.uber.org/zap"
)

// Engine is the registry strategies are dispatched from by name.
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *zap.Logger
}

// NewEngine creates a new strategy engine
func NewEngine(logger ...*zap.Logger) *Engine {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Engine{
		strategies: make(map[string]Strategy),
		logger:     l,
	}
}

// Register adds a strategy to the engine
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
}

// Get retrieves a strategy by name
func (e *Engine) Get(name string) (Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[name]
	return s, ok
}

// Lookup is Get returning STRATEGY_NOT_FOUND for unknown names.
func (e *Engine) Lookup(name string) (Strategy, error) {
	s, ok := e.Get(name)
	if !ok {
		return nil, core.Errorf(core.ErrStrategyNotFound, "unknown strategy %q", name)
	}
	return s, nil
}

// GetAll returns all registered strategies sorted by name
func (e *Engine) GetAll() []Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Evaluate dispatches to the named strategy.
func (e *Engine) Evaluate(name string, bars []core.OHLCV, raw map[string]any, longOnly bool) (Evaluation, Params, error) {
	s, err := e.Lookup(name)
	if err != nil {
		return Evaluation{}, nil, err
	}

	eval, params, err := Evaluate(s, bars, raw, longOnly)
	if err != nil {
		e.logger.Debug("strategy evaluation rejected",
			zap.String("strategy", name),
			zap.Error(err),
		)
		return Evaluation{}, nil, err
	}
	return eval, params, nil
}
