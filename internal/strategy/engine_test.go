package strategy

import (
	"errors"
	"testing"

	"github.com/newthinker/arena/internal/core"
)

func TestEngine_RegisterAndLookup(t *testing.T) {
	engine := NewEngine()
	engine.Register(newStub())

	s, err := engine.Lookup("stub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "stub" {
		t.Errorf("got %s", s.Name())
	}

	_, err = engine.Lookup("missing")
	if !errors.Is(err, core.ErrStrategyNotFound) {
		t.Errorf("expected STRATEGY_NOT_FOUND, got %v", err)
	}
}

func TestEngine_EvaluateValidatesParams(t *testing.T) {
	engine := NewEngine()
	engine.Register(newStub())

	_, _, err := engine.Evaluate("stub", nil, map[string]any{"period": 1000}, false)
	if !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("expected INVALID_PARAMETER, got %v", err)
	}

	eval, params, err := engine.Evaluate("stub", nil, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Indicators == nil {
		t.Error("indicators map should be initialised")
	}
	if params.Int("period") != 20 {
		t.Errorf("period = %d", params.Int("period"))
	}
}

func TestEngine_GetAllSorted(t *testing.T) {
	engine := NewEngine()
	engine.Register(&namedStub{name: "b"})
	engine.Register(&namedStub{name: "a"})

	all := engine.GetAll()
	if len(all) != 2 || all[0].Name() != "a" {
		t.Errorf("expected sorted strategies, got %d", len(all))
	}
}

type namedStub struct {
	stubStrategy
	name string
}

func (n *namedStub) Name() string { return n.name }
