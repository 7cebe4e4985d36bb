package regression

import (
	"errors"
	"math"
	"testing"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/strategy/strategytest"
)

func TestScalper_UptrendProducesEntries(t *testing.T) {
	bars := strategytest.Uptrend(100)

	eval, _, err := strategy.Evaluate(New(), bars, map[string]any{"risk_reward": 2.0, "sl_buffer": 1.5}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := 0
	for _, sig := range eval.Signals {
		if !sig.Kind.IsEntry() {
			continue
		}
		entries++
		if sig.Kind != core.EntryLong {
			t.Errorf("uptrend should only buy dips, got %s", sig.Kind)
		}
		ratio := math.Abs(sig.TakeProfit-sig.Price) / math.Abs(sig.Price-sig.StopLoss)
		if math.Abs(ratio-2.0) > 1e-9 {
			t.Errorf("reward/risk = %f, want 2.0", ratio)
		}
	}
	if entries == 0 {
		t.Fatal("expected at least one entry")
	}
}

func TestScalper_StopBelowSwingLow(t *testing.T) {
	bars := strategytest.Uptrend(100)

	eval, _, err := strategy.Evaluate(New(), bars, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, sig := range eval.Signals {
		if sig.Kind != core.EntryLong {
			continue
		}
		if sig.StopLoss >= sig.Price {
			t.Errorf("stop %f not below entry %f", sig.StopLoss, sig.Price)
		}
	}
}

func TestScalper_RejectsOutOfRange(t *testing.T) {
	_, _, err := strategy.Evaluate(New(), strategytest.Uptrend(60), map[string]any{"reg_period": 5}, false)
	if err == nil {
		t.Fatal("expected error")
	}

	var pe *core.ParamError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParamError, got %v", err)
	}
	if pe.Key != "reg_period" {
		t.Errorf("offending key = %q", pe.Key)
	}
}

func TestScalper_Indicators(t *testing.T) {
	eval, _, err := strategy.Evaluate(New(), strategytest.Uptrend(100), nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"reg_mid", "reg_upper", "reg_lower"} {
		if _, ok := eval.Indicators[name]; !ok {
			t.Errorf("missing indicator %s", name)
		}
	}
}
