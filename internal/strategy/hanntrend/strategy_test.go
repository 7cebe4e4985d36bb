package hanntrend

import (
	"testing"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/strategy/strategytest"
)

func TestHannTrend_TurnsAlternate(t *testing.T) {
	eval, _, err := strategy.Evaluate(New(), strategytest.Wave(300, 8, 40, 0), nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entries []core.Signal
	for _, sig := range eval.Signals {
		if sig.Kind.IsEntry() {
			entries = append(entries, sig)
		}
	}
	if len(entries) < 4 {
		t.Fatalf("expected several turns on a wave, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Kind == entries[i-1].Kind {
			t.Errorf("turns should alternate, got %s twice at %s", entries[i].Kind, entries[i].Time)
		}
	}
}

func TestHannTrend_TrailingWithoutTarget(t *testing.T) {
	eval, _, err := strategy.Evaluate(New(), strategytest.Wave(300, 8, 40, 0), nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, sig := range eval.Signals {
		if sig.Kind != core.EntryLong {
			continue
		}
		found = true
		if sig.TrailDistance <= 0 {
			t.Errorf("expected trailing distance, got %f", sig.TrailDistance)
		}
		if sig.TakeProfit != 0 {
			t.Errorf("default risk_reward 0 should leave take-profit unset, got %f", sig.TakeProfit)
		}
	}
	if !found {
		t.Fatal("expected a long entry")
	}
}

func TestHannTrend_TrailingDisabled(t *testing.T) {
	eval, _, err := strategy.Evaluate(New(), strategytest.Wave(300, 8, 40, 0), map[string]any{"trail_atr_mult": 0, "risk_reward": 1.5}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, sig := range eval.Signals {
		if sig.Kind.IsEntry() && (sig.TrailDistance != 0 || sig.TakeProfit == 0) {
			t.Errorf("unexpected levels: %+v", sig)
		}
	}
}
