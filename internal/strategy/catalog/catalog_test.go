package catalog

import (
	"encoding/json"
	"testing"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/strategy/strategytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_HasClosedSet(t *testing.T) {
	e := NewEngine(nil)

	all := e.GetAll()
	require.Len(t, all, len(Names))
	for _, name := range Names {
		_, ok := e.Get(name)
		assert.True(t, ok, "missing %s", name)
	}

	_, err := e.Lookup("martingale")
	require.Error(t, err)
	assert.Equal(t, "STRATEGY_NOT_FOUND", core.CodeOf(err))
}

func TestEvaluate_Deterministic(t *testing.T) {
	bars := strategytest.Wave(300, 8, 40, 0.05)

	for _, s := range All() {
		t.Run(s.Name(), func(t *testing.T) {
			first, _, err := strategy.Evaluate(s, bars, nil, false)
			require.NoError(t, err)
			second, _, err := strategy.Evaluate(s, bars, nil, false)
			require.NoError(t, err)

			a, err := json.Marshal(first.Signals)
			require.NoError(t, err)
			b, err := json.Marshal(second.Signals)
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))
		})
	}
}

func TestEvaluate_ShortHistoryYieldsNoSignals(t *testing.T) {
	bars := strategytest.Wave(8, 8, 40, 0)

	for _, s := range All() {
		t.Run(s.Name(), func(t *testing.T) {
			eval, _, err := strategy.Evaluate(s, bars, nil, false)
			require.NoError(t, err)
			assert.Empty(t, eval.Signals)
		})
	}
}

func TestEvaluate_EmptyBars(t *testing.T) {
	for _, s := range All() {
		eval, _, err := strategy.Evaluate(s, nil, nil, false)
		require.NoError(t, err, s.Name())
		assert.Empty(t, eval.Signals, s.Name())
	}
}

func TestEvaluate_IndicatorsAligned(t *testing.T) {
	bars := strategytest.Wave(120, 8, 40, 0)

	for _, s := range All() {
		eval, _, err := strategy.Evaluate(s, bars, nil, false)
		require.NoError(t, err)
		require.NotEmpty(t, eval.Indicators, s.Name())
		for name, series := range eval.Indicators {
			assert.Len(t, series, len(bars), "%s/%s", s.Name(), name)
		}
	}
}

func TestEvaluate_NoLookahead(t *testing.T) {
	full := strategytest.Wave(300, 8, 40, 0.05)
	cut := 200

	for _, s := range All() {
		t.Run(s.Name(), func(t *testing.T) {
			whole, _, err := strategy.Evaluate(s, full, nil, false)
			require.NoError(t, err)
			prefix, _, err := strategy.Evaluate(s, full[:cut], nil, false)
			require.NoError(t, err)

			var early []core.Signal
			for _, sig := range whole.Signals {
				if sig.Time.Before(full[cut].Time) {
					early = append(early, sig)
				}
			}
			assert.Equal(t, early, prefix.Signals)
		})
	}
}

func TestEvaluate_LongOnlyNeverShorts(t *testing.T) {
	bars := strategytest.Wave(300, 8, 40, 0)

	for _, s := range All() {
		eval, _, err := strategy.Evaluate(s, bars, nil, true)
		require.NoError(t, err)
		for _, sig := range eval.Signals {
			assert.NotEqual(t, core.EntryShort, sig.Kind, s.Name())
			assert.NotEqual(t, core.Short, sig.Direction, s.Name())
		}
	}
}

func TestSchema_PublishesBounds(t *testing.T) {
	e := NewEngine(nil)
	s, err := e.Lookup("regression_scalping")
	require.NoError(t, err)

	schema := strategy.Schema(s)
	prop, ok := schema.Properties.Get("risk_reward")
	require.True(t, ok)
	assert.Equal(t, "number", prop.Type)
	assert.Equal(t, "0.5", string(prop.Minimum))
	assert.Equal(t, "10", string(prop.Maximum))

	flag, ok := schema.Properties.Get("exit_at_mean")
	require.True(t, ok)
	assert.Equal(t, "boolean", flag.Type)
	assert.Equal(t, false, flag.Default)
}
