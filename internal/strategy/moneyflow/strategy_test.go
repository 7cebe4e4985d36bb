package moneyflow

import (
	"testing"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/strategy/strategytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func count(signals []core.Signal, kind core.SignalKind) int {
	n := 0
	for _, s := range signals {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func TestCloud_TrendFilterLimitsEntries(t *testing.T) {
	bars := strategytest.Wave(300, 8, 40, 0)

	filtered, _, err := strategy.Evaluate(New(), bars, nil, false)
	require.NoError(t, err)
	unfiltered, _, err := strategy.Evaluate(New(), bars, map[string]any{"use_trend_filter": false}, false)
	require.NoError(t, err)

	entries := func(sigs []core.Signal) int {
		return count(sigs, core.EntryLong) + count(sigs, core.EntryShort)
	}
	assert.Positive(t, entries(unfiltered.Signals))
	assert.Less(t, entries(filtered.Signals), entries(unfiltered.Signals))
	assert.Positive(t, count(filtered.Signals, core.Exit))
}

func TestCloud_DriftingWaveGoesLong(t *testing.T) {
	eval, _, err := strategy.Evaluate(New(), strategytest.Wave(300, 8, 40, 0.1), nil, true)
	require.NoError(t, err)

	assert.Positive(t, count(eval.Signals, core.EntryLong))
	assert.Zero(t, count(eval.Signals, core.EntryShort))
}

func TestCloud_Bounds(t *testing.T) {
	_, err := strategy.Resolve(New(), map[string]any{"cloud_fast": 20, "cloud_slow": 10})
	require.Error(t, err)

	p, err := strategy.Resolve(New(), map[string]any{"use_trend_filter": "false", "mfi_period": "10"})
	require.NoError(t, err)
	assert.False(t, p.Bool("use_trend_filter"))
	assert.Equal(t, 10, p.Int("mfi_period"))
}
