package strategy

import (
	"github.com/newthinker/arena/internal/core"
)

// Levels places stop-loss and take-profit around an entry. A zero riskReward
// leaves the take-profit unset. ok is false when the stop is on the wrong
// side of entry, since the trade would have no defined risk.
func Levels(dir core.Direction, entry, stop, riskReward float64) (sl, tp float64, ok bool) {
	risk := entry - stop
	if dir == core.Short {
		risk = stop - entry
	}
	if risk <= 0 {
		return 0, 0, false
	}
	if riskReward > 0 {
		if dir == core.Short {
			tp = entry - riskReward*risk
		} else {
			tp = entry + riskReward*risk
		}
	}
	return stop, tp, true
}

// Builder accumulates the signals of one evaluation pass.
type Builder struct {
	bars     []core.OHLCV
	longOnly bool
	signals  []core.Signal
}

// NewBuilder starts an empty signal list for bars.
func NewBuilder(bars []core.OHLCV, longOnly bool) *Builder {
	return &Builder{bars: bars, longOnly: longOnly}
}

// Enter records an entry at the close of bar i. In long-only mode a short
// entry is recorded as an exit of any long instead.
func (b *Builder) Enter(i int, dir core.Direction, stop, riskReward, trail float64, reason string) {
	if dir == core.Short && b.longOnly {
		b.Exit(i, core.Long, reason)
		return
	}

	entry := b.bars[i].Close
	sl, tp, ok := Levels(dir, entry, stop, riskReward)
	if !ok {
		return
	}

	kind := core.EntryLong
	if dir == core.Short {
		kind = core.EntryShort
	}
	b.signals = append(b.signals, core.Signal{
		Time:          b.bars[i].Time,
		Kind:          kind,
		Price:         entry,
		Reason:        reason,
		Direction:     dir,
		StopLoss:      sl,
		TakeProfit:    tp,
		TrailDistance: trail,
	})
}

// Exit records a close of any open dir trade at bar i.
func (b *Builder) Exit(i int, dir core.Direction, reason string) {
	if dir == core.Short && b.longOnly {
		return
	}
	b.signals = append(b.signals, core.Signal{
		Time:      b.bars[i].Time,
		Kind:      core.Exit,
		Price:     b.bars[i].Close,
		Reason:    reason,
		Direction: dir,
	})
}

// Signals returns the accumulated list.
func (b *Builder) Signals() []core.Signal {
	return b.signals
}
