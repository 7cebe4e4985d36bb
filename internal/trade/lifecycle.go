// Package trade drives the open/adjust/close lifecycle of a single
// position slot. The backtest runner and the live session both step
// through bars with Apply so that historical and live results agree.
package trade

import (
	"fmt"
	"math"
	"time"

	"github.com/newthinker/arena/internal/core"
)

// Config controls how signals become trades.
type Config struct {
	Symbol      string
	Strategy    string
	TradeAmount float64
	LongOnly    bool
	// NewID names opened trades. Required.
	NewID func() string
}

// Kind is the type of a lifecycle transition.
type Kind string

const (
	Opened  Kind = "opened"
	Closed  Kind = "closed"
	Trailed Kind = "trailed"
)

// Transition is a change applied to the slot. Trade is a snapshot taken
// right after the change.
type Transition struct {
	Kind   Kind
	Trade  core.Trade
	Reason string
}

// Slot holds at most one open trade for a (strategy, symbol) pair.
type Slot struct {
	Open *core.Trade
}

// Apply advances the slot through one bar and the signals emitted at its
// close. Order per bar:
//  1. stop-loss, then take-profit, checked against the bar's range
//  2. trailing stop ratchet from the bar's extreme
//  3. signals in emission order: EXIT closes its side; an opposing entry
//     closes and reverses; a same-side entry is ignored
//
// Entries fill at the signal price (the bar close) and are first exposed to
// their stops on the next bar.
func Apply(slot *Slot, bar core.OHLCV, signals []core.Signal, cfg Config) []Transition {
	var out []Transition

	if t := slot.Open; t != nil {
		if reason, price, hit := CheckStops(*t, bar); hit {
			t.Close(bar.Time, price, reason)
			out = append(out, Transition{Kind: Closed, Trade: *t, Reason: stopReason(reason, price)})
			slot.Open = nil
		} else {
			if Trail(t, bar) {
				out = append(out, Transition{Kind: Trailed, Trade: *t, Reason: fmt.Sprintf("trailing stop moved to %.4f", t.StopLoss)})
			}
			t.Mark(bar.Close)
		}
	}

	for _, sig := range signals {
		switch {
		case sig.Kind == core.Exit:
			if t := slot.Open; t != nil && t.Direction == sig.Direction {
				t.Close(sig.Time, sig.Price, core.CloseSignal)
				out = append(out, Transition{Kind: Closed, Trade: *t, Reason: sig.Reason})
				slot.Open = nil
			}
		case sig.Kind.IsEntry():
			dir := sig.Kind.Direction()
			if dir == core.Short && cfg.LongOnly {
				continue
			}
			if t := slot.Open; t != nil {
				if t.Direction == dir {
					continue
				}
				t.Close(sig.Time, sig.Price, core.CloseSignal)
				out = append(out, Transition{Kind: Closed, Trade: *t, Reason: sig.Reason})
				slot.Open = nil
			}
			if t, ok := open(sig, cfg); ok {
				slot.Open = t
				out = append(out, Transition{Kind: Opened, Trade: *t, Reason: sig.Reason})
			}
		}
	}

	return out
}

func open(sig core.Signal, cfg Config) (*core.Trade, bool) {
	if sig.Price <= 0 || cfg.TradeAmount <= 0 {
		return nil, false
	}
	return &core.Trade{
		ID:            cfg.NewID(),
		Symbol:        cfg.Symbol,
		Strategy:      cfg.Strategy,
		Direction:     sig.Kind.Direction(),
		EntryTime:     sig.Time,
		EntryPrice:    sig.Price,
		Quantity:      cfg.TradeAmount / sig.Price,
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit,
		TrailDistance: sig.TrailDistance,
		CurrentPrice:  sig.Price,
		IsOpen:        true,
	}, true
}

// CheckStops tests the trade's protective levels against bar. The stop is
// checked first, so a bar touching both levels closes at the stop. A bar
// that gaps through a level fills at its open.
func CheckStops(t core.Trade, bar core.OHLCV) (core.CloseReason, float64, bool) {
	if t.Direction == core.Short {
		if t.StopLoss > 0 && bar.High >= t.StopLoss {
			return core.CloseSL, math.Max(bar.Open, t.StopLoss), true
		}
		if t.TakeProfit > 0 && bar.Low <= t.TakeProfit {
			return core.CloseTP, math.Min(bar.Open, t.TakeProfit), true
		}
		return "", 0, false
	}

	if t.StopLoss > 0 && bar.Low <= t.StopLoss {
		return core.CloseSL, math.Min(bar.Open, t.StopLoss), true
	}
	if t.TakeProfit > 0 && bar.High >= t.TakeProfit {
		return core.CloseTP, math.Max(bar.Open, t.TakeProfit), true
	}
	return "", 0, false
}

// Trail ratchets the stop toward price by the trade's trail distance.
// It reports whether the stop moved.
func Trail(t *core.Trade, bar core.OHLCV) bool {
	if t.TrailDistance <= 0 {
		return false
	}
	if t.Direction == core.Short {
		candidate := bar.Low + t.TrailDistance
		if t.StopLoss == 0 || candidate < t.StopLoss {
			t.StopLoss = candidate
			return true
		}
		return false
	}
	candidate := bar.High - t.TrailDistance
	if candidate > t.StopLoss {
		t.StopLoss = candidate
		return true
	}
	return false
}

// CloseOut closes any open trade at price with reason.
func CloseOut(slot *Slot, at time.Time, price float64, reason core.CloseReason) (Transition, bool) {
	t := slot.Open
	if t == nil {
		return Transition{}, false
	}
	t.Close(at, price, reason)
	slot.Open = nil
	return Transition{Kind: Closed, Trade: *t, Reason: fmt.Sprintf("closed %s at %.4f", reason, price)}, true
}

// GroupByTime indexes signals by bar time, preserving emission order.
func GroupByTime(signals []core.Signal) map[int64][]core.Signal {
	out := make(map[int64][]core.Signal)
	for _, s := range signals {
		k := s.Time.UnixNano()
		out[k] = append(out[k], s)
	}
	return out
}

func stopReason(r core.CloseReason, price float64) string {
	if r == core.CloseSL {
		return fmt.Sprintf("stop-loss hit at %.4f", price)
	}
	return fmt.Sprintf("take-profit hit at %.4f", price)
}
