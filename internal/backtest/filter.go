package backtest

import (
	"time"

	"github.com/newthinker/arena/internal/core"
)

// Filter projects a trade list for display. The zero value keeps all trades.
type Filter struct {
	Direction core.Direction `json:"direction,omitempty"`
	Since     time.Time      `json:"since,omitempty"`
}

// Apply returns the trades matching f.
func (f Filter) Apply(trades []core.Trade) []core.Trade {
	out := make([]core.Trade, 0, len(trades))
	for _, t := range trades {
		if f.Direction != "" && t.Direction != f.Direction {
			continue
		}
		if !f.Since.IsZero() && t.EntryTime.Before(f.Since) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Project recomputes r's metrics over the filtered trades. r is not modified.
func (r *Result) Project(f Filter, opts MetricsOptions) (*Result, error) {
	if f.Direction != "" && f.Direction != core.Long && f.Direction != core.Short {
		return nil, core.InvalidParam(&core.ParamError{Key: "direction", Value: f.Direction, Reason: "must be LONG or SHORT"})
	}
	out := *r
	out.Trades = f.Apply(r.Trades)
	out.Metrics = CalculateMetrics(out.Trades, opts)
	out.Markers = BuildMarkers(out.Trades)
	return &out, nil
}
