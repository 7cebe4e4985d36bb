package batch

import (
	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
)

// Event is one element of a batch stream. The set is closed: Progress,
// Prefetch and Result.
type Event interface {
	EventType() string
	batchEvent()
}

// PrefetchEvent reports one symbol loaded into the bar cache.
type PrefetchEvent struct {
	Type    string `json:"type"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Symbol  string `json:"symbol"`
	Error   string `json:"error,omitempty"`
}

// ProgressEvent reports one symbol evaluated or skipped.
type ProgressEvent struct {
	Type    string `json:"type"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Symbol  string `json:"symbol"`
	Skipped bool   `json:"skipped,omitempty"`
	Trades  int    `json:"trades"`
}

// ResultEvent carries the final result. It is always the last event.
type ResultEvent struct {
	Type   string  `json:"type"`
	Result *Result `json:"result"`
}

func (PrefetchEvent) EventType() string { return "prefetch" }
func (ProgressEvent) EventType() string { return "progress" }
func (ResultEvent) EventType() string   { return "result" }

func (PrefetchEvent) batchEvent() {}
func (ProgressEvent) batchEvent() {}
func (ResultEvent) batchEvent()   {}

// Result aggregates a completed batch. Trades are ordered by symbol in
// request order, then by entry time, so per-symbol metrics can be
// recomputed from Trades alone.
type Result struct {
	JobID          string                      `json:"job_id,omitempty"`
	Strategy       string                      `json:"strategy"`
	Interval       string                      `json:"interval"`
	Params         strategy.Params             `json:"params"`
	Symbols        []string                    `json:"symbols"`
	PerStock       map[string]backtest.Metrics `json:"per_stock"`
	Trades         []core.Trade                `json:"trades"`
	SkippedSymbols []string                    `json:"skipped_symbols"`
	Summary        backtest.Metrics            `json:"summary"`
	DurationMS     int64                       `json:"duration_ms"`
	ArchivePath    string                      `json:"archive_path,omitempty"`
}

// Project recomputes per-symbol and summary metrics over the trades
// matching f. r is not modified.
func (r *Result) Project(f backtest.Filter, opts backtest.MetricsOptions) *Result {
	out := *r
	out.Trades = f.Apply(r.Trades)
	out.PerStock = make(map[string]backtest.Metrics, len(r.PerStock))
	for sym := range r.PerStock {
		out.PerStock[sym] = backtest.CalculateMetrics(bySymbol(out.Trades, sym), opts)
	}
	out.Summary = backtest.CalculateMetrics(out.Trades, opts)
	return &out
}

func bySymbol(trades []core.Trade, symbol string) []core.Trade {
	var out []core.Trade
	for _, t := range trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}
