// Package live runs persisted trading sessions. Each active session has
// one runner goroutine; ticks of a session are serialized while sessions
// run independently.
package live

import (
	"context"
	"time"

	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/broker"
	"github.com/newthinker/arena/internal/core"
)

// BarSource is the shared bar cache.
type BarSource interface {
	Bars(ctx context.Context, symbol, interval string) ([]core.OHLCV, error)
	Refresh(ctx context.Context, symbol, interval string) ([]core.OHLCV, error)
	Append(bar core.OHLCV)
	LastPrice(symbol, interval string) (float64, bool)
}

// Feed streams closed bars for stream-mode sessions.
type Feed interface {
	Run(ctx context.Context, symbols []string, interval string, handle func(core.OHLCV)) error
}

// Recorder receives live-engine metrics.
type Recorder interface {
	ObserveTick(mode string, took time.Duration, err error)
	ObserveTransition(level string)
	SetBrokerActive(active bool)
}

// Config tunes the manager.
type Config struct {
	// PollIntervals maps a bar interval to its poll period.
	PollIntervals map[string]time.Duration
	DefaultMode   core.SessionMode
	TradeAmount   float64
	// TolerancePct bounds accepted entry price drift in reconciliation.
	TolerancePct float64
	LogPageSize  int
	// Metrics selects how open positions count in session metrics.
	Metrics backtest.MetricsOptions
	// DisableScheduler leaves ticking to explicit Tick calls.
	DisableScheduler bool
}

// DefaultPollIntervals is used for intervals missing from Config.
var DefaultPollIntervals = map[string]time.Duration{
	"1m":  30 * time.Second,
	"5m":  time.Minute,
	"15m": 2 * time.Minute,
	"30m": 5 * time.Minute,
	"1h":  5 * time.Minute,
	"4h":  15 * time.Minute,
	"1d":  time.Hour,
	"1w":  4 * time.Hour,
}

func (c Config) pollInterval(interval string) time.Duration {
	if d, ok := c.PollIntervals[interval]; ok && d > 0 {
		return d
	}
	if d, ok := DefaultPollIntervals[interval]; ok {
		return d
	}
	return time.Minute
}

// StartRequest starts a session from a strategy configuration.
type StartRequest struct {
	UserID        string
	ConfigID      string
	Name          string
	Mode          core.SessionMode
	TradeAmount   float64
	BrokerEnabled bool
}

// TickResult summarizes one tick.
type TickResult struct {
	SessionID string    `json:"session_id"`
	Poll      int       `json:"poll"`
	Opened    int       `json:"opened"`
	Closed    int       `json:"closed"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	LastLogID int64     `json:"last_log_id"`
	At        time.Time `json:"at"`
}

// Status is the process-wide live view for one user.
type Status struct {
	IsRunning      bool               `json:"is_running"`
	ActiveSessions []core.Session     `json:"active_sessions"`
	SymbolPrices   map[string]float64 `json:"symbol_prices"`
}

// SessionView is a session with its positions and last prices.
type SessionView struct {
	core.Session
	Status       string                 `json:"status"`
	Positions    []core.Position        `json:"positions"`
	SymbolPrices map[string]float64     `json:"symbol_prices"`
	Strategies   []core.SessionStrategy `json:"strategies"`
	Metrics      backtest.Metrics       `json:"metrics"`
}

// AnalyzeRequest selects one symbol of a session for analysis.
type AnalyzeRequest struct {
	SessionID  string
	Symbol     string
	StrategyID string
}

// Match pairs a live position with the backtest trade entered on the same bar.
type Match struct {
	Live          core.Position `json:"live"`
	Backtest      core.Trade    `json:"backtest"`
	EntryDiffPct  float64       `json:"entry_diff_pct"`
	SameExit      bool          `json:"same_exit"`
	ReturnDiffPct float64       `json:"return_diff_pct"`
}

// Comparison contrasts live positions with a backtest over the same window.
type Comparison struct {
	Since           time.Time       `json:"since"`
	Matched         []Match         `json:"matched"`
	LiveOnly        []core.Position `json:"live_only"`
	BacktestOnly    []core.Trade    `json:"backtest_only"`
	MaxEntryDiffPct float64         `json:"max_entry_diff_pct"`
}

// Analysis is a backtest re-run for one session symbol plus comparison
// against what the session actually did.
type Analysis struct {
	SessionID      string                     `json:"session_id"`
	Symbol         string                     `json:"symbol"`
	StrategyID     string                     `json:"strategy_id"`
	Strategy       string                     `json:"strategy"`
	Interval       string                     `json:"interval"`
	Markers        []backtest.Marker          `json:"markers"`
	Overlays       map[string]backtest.Series `json:"overlays"`
	Indicators     []string                   `json:"indicators"`
	Metrics        backtest.Metrics           `json:"metrics"`
	Trades         []core.Trade               `json:"trades"`
	ChartData      []core.OHLCV               `json:"chart_data"`
	Comparison     Comparison                 `json:"comparison"`
	Reconciliation *broker.Report             `json:"reconciliation,omitempty"`
	Broker         *core.BrokerStatus         `json:"broker,omitempty"`
}
