package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/trade"
	"go.uber.org/zap"
)

// DefaultTradeAmount is the notional used when a request leaves it unset.
const DefaultTradeAmount = 1000.0

// BarSource supplies historical bars, typically through the shared cache.
type BarSource interface {
	Bars(ctx context.Context, symbol, interval string) ([]core.OHLCV, error)
}

// Request describes a single-symbol backtest.
type Request struct {
	Symbol   string
	Strategy string
	Params   map[string]any
	Options
}

// Backtester runs strategies over cached history
type Backtester struct {
	source BarSource
	engine *strategy.Engine
	logger *zap.Logger
}

// New creates a new Backtester
func New(source BarSource, engine *strategy.Engine, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{source: source, engine: engine, logger: logger}
}

// RunSymbol fetches bars for req.Symbol and runs req.Strategy over them.
func (b *Backtester) RunSymbol(ctx context.Context, req Request) (*Result, error) {
	strat, err := b.engine.Lookup(req.Strategy)
	if err != nil {
		return nil, err
	}

	bars, err := b.source.Bars(ctx, req.Symbol, req.Interval)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := Run(req.Symbol, bars, strat, req.Params, req.Options)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("backtest finished",
		zap.String("symbol", req.Symbol),
		zap.String("strategy", req.Strategy),
		zap.Int("bars", len(bars)),
		zap.Int("trades", len(result.Trades)),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

// Run replays bars through strat with a single position slot. Signals are
// computed once over the whole series; each bar then applies stops before
// that bar's signals. A position still open after the last bar is closed
// at its close with reason END.
func Run(symbol string, bars []core.OHLCV, strat strategy.Strategy, raw map[string]any, opts Options) (*Result, error) {
	if len(bars) == 0 {
		return nil, core.Errorf(core.ErrDataUnavailable, "no bars for %s", symbol)
	}
	if opts.TradeAmount <= 0 {
		opts.TradeAmount = DefaultTradeAmount
	}

	eval, params, err := strategy.Evaluate(strat, bars, raw, opts.LongOnly)
	if err != nil {
		return nil, err
	}

	var seq int
	cfg := trade.Config{
		Symbol:      symbol,
		Strategy:    strat.Name(),
		TradeAmount: opts.TradeAmount,
		LongOnly:    opts.LongOnly,
		NewID: func() string {
			seq++
			return fmt.Sprintf("%s-%d", symbol, seq)
		},
	}

	byTime := trade.GroupByTime(eval.Signals)
	slot := &trade.Slot{}
	var trades []core.Trade

	for _, bar := range bars {
		for _, tr := range trade.Apply(slot, bar, byTime[bar.Time.UnixNano()], cfg) {
			if tr.Kind == trade.Closed {
				trades = append(trades, tr.Trade)
			}
		}
	}

	last := bars[len(bars)-1]
	if tr, ok := trade.CloseOut(slot, last.Time, last.Close, core.CloseEnd); ok {
		trades = append(trades, tr.Trade)
	}

	if !opts.Since.IsZero() {
		trades = Filter{Since: opts.Since}.Apply(trades)
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].EntryTime.Before(trades[j].EntryTime)
	})

	interval := opts.Interval
	if interval == "" {
		interval = last.Interval
	}

	if trades == nil {
		trades = []core.Trade{}
	}
	signals := eval.Signals
	if signals == nil {
		signals = []core.Signal{}
	}

	return &Result{
		Symbol:     symbol,
		Strategy:   strat.Name(),
		Interval:   interval,
		Params:     params,
		StartDate:  bars[0].Time,
		EndDate:    last.Time,
		Trades:     trades,
		Metrics:    CalculateMetrics(trades, opts.Metrics),
		Markers:    BuildMarkers(trades),
		Overlays:   Overlays(eval.Indicators),
		Indicators: IndicatorNames(eval.Indicators),
		ChartData:  bars,
		Signals:    signals,
	}, nil
}
