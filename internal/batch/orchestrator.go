// Package batch runs one strategy across a watchlist of symbols with
// bounded parallelism and streams progress while it goes.
package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/marketdata"
	"github.com/newthinker/arena/internal/strategy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps in-flight fetches and evaluations.
const DefaultConcurrency = 4

// BarSource is the shared bar cache.
type BarSource interface {
	Bars(ctx context.Context, symbol, interval string) ([]core.OHLCV, error)
	Cached(symbol, interval string) bool
}

// Archiver stores finished results.
type Archiver interface {
	Save(ctx context.Context, kind, id string, v any) (string, error)
}

// Recorder receives per-symbol outcomes ("ok", "skipped").
type Recorder interface {
	ObserveBatchSymbol(status string)
	ObserveBacktest(strategy string, took time.Duration)
}

// Config holds orchestrator defaults.
type Config struct {
	Concurrency int      `mapstructure:"concurrency"`
	TradeAmount float64  `mapstructure:"trade_amount"`
	Interval    string   `mapstructure:"interval"`
	Watchlist   []string `mapstructure:"watchlist"`
}

// Request describes one batch run. Empty Symbols means the configured
// watchlist.
type Request struct {
	JobID       string
	Symbols     []string
	Strategy    string
	Params      map[string]any
	Interval    string
	UsOnly      bool
	LongOnly    bool
	TradeAmount float64
	Since       time.Time
	Metrics     backtest.MetricsOptions
	Concurrency int
}

// Orchestrator fans a strategy out over symbols.
type Orchestrator struct {
	source   BarSource
	engine   *strategy.Engine
	cfg      Config
	archive  Archiver
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an orchestrator reading bars from source.
func New(source BarSource, engine *strategy.Engine, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TradeAmount <= 0 {
		cfg.TradeAmount = backtest.DefaultTradeAmount
	}
	if cfg.Interval == "" {
		cfg.Interval = "1d"
	}
	if len(cfg.Watchlist) == 0 {
		cfg.Watchlist = marketdata.DefaultWatchlist
	}
	return &Orchestrator{source: source, engine: engine, cfg: cfg, logger: logger, now: time.Now}
}

// SetArchive enables archiving of completed results.
func (o *Orchestrator) SetArchive(a Archiver) { o.archive = a }

// SetRecorder attaches a metrics recorder.
func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

// Watchlist returns the default symbol universe.
func (o *Orchestrator) Watchlist() []string {
	return append([]string(nil), o.cfg.Watchlist...)
}

type plan struct {
	req     Request
	strat   strategy.Strategy
	params  strategy.Params
	symbols []string
	limit   int
}

func (o *Orchestrator) prepare(req Request) (*plan, error) {
	strat, err := o.engine.Lookup(req.Strategy)
	if err != nil {
		return nil, err
	}
	params, err := strategy.Resolve(strat, req.Params)
	if err != nil {
		return nil, err
	}
	if req.Interval == "" {
		req.Interval = o.cfg.Interval
	}
	if !marketdata.ValidInterval(req.Interval) {
		return nil, core.Errorf(core.ErrInvalidRequest, "unsupported interval %q", req.Interval)
	}
	if req.TradeAmount <= 0 {
		req.TradeAmount = o.cfg.TradeAmount
	}
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = o.cfg.Watchlist
	}
	symbols = marketdata.SelectSymbols(symbols, req.UsOnly)
	if len(symbols) == 0 {
		return nil, core.Errorf(core.ErrInvalidRequest, "no symbols to evaluate")
	}
	limit := req.Concurrency
	if limit <= 0 || limit > o.cfg.Concurrency {
		limit = o.cfg.Concurrency
	}
	return &plan{req: req, strat: strat, params: params, symbols: symbols, limit: limit}, nil
}

// Run validates req synchronously and then streams events on the returned
// channel: one PrefetchEvent per uncached symbol, one ProgressEvent per
// symbol, and a final ResultEvent. The channel is closed after the result.
// When ctx is cancelled no further events are sent and the channel is
// closed without a result. The caller must drain the channel or cancel ctx.
func (o *Orchestrator) Run(ctx context.Context, req Request) (<-chan Event, error) {
	p, err := o.prepare(req)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, p.limit)
	go func() {
		defer close(out)
		o.run(ctx, p, out)
	}()
	return out, nil
}

// Collect runs req to completion and returns its result, calling onEvent
// for every prefetch and progress event.
func (o *Orchestrator) Collect(ctx context.Context, req Request, onEvent func(Event)) (*Result, error) {
	events, err := o.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	var result *Result
	for ev := range events {
		if r, ok := ev.(ResultEvent); ok {
			result = r.Result
			continue
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
	if result == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("batch finished without a result")
	}
	return result, nil
}

// emitter serializes sends so counters reach the consumer in order.
type emitter struct {
	mu  sync.Mutex
	ctx context.Context
	out chan<- Event
	n   int
}

func (e *emitter) send(build func(current int) Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return false
	}
	e.n++
	select {
	case <-e.ctx.Done():
		return false
	case e.out <- build(e.n):
		return true
	}
}

type outcome struct {
	result *backtest.Result
	err    error
}

func (o *Orchestrator) run(ctx context.Context, p *plan, out chan<- Event) {
	start := o.now()
	failed := o.prefetch(ctx, p, out)
	if ctx.Err() != nil {
		o.logger.Info("batch cancelled during prefetch", zap.String("job_id", p.req.JobID))
		return
	}

	outcomes := make([]outcome, len(p.symbols))
	total := len(p.symbols)
	em := &emitter{ctx: ctx, out: out}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)

	for i, sym := range p.symbols {
		if gctx.Err() != nil {
			break
		}
		i, sym := i, sym
		g.Go(func() error {
			if err, ok := failed[sym]; ok {
				outcomes[i] = outcome{err: err}
			} else {
				outcomes[i] = o.evaluate(gctx, p, sym)
			}
			res := outcomes[i]
			o.observeSymbol(res.err)
			em.send(func(current int) Event {
				ev := ProgressEvent{Type: "progress", Current: current, Total: total, Symbol: sym, Skipped: res.err != nil}
				if res.result != nil {
					ev.Trades = len(res.result.Trades)
				}
				return ev
			})
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		o.logger.Info("batch cancelled", zap.String("job_id", p.req.JobID))
		return
	}

	result := o.aggregate(p, outcomes)
	result.DurationMS = o.now().Sub(start).Milliseconds()
	if o.archive != nil && p.req.JobID != "" {
		path, err := o.archive.Save(ctx, "batch", p.req.JobID, result)
		if err != nil {
			o.logger.Warn("archiving batch result failed", zap.String("job_id", p.req.JobID), zap.Error(err))
		} else {
			result.ArchivePath = path
		}
	}

	o.logger.Info("batch finished",
		zap.String("job_id", p.req.JobID),
		zap.String("strategy", p.strat.Name()),
		zap.Int("symbols", total),
		zap.Int("skipped", len(result.SkippedSymbols)),
		zap.Int("trades", len(result.Trades)),
		zap.Int64("duration_ms", result.DurationMS),
	)

	select {
	case out <- ResultEvent{Type: "result", Result: result}:
	case <-ctx.Done():
	}
}

// prefetch loads uncached symbols into the cache. Symbols that fail are
// returned with their error and skipped by the evaluation phase.
func (o *Orchestrator) prefetch(ctx context.Context, p *plan, out chan<- Event) map[string]error {
	var missing []string
	for _, sym := range p.symbols {
		if !o.source.Cached(sym, p.req.Interval) {
			missing = append(missing, sym)
		}
	}
	failed := make(map[string]error)
	if len(missing) == 0 {
		return failed
	}

	var mu sync.Mutex
	em := &emitter{ctx: ctx, out: out}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)

	for _, sym := range missing {
		if gctx.Err() != nil {
			break
		}
		sym := sym
		g.Go(func() error {
			bars, err := o.source.Bars(gctx, sym, p.req.Interval)
			if err == nil && len(bars) == 0 {
				err = core.Errorf(core.ErrDataUnavailable, "no %s bars for %s", p.req.Interval, sym)
			}
			if err != nil {
				mu.Lock()
				failed[sym] = err
				mu.Unlock()
				o.logger.Debug("prefetch failed", zap.String("symbol", sym), zap.Error(err))
			}
			em.send(func(current int) Event {
				ev := PrefetchEvent{Type: "prefetch", Current: current, Total: len(missing), Symbol: sym}
				if err != nil {
					ev.Error = core.CodeOf(err)
					if ev.Error == "" {
						ev.Error = err.Error()
					}
				}
				return ev
			})
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (o *Orchestrator) evaluate(ctx context.Context, p *plan, symbol string) outcome {
	bars, err := o.source.Bars(ctx, symbol, p.req.Interval)
	if err != nil {
		return outcome{err: err}
	}
	if err := ctx.Err(); err != nil {
		return outcome{err: err}
	}

	start := time.Now()
	res, err := backtest.Run(symbol, bars, p.strat, strategy.Raw(p.params), backtest.Options{
		Interval:    p.req.Interval,
		TradeAmount: p.req.TradeAmount,
		LongOnly:    p.req.LongOnly,
		Since:       p.req.Since,
		Metrics:     p.req.Metrics,
	})
	if err != nil {
		o.logger.Debug("symbol skipped", zap.String("symbol", symbol), zap.Error(err))
		return outcome{err: err}
	}
	if o.recorder != nil {
		o.recorder.ObserveBacktest(p.strat.Name(), time.Since(start))
	}
	return outcome{result: res}
}

func (o *Orchestrator) observeSymbol(err error) {
	if o.recorder == nil {
		return
	}
	if err != nil {
		o.recorder.ObserveBatchSymbol("skipped")
		return
	}
	o.recorder.ObserveBatchSymbol("ok")
}

func (o *Orchestrator) aggregate(p *plan, outcomes []outcome) *Result {
	result := &Result{
		JobID:          p.req.JobID,
		Strategy:       p.strat.Name(),
		Interval:       p.req.Interval,
		Params:         p.params,
		Symbols:        p.symbols,
		PerStock:       make(map[string]backtest.Metrics),
		Trades:         []core.Trade{},
		SkippedSymbols: []string{},
	}
	for i, sym := range p.symbols {
		oc := outcomes[i]
		if oc.err != nil || oc.result == nil {
			result.SkippedSymbols = append(result.SkippedSymbols, sym)
			continue
		}
		result.PerStock[sym] = oc.result.Metrics
		trades := append([]core.Trade(nil), oc.result.Trades...)
		sort.SliceStable(trades, func(a, b int) bool { return trades[a].EntryTime.Before(trades[b].EntryTime) })
		result.Trades = append(result.Trades, trades...)
	}
	result.Summary = backtest.CalculateMetrics(result.Trades, p.req.Metrics)
	return result
}
