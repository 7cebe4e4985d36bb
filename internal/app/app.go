// Package app wires configuration into a running engine: market data,
// strategies, batch runner, live sessions, broker relay, notification
// routing and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newthinker/arena/internal/api"
	"github.com/newthinker/arena/internal/api/handler"
	"github.com/newthinker/arena/internal/api/job"
	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/batch"
	"github.com/newthinker/arena/internal/broker"
	"github.com/newthinker/arena/internal/broker/paper"
	"github.com/newthinker/arena/internal/config"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/live"
	"github.com/newthinker/arena/internal/marketdata"
	"github.com/newthinker/arena/internal/marketdata/binance"
	"github.com/newthinker/arena/internal/marketdata/wsfeed"
	"github.com/newthinker/arena/internal/marketdata/yahoo"
	"github.com/newthinker/arena/internal/metrics"
	"github.com/newthinker/arena/internal/notifier"
	"github.com/newthinker/arena/internal/notifier/email"
	"github.com/newthinker/arena/internal/notifier/telegram"
	"github.com/newthinker/arena/internal/notifier/webhook"
	"github.com/newthinker/arena/internal/router"
	"github.com/newthinker/arena/internal/storage/archive"
	"github.com/newthinker/arena/internal/storage/session"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/strategy/catalog"
	"go.uber.org/zap"
)

// Option customizes App construction.
type Option func(*options)

type options struct {
	providers []marketdata.Provider
	version   string
}

// WithProviders replaces the configured market data providers.
func WithProviders(p ...marketdata.Provider) Option {
	return func(o *options) { o.providers = p }
}

// WithVersion sets the version reported by /api/health.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// App is the main application orchestrator
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	metrics    *metrics.Registry
	engine     *strategy.Engine
	providers  *marketdata.Registry
	cache      *marketdata.Cache
	backtester *backtest.Backtester
	batch      *batch.Orchestrator
	store      session.Store
	paper      *paper.Broker
	executor   *broker.Executor
	live       *live.Manager
	notifiers  *notifier.Registry
	router     *router.Router
	jobs       *job.Store
	server     *api.Server
}

// New builds every component from cfg. Nothing is started until Run.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.NewRegistry(),
		engine:    catalog.NewEngine(logger),
		providers: marketdata.NewRegistry(logger),
		notifiers: notifier.NewRegistry(),
	}

	if len(o.providers) == 0 {
		o.providers = configuredProviders(cfg.MarketData)
	}
	for _, p := range o.providers {
		a.providers.Register(p)
	}
	a.cache = marketdata.NewCache(a.providers, marketdata.CacheConfig{
		TTL:          cfg.MarketData.CacheTTL,
		FetchTimeout: cfg.MarketData.FetchTimeout,
		Lookback:     cfg.MarketData.Lookback,
	}, logger)
	a.cache.SetRecorder(a.metrics)

	a.backtester = backtest.New(a.cache, a.engine, logger)

	a.batch = batch.New(a.cache, a.engine, batch.Config{
		Concurrency: cfg.Batch.Concurrency,
		TradeAmount: cfg.Batch.TradeAmount,
		Interval:    cfg.Batch.Interval,
		Watchlist:   cfg.Batch.Watchlist,
	}, logger)
	a.batch.SetRecorder(a.metrics)
	if cfg.Batch.Archive {
		storage, err := archive.Open(cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		a.batch.SetArchive(archive.NewResults(storage))
	}

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	if cfg.Broker.Enabled {
		a.paper = paper.New(cfg.Broker.InitialCash, paper.WithPrices(a.lastPrice))
		risk := cfg.Broker.Risk
		a.executor = broker.NewExecutor(a.paper, nil, broker.ExecutorConfig{
			QuantityPrecision: cfg.Broker.QuantityPrecision,
			Risk:              &risk,
		}, logger)
	}

	deps := live.Deps{
		Store:    a.store,
		Bars:     a.cache,
		Engine:   a.engine,
		Executor: a.executor,
		Recorder: a.metrics,
		Logger:   logger,
	}
	if cfg.MarketData.FeedURL != "" {
		deps.Feed = wsfeed.New(cfg.MarketData.FeedURL, logger)
	}
	a.live = live.NewManager(deps, live.Config{
		PollIntervals: cfg.Live.PollIntervals,
		DefaultMode:   core.SessionMode(cfg.Live.DefaultMode),
		TradeAmount:   cfg.Live.TradeAmount,
		TolerancePct:  cfg.Live.TolerancePct,
		LogPageSize:   cfg.Live.LogPageSize,
		Metrics:       backtest.MetricsOptions{OpenAsProvisionalWins: cfg.Live.OpenAsProvisionalWins},
	})

	if err := a.registerNotifiers(); err != nil {
		a.store.Close()
		return nil, err
	}
	if cfg.Router.Enabled && a.notifiers.Len() > 0 {
		a.router = router.New(routerConfig(cfg.Router), a.live, a.notifiers, logger)
		a.router.SetRecorder(a.metrics)
	}

	a.jobs = job.NewStore(cfg.Server.MaxJobs, cfg.Server.JobTTL)
	h := handler.New(handler.Deps{
		Backtester: a.backtester,
		Batch:      a.batch,
		Live:       a.live,
		Engine:     a.engine,
		Jobs:       a.jobs,
		Recorder:   a.metrics,
		Logger:     logger,
	})
	srvDeps := api.Dependencies{Handler: h}
	if cfg.Metrics.Enabled {
		srvDeps.Metrics = a.metrics
	}
	a.server, err = api.NewServer(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		MetricsPath: cfg.Metrics.Path,
		Version:     o.version,
	}, srvDeps, logger)
	if err != nil {
		a.store.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}

	return a, nil
}

func configuredProviders(cfg config.MarketDataConfig) []marketdata.Provider {
	var out []marketdata.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "yahoo":
			if cfg.YahooURL != "" {
				out = append(out, yahoo.NewWithBaseURL(cfg.YahooURL))
			} else {
				out = append(out, yahoo.New())
			}
		case "binance":
			if cfg.BinanceURL != "" {
				out = append(out, binance.NewWithBaseURL(cfg.BinanceURL))
			} else {
				out = append(out, binance.New())
			}
		}
	}
	return out
}

func openStore(cfg config.StorageConfig, logger *zap.Logger) (session.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := session.OpenSQLite(cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		return s, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

func routerConfig(cfg config.RouterConfig) router.Config {
	out := router.Config{PollInterval: cfg.PollInterval}
	for _, l := range cfg.Levels {
		out.Levels = append(out.Levels, core.LogLevel(l))
	}
	return out
}

func (a *App) registerNotifiers() error {
	for name, nc := range a.cfg.Notifiers {
		if !nc.Enabled {
			continue
		}
		var n notifier.Notifier
		switch name {
		case "webhook":
			n = webhook.New("", nil)
		case "telegram":
			n = telegram.New("", "")
		case "email":
			n = email.New("", 0, "", "", "", nil)
		default:
			return core.Errorf(core.ErrConfigInvalid, "unknown notifier %q", name)
		}
		if err := n.Init(notifier.Config{Type: name, Params: nc.Params()}); err != nil {
			return fmt.Errorf("initializing %s notifier: %w", name, err)
		}
		if err := a.notifiers.Register(n); err != nil {
			return err
		}
		a.logger.Info("notifier enabled", zap.String("notifier", name))
	}
	return nil
}

// lastPrice is the paper broker's reference price: the latest cached close
// of the symbol across intervals.
func (a *App) lastPrice(symbol string) (float64, bool) {
	for _, iv := range marketdata.Intervals {
		if p, ok := a.cache.LastPrice(symbol, iv); ok {
			return p, true
		}
	}
	return 0, false
}

// Engine returns the strategy catalog.
func (a *App) Engine() *strategy.Engine { return a.engine }

// Backtester returns the single-symbol runner.
func (a *App) Backtester() *backtest.Backtester { return a.backtester }

// Batch returns the watchlist orchestrator.
func (a *App) Batch() *batch.Orchestrator { return a.batch }

// Live returns the session manager.
func (a *App) Live() *live.Manager { return a.live }

// Executor returns the broker relay, or nil when the broker is disabled.
func (a *App) Executor() *broker.Executor { return a.executor }

// Server returns the HTTP server.
func (a *App) Server() *api.Server { return a.server }

// Run restores live sessions, starts notification routing and serves HTTP
// until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if a.executor != nil {
		if err := a.executor.Tracker().Sync(ctx); err != nil {
			a.logger.Warn("initial broker sync failed", zap.Error(err))
		}
	}

	restored, err := a.live.Restore(ctx)
	if err != nil {
		a.logger.Warn("restoring live sessions failed", zap.Error(err))
	} else if restored > 0 {
		a.logger.Info("live sessions restored", zap.Int("count", restored))
	}

	if a.router != nil {
		go a.router.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	a.logger.Info("arena started",
		zap.String("addr", a.server.Addr()),
		zap.Int("strategies", len(a.engine.GetAll())),
		zap.Int("notifiers", a.notifiers.Len()),
		zap.Bool("broker", a.executor != nil),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	return errors.Join(serveErr, a.Close(shutdownCtx))
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}

// Close stops the server, detaches live sessions (they stay active for
// the next Restore) and closes storage.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.live.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("live shutdown: %w", err))
	}
	if a.paper != nil {
		_ = a.paper.Disconnect()
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	a.logger.Info("arena stopped")
	return errors.Join(errs...)
}

// GetStats returns application statistics
func (a *App) GetStats() map[string]any {
	stats := map[string]any{
		"strategies":  len(a.engine.GetAll()),
		"notifiers":   a.notifiers.Len(),
		"broker":      a.executor != nil,
		"jobs_active": a.jobs.Running(),
	}
	if a.router != nil {
		stats["router"] = a.router.GetStats()
	}
	return stats
}
