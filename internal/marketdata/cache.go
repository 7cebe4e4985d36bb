package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/newthinker/arena/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher is satisfied by Registry and by a single Provider.
type Fetcher interface {
	FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.OHLCV, error)
}

// Recorder receives cache outcomes ("hit", "miss", "fetch_error").
type Recorder interface {
	ObserveCache(result string)
}

// DefaultLookback is how much history is requested per interval.
var DefaultLookback = map[string]time.Duration{
	"1m":  7 * 24 * time.Hour,
	"5m":  30 * 24 * time.Hour,
	"15m": 30 * 24 * time.Hour,
	"30m": 30 * 24 * time.Hour,
	"1h":  180 * 24 * time.Hour,
	"4h":  365 * 24 * time.Hour,
	"1d":  5 * 365 * 24 * time.Hour,
	"1w":  10 * 365 * 24 * time.Hour,
}

// CacheConfig tunes a Cache.
type CacheConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Lookback     map[string]time.Duration
}

type entry struct {
	bars      []core.OHLCV
	fetchedAt time.Time
}

// Cache shares bar history across concurrent readers. Stored slices are
// never mutated in place, so readers need no lock. Concurrent misses on
// the same key collapse into one upstream fetch.
type Cache struct {
	fetcher  Fetcher
	cfg      CacheConfig
	entries  sync.Map // key -> *entry
	group    singleflight.Group
	writeMu  sync.Mutex
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewCache creates a cache in front of fetcher.
func NewCache(fetcher Fetcher, cfg CacheConfig, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	lookback := make(map[string]time.Duration, len(DefaultLookback))
	for k, v := range DefaultLookback {
		lookback[k] = v
	}
	for k, v := range cfg.Lookback {
		lookback[k] = v
	}
	cfg.Lookback = lookback

	return &Cache{fetcher: fetcher, cfg: cfg, logger: logger, now: time.Now}
}

// SetRecorder attaches a metrics recorder.
func (c *Cache) SetRecorder(r Recorder) {
	c.recorder = r
}

func cacheKey(symbol, interval string) string {
	return symbol + "|" + interval
}

// Bars returns cached bars for symbol and interval, fetching when absent
// or older than the TTL. The returned slice must not be modified.
func (c *Cache) Bars(ctx context.Context, symbol, interval string) ([]core.OHLCV, error) {
	if e, ok := c.load(symbol, interval); ok && c.now().Sub(e.fetchedAt) < c.cfg.TTL {
		c.observe("hit")
		return e.bars, nil
	}
	c.observe("miss")
	return c.fetch(ctx, symbol, interval)
}

// Refresh fetches symbol and interval regardless of age.
func (c *Cache) Refresh(ctx context.Context, symbol, interval string) ([]core.OHLCV, error) {
	return c.fetch(ctx, symbol, interval)
}

// Cached reports whether a fresh entry exists for symbol and interval.
func (c *Cache) Cached(symbol, interval string) bool {
	e, ok := c.load(symbol, interval)
	return ok && c.now().Sub(e.fetchedAt) < c.cfg.TTL
}

// LastPrice returns the close of the newest cached bar.
func (c *Cache) LastPrice(symbol, interval string) (float64, bool) {
	e, ok := c.load(symbol, interval)
	if !ok || len(e.bars) == 0 {
		return 0, false
	}
	return e.bars[len(e.bars)-1].Close, true
}

// Append merges a streamed bar into an existing entry. A bar with the newest
// timestamp replaces it; an older bar is ignored. Bars for a symbol and
// interval that were never fetched are dropped so the next read loads full
// history.
func (c *Cache) Append(bar core.OHLCV) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	e, ok := c.load(bar.Symbol, bar.Interval)
	if !ok {
		return
	}
	bars := e.bars

	n := len(bars)
	var next []core.OHLCV
	switch {
	case n > 0 && bar.Time.Equal(bars[n-1].Time):
		next = make([]core.OHLCV, n)
		copy(next, bars)
		next[n-1] = bar
	case n == 0 || bar.Time.After(bars[n-1].Time):
		next = make([]core.OHLCV, n, n+1)
		copy(next, bars)
		next = append(next, bar)
	default:
		return
	}

	c.entries.Store(cacheKey(bar.Symbol, bar.Interval), &entry{bars: next, fetchedAt: c.now()})
}

// Invalidate drops the entry for symbol and interval.
func (c *Cache) Invalidate(symbol, interval string) {
	c.entries.Delete(cacheKey(symbol, interval))
}

func (c *Cache) load(symbol, interval string) (*entry, bool) {
	v, ok := c.entries.Load(cacheKey(symbol, interval))
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (c *Cache) fetch(ctx context.Context, symbol, interval string) ([]core.OHLCV, error) {
	key := cacheKey(symbol, interval)

	// the shared fetch outlives any single caller's cancellation
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(detached, c.cfg.FetchTimeout)
		defer cancel()

		end := c.now()
		start := end.Add(-c.lookback(interval))
		bars, err := c.fetcher.FetchBars(fctx, symbol, interval, start, end)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, core.Errorf(core.ErrDataUnavailable, "%s %s", symbol, interval)
		}
		for i := range bars {
			bars[i].Symbol = symbol
			bars[i].Interval = interval
		}

		c.writeMu.Lock()
		c.entries.Store(key, &entry{bars: bars, fetchedAt: c.now()})
		c.writeMu.Unlock()

		c.logger.Debug("bars cached",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Int("bars", len(bars)),
		)
		return bars, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.observe("fetch_error")
			return nil, res.Err
		}
		return res.Val.([]core.OHLCV), nil
	}
}

func (c *Cache) lookback(interval string) time.Duration {
	if d, ok := c.cfg.Lookback[interval]; ok {
		return d
	}
	return DefaultLookback["1d"]
}

func (c *Cache) observe(result string) {
	if c.recorder != nil {
		c.recorder.ObserveCache(result)
	}
}
