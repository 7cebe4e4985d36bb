// Package marketdata fetches and caches OHLCV bars for the backtest, batch
// and live paths.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/arena/internal/core"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mocks/provider.go -package=mocks github.com/newthinker/arena/internal/marketdata Provider

// Provider defines an upstream source of historical bars
type Provider interface {
	Name() string
	SupportedMarkets() []core.Market
	FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.OHLCV, error)
}

// Intervals lists the bar intervals the engine accepts.
var Intervals = []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"}

// ValidInterval reports whether interval is one of Intervals.
func ValidInterval(interval string) bool {
	for _, iv := range Intervals {
		if iv == interval {
			return true
		}
	}
	return false
}

// IntervalDuration returns the length of one bar.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Registry manages providers and routes each symbol to the first one that
// serves its market.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	logger    *zap.Logger
}

// NewRegistry creates a new provider registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register appends p to the fallback order.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// For returns the providers that serve symbol's market, in fallback order.
func (r *Registry) For(symbol string) []Provider {
	market := core.DetectMarket(symbol)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	for _, p := range r.providers {
		for _, m := range p.SupportedMarkets() {
			if m == market {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// FetchBars tries each eligible provider in order until one returns bars.
// All providers failing yields PROVIDER_FAILED; all returning nothing
// yields DATA_UNAVAILABLE.
func (r *Registry) FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.OHLCV, error) {
	providers := r.For(symbol)
	if len(providers) == 0 {
		return nil, core.Errorf(core.ErrDataUnavailable, "no provider for market %s", core.DetectMarket(symbol))
	}

	var lastErr error
	for _, p := range providers {
		bars, err := p.FetchBars(ctx, symbol, interval, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("provider fetch failed",
				zap.String("provider", p.Name()),
				zap.String("symbol", symbol),
				zap.String("interval", interval),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if len(bars) > 0 {
			return bars, nil
		}
	}

	if lastErr != nil {
		return nil, core.WrapError(core.ErrProviderFailed, fmt.Errorf("%s: %w", symbol, lastErr))
	}
	return nil, core.Errorf(core.ErrDataUnavailable, "%s %s", symbol, interval)
}
