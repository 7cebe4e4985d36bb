package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *countingFetcher) FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.OHLCV, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []core.OHLCV{
		{Time: end.Add(-2 * time.Hour), Close: 10},
		{Time: end.Add(-time.Hour), Close: 11},
	}, nil
}

type recorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *recorder) ObserveCache(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[result]++
}

func TestCache_CollapsesConcurrentMisses(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	c := NewCache(f, CacheConfig{TTL: time.Minute}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bars, err := c.Bars(context.Background(), "AAPL", "1h")
			if err == nil && len(bars) != 2 {
				err = errors.New("short result")
			}
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())
	assert.True(t, c.Cached("AAPL", "1h"))
}

func TestCache_TTL(t *testing.T) {
	f := &countingFetcher{}
	rec := &recorder{}
	c := NewCache(f, CacheConfig{TTL: time.Minute}, nil)
	c.SetRecorder(rec)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Bars(context.Background(), "AAPL", "1d")
	require.NoError(t, err)
	_, err = c.Bars(context.Background(), "AAPL", "1d")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	now = now.Add(2 * time.Minute)
	assert.False(t, c.Cached("AAPL", "1d"))
	_, err = c.Bars(context.Background(), "AAPL", "1d")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())

	assert.Equal(t, 1, rec.results["hit"])
	assert.Equal(t, 2, rec.results["miss"])
}

func TestCache_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	c := NewCache(f, CacheConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Bars(ctx, "MSFT", "1h")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(f.release)
	bars, err := c.Bars(context.Background(), "MSFT", "1h")
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCache_FetchErrorNotCached(t *testing.T) {
	f := &countingFetcher{err: core.ErrProviderFailed}
	c := NewCache(f, CacheConfig{}, nil)

	_, err := c.Bars(context.Background(), "X", "1d")
	assert.ErrorIs(t, err, core.ErrProviderFailed)
	assert.False(t, c.Cached("X", "1d"))
}

func TestCache_Append(t *testing.T) {
	f := &countingFetcher{}
	c := NewCache(f, CacheConfig{TTL: time.Hour}, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	before, err := c.Bars(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, before, 2)

	c.Append(core.OHLCV{Symbol: "BTCUSDT", Interval: "1m", Time: now, Close: 12})
	grown, err := c.Bars(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, grown, 3)

	// same timestamp replaces, older is ignored
	c.Append(core.OHLCV{Symbol: "BTCUSDT", Interval: "1m", Time: now, Close: 13})
	c.Append(core.OHLCV{Symbol: "BTCUSDT", Interval: "1m", Time: now.Add(-3 * time.Hour), Close: 9})

	after, err := c.Bars(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, after, 3)
	assert.Equal(t, 12.0, grown[2].Close, "earlier reader's slice must not change")
	assert.Equal(t, int32(1), f.calls.Load())

	price, ok := c.LastPrice("BTCUSDT", "1m")
	assert.True(t, ok)
	assert.Equal(t, 13.0, price)
}

func TestCache_AppendIgnoresUnfetchedSeries(t *testing.T) {
	f := &countingFetcher{}
	c := NewCache(f, CacheConfig{TTL: time.Hour}, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Append(core.OHLCV{Symbol: "ETHUSDT", Interval: "1m", Time: now, Close: 99})
	assert.False(t, c.Cached("ETHUSDT", "1m"))
	_, ok := c.LastPrice("ETHUSDT", "1m")
	assert.False(t, ok)

	bars, err := c.Bars(context.Background(), "ETHUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestSelectSymbols(t *testing.T) {
	in := []string{"aapl", " MSFT ", "AAPL", "0700.HK", "BTCUSDT", "SAP.DE", ""}

	assert.Equal(t, []string{"AAPL", "MSFT", "0700.HK", "BTCUSDT", "SAP.DE"}, SelectSymbols(in, false))
	assert.Equal(t, []string{"AAPL", "MSFT"}, SelectSymbols(in, true))
}

func TestValidInterval(t *testing.T) {
	assert.True(t, ValidInterval("4h"))
	assert.False(t, ValidInterval("2h"))
	assert.Equal(t, time.Hour, IntervalDuration("1h"))
}
