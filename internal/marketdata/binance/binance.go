// Package binance implements a marketdata.Provider over the Binance
// klines API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/newthinker/arena/internal/core"
)

const (
	baseURL = "https://api.binance.com"
	// maxKlines is the per-request page size limit.
	maxKlines = 1000
)

// Binance implements the Provider interface for Binance exchange
type Binance struct {
	client  *http.Client
	baseURL string
}

// New creates a new Binance provider
func New() *Binance {
	return &Binance{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
	}
}

// NewWithBaseURL creates a Binance provider with custom base URL (for testing)
func NewWithBaseURL(u string) *Binance {
	b := New()
	b.baseURL = u
	return b
}

func (b *Binance) Name() string {
	return "binance"
}

func (b *Binance) SupportedMarkets() []core.Market {
	return []core.Market{core.MarketCrypto}
}

// FetchBars pages through klines from start to end. Bars carry the caller's
// symbol spelling; the request uses the normalized pair.
func (b *Binance) FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.OHLCV, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	pair := NormalizeSymbol(symbol, "USDT")
	step := toInterval(interval)

	var data []core.OHLCV
	cursor := start
	for cursor.Before(end) {
		page, err := b.fetchPage(ctx, pair, step, cursor, end)
		if err != nil {
			return nil, err
		}
		for i := range page {
			page[i].Symbol = symbol
			page[i].Interval = interval
		}
		data = append(data, page...)
		if len(page) < maxKlines {
			break
		}
		cursor = page[len(page)-1].Time.Add(time.Millisecond)
	}

	return data, nil
}

func (b *Binance) fetchPage(ctx context.Context, pair, interval string, start, end time.Time) ([]core.OHLCV, error) {
	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(maxKlines))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, core.Errorf(core.ErrSymbolInvalid, "binance rejected %s", pair)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var klines [][]any
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	data := make([]core.OHLCV, 0, len(klines))
	for _, k := range klines {
		if len(k) < 6 {
			continue
		}

		openTime, _ := k[0].(float64)
		data = append(data, core.OHLCV{
			Time:   time.UnixMilli(int64(openTime)).UTC(),
			Open:   parseField(k[1]),
			High:   parseField(k[2]),
			Low:    parseField(k[3]),
			Close:  parseField(k[4]),
			Volume: parseField(k[5]),
		})
	}

	return data, nil
}

func parseField(v any) float64 {
	s, _ := v.(string)
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func toInterval(interval string) string {
	switch interval {
	case "1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w":
		return interval
	default:
		return "1d"
	}
}
