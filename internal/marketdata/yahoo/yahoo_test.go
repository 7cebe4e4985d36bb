package yahoo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/marketdata"
)

func TestYahoo_ImplementsProvider(t *testing.T) {
	var _ marketdata.Provider = (*Yahoo)(nil)
}

func TestYahoo_ToYahooSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"AAPL", "AAPL"},
		{"0700.HK", "0700.HK"},
		{"600519.SH", "600519.SS"}, // Shanghai -> SS for Yahoo
		{"000001.SZ", "000001.SZ"},
	}

	for _, tc := range tests {
		got := toYahooSymbol(tc.input)
		if got != tc.expected {
			t.Errorf("toYahooSymbol(%s) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestYahoo_ToYahooInterval(t *testing.T) {
	if iv, ok := toYahooInterval("1w"); !ok || iv != "1wk" {
		t.Errorf("1w -> %s, %v", iv, ok)
	}
	if _, ok := toYahooInterval("4h"); ok {
		t.Error("4h should be unsupported")
	}
}

const chartJSON = `{"chart":{"result":[{"timestamp":[1704205800,1704209400,1704213000],
"indicators":{"quote":[{"open":[100,101,null],"high":[102,103,null],"low":[99,100,null],
"close":[101,102,null],"volume":[1000,null,null]}]}}],"error":null}}`

func TestYahoo_FetchBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/600519.SS" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("interval") != "1h" {
			t.Errorf("unexpected interval: %s", r.URL.Query().Get("interval"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chartJSON))
	}))
	defer server.Close()

	y := NewWithBaseURL(server.URL)
	bars, err := y.FetchBars(context.Background(), "600519.SH", "1h", time.Now().Add(-time.Hour*24), time.Now())
	if err != nil {
		t.Fatalf("FetchBars failed: %v", err)
	}

	if len(bars) != 2 {
		t.Fatalf("expected 2 bars (null row skipped), got %d", len(bars))
	}
	if bars[0].Close != 101 || bars[0].Volume != 1000 {
		t.Errorf("bar 0 = %+v", bars[0])
	}
	if bars[1].Volume != 0 {
		t.Errorf("missing volume should be 0, got %f", bars[1].Volume)
	}
	if bars[0].Symbol != "600519.SH" || bars[0].Interval != "1h" {
		t.Errorf("bar identity = %s %s", bars[0].Symbol, bars[0].Interval)
	}
}

func TestYahoo_FetchBarsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	y := NewWithBaseURL(server.URL)
	if _, err := y.FetchBars(context.Background(), "NOPE", "1d", time.Now(), time.Now()); !errors.Is(err, core.ErrDataUnavailable) {
		t.Errorf("expected DATA_UNAVAILABLE, got %v", err)
	}
	if _, err := y.FetchBars(context.Background(), "BAD SYMBOL!", "1d", time.Now(), time.Now()); !errors.Is(err, core.ErrSymbolInvalid) {
		t.Errorf("expected SYMBOL_INVALID, got %v", err)
	}
}
