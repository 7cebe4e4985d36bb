package backtest

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
)

// Options tune a single-symbol run.
type Options struct {
	Interval    string
	TradeAmount float64
	LongOnly    bool
	// Since drops trades entered before it from the result. Earlier bars
	// still warm up the indicators.
	Since   time.Time
	Metrics MetricsOptions
}

// MetricsOptions select how open and end-of-data trades count.
type MetricsOptions struct {
	// ExcludeEndTrades leaves trades force-closed at the last bar out of
	// win-rate, averages and the equity curve.
	ExcludeEndTrades bool `json:"exclude_end_trades"`
	// OpenAsProvisionalWins counts open trades with positive floating
	// return as wins. They never enter the equity curve.
	OpenAsProvisionalWins bool `json:"open_as_provisional_wins"`
}

// Result holds the complete backtest output
type Result struct {
	Symbol     string            `json:"symbol"`
	Strategy   string            `json:"strategy"`
	Interval   string            `json:"interval"`
	Params     strategy.Params   `json:"params"`
	StartDate  time.Time         `json:"start_date"`
	EndDate    time.Time         `json:"end_date"`
	Trades     []core.Trade      `json:"trades"`
	Metrics    Metrics           `json:"metrics"`
	Markers    []Marker          `json:"markers"`
	Overlays   map[string]Series `json:"overlays"`
	Indicators []string          `json:"indicators"`
	ChartData  []core.OHLCV      `json:"chart_data"`
	Signals    []core.Signal     `json:"signals"`
}

// Metrics holds performance statistics. Percentages are multiplied by 100.
type Metrics struct {
	TotalTrades     int     `json:"total_trades"`
	ClosedTrades    int     `json:"closed_trades"`
	OpenTrades      int     `json:"open_trades"`
	EndClosedTrades int     `json:"end_closed_trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	ProvisionalWins int     `json:"provisional_wins"`
	WinRate         float64 `json:"win_rate"`
	AvgWinPct       float64 `json:"avg_win_pct"`
	AvgLossPct      float64 `json:"avg_loss_pct"`
	RiskReward      float64 `json:"risk_reward"`
	TotalReturnPct  float64 `json:"total_return_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	ProfitFactor    float64 `json:"profit_factor"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	TotalProfitLoss float64 `json:"total_profit_loss"`
}

// Marker annotates a chart at a trade entry or exit.
type Marker struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	Position string    `json:"position"`
	Shape    string    `json:"shape"`
	Color    string    `json:"color"`
	Price    float64   `json:"price"`
	Text     string    `json:"text"`
}

// Series is an indicator overlay; NaN warm-up values encode as null.
type Series []float64

// MarshalJSON implements json.Marshaler.
func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
