package core

import (
	"strings"
	"time"
)

// Market represents a trading market
type Market string

const (
	MarketUS     Market = "US"
	MarketHK     Market = "HK"
	MarketCNA    Market = "CN_A"
	MarketEU     Market = "EU"
	MarketCrypto Market = "CRYPTO"
)

var euSuffixes = []string{".DE", ".F", ".PA", ".AS", ".MI", ".MC", ".L", ".SW", ".VI", ".BR", ".ST", ".CO", ".HE", ".OL"}

// DetectMarket classifies a symbol by its exchange suffix or pair notation.
func DetectMarket(symbol string) Market {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasSuffix(s, ".HK"):
		return MarketHK
	case strings.HasSuffix(s, ".SH"), strings.HasSuffix(s, ".SZ"):
		return MarketCNA
	case strings.HasSuffix(s, "USDT"), strings.HasSuffix(s, "-USD"), strings.HasSuffix(s, "-EUR"):
		return MarketCrypto
	}
	for _, suffix := range euSuffixes {
		if strings.HasSuffix(s, suffix) {
			return MarketEU
		}
	}
	return MarketUS
}

// OHLCV represents a candlestick/bar
type OHLCV struct {
	Symbol   string    `json:"-"`
	Interval string    `json:"-"` // "1m", "5m", "1h", "1d"
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Direction is the side of a trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// SignalKind is the decision an evaluator emits at a bar close.
type SignalKind string

const (
	EntryLong  SignalKind = "ENTRY_LONG"
	EntryShort SignalKind = "ENTRY_SHORT"
	Exit       SignalKind = "EXIT"
)

// IsEntry reports whether the kind opens a trade.
func (k SignalKind) IsEntry() bool {
	return k == EntryLong || k == EntryShort
}

// Direction returns the side an entry opens.
func (k SignalKind) Direction() Direction {
	if k == EntryShort {
		return Short
	}
	return Long
}

// Signal represents an evaluator decision at one bar close.
// Entries may carry protective levels; an EXIT names the side it closes.
type Signal struct {
	Time          time.Time  `json:"time"`
	Kind          SignalKind `json:"kind"`
	Price         float64    `json:"price"`
	Reason        string     `json:"reason"`
	Direction     Direction  `json:"direction,omitempty"`
	StopLoss      float64    `json:"stop_loss,omitempty"`
	TakeProfit    float64    `json:"take_profit,omitempty"`
	TrailDistance float64    `json:"trail_distance,omitempty"`
}

// CloseReason records why a trade was closed.
type CloseReason string

const (
	CloseTP     CloseReason = "TP"
	CloseSL     CloseReason = "SL"
	CloseSignal CloseReason = "SIGNAL"
	CloseManual CloseReason = "MANUAL"
	CloseEnd    CloseReason = "END"
)

// Valid reports whether r is one of the known close reasons.
func (r CloseReason) Valid() bool {
	switch r {
	case CloseTP, CloseSL, CloseSignal, CloseManual, CloseEnd:
		return true
	}
	return false
}

// Trade is a long or short exposure from entry to exit.
// Percentages are already multiplied by 100.
type Trade struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Strategy      string      `json:"strategy"`
	Direction     Direction   `json:"direction"`
	EntryTime     time.Time   `json:"entry_time"`
	EntryPrice    float64     `json:"entry_price"`
	ExitTime      *time.Time  `json:"exit_time,omitempty"`
	ExitPrice     float64     `json:"exit_price,omitempty"`
	Quantity      float64     `json:"quantity"`
	StopLoss      float64     `json:"stop_loss"`
	TakeProfit    float64     `json:"take_profit"`
	TrailDistance float64     `json:"trail_distance,omitempty"`
	CurrentPrice  float64     `json:"current_price"`
	CloseReason   CloseReason `json:"close_reason,omitempty"`
	ReturnPct     float64     `json:"return_pct"`
	ProfitLoss    float64     `json:"profit_loss"`
	IsOpen        bool        `json:"is_open"`
}

// ReturnPct is the percentage move from entry to price in the trade's favour.
func ReturnPct(d Direction, entry, price float64) float64 {
	if entry == 0 {
		return 0
	}
	if d == Short {
		return (entry - price) / entry * 100
	}
	return (price - entry) / entry * 100
}

// Mark updates floating P/L at price.
func (t *Trade) Mark(price float64) {
	t.CurrentPrice = price
	t.ReturnPct = ReturnPct(t.Direction, t.EntryPrice, price)
	t.ProfitLoss = t.Quantity * t.EntryPrice * t.ReturnPct / 100
}

// Close sets the exit fields.
func (t *Trade) Close(at time.Time, price float64, reason CloseReason) {
	t.Mark(price)
	exit := at
	t.ExitTime = &exit
	t.ExitPrice = price
	t.CloseReason = reason
	t.IsOpen = false
}

// IsWin reports whether the trade made money.
func (t Trade) IsWin() bool {
	return t.ReturnPct > 0
}
