package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/strategy/regression"
	"github.com/newthinker/arena/internal/strategy/strategytest"
)

// scripted emits fixed signals at bar indexes.
type scripted struct {
	at map[int]core.Signal
}

func (s *scripted) Name() string                 { return "scripted" }
func (s *scripted) Description() string          { return "fixed signals for tests" }
func (s *scripted) Params() []strategy.ParamSpec { return nil }

func (s *scripted) Evaluate(bars []core.OHLCV, _ strategy.Params, _ bool) (strategy.Evaluation, error) {
	var out []core.Signal
	for i, b := range bars {
		if sig, ok := s.at[i]; ok {
			sig.Time = b.Time
			sig.Price = b.Close
			out = append(out, sig)
		}
	}
	return strategy.Evaluation{Signals: out, Indicators: map[string][]float64{"flat": make([]float64, len(bars))}}, nil
}

func flatBars(n int, price float64) []core.OHLCV {
	bars := make([]core.OHLCV, n)
	for i := range bars {
		bars[i] = core.OHLCV{
			Symbol: "TEST", Interval: "1d",
			Time: strategytest.Start.AddDate(0, 0, i),
			Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1000,
		}
	}
	return bars
}

// mockSource implements BarSource for testing
type mockSource struct {
	bars []core.OHLCV
	err  error
}

func (m *mockSource) Bars(ctx context.Context, symbol, interval string) ([]core.OHLCV, error) {
	return m.bars, m.err
}

func TestRun_ClosesOpenPositionAtEnd(t *testing.T) {
	bars := flatBars(10, 100)
	strat := &scripted{at: map[int]core.Signal{2: {Kind: core.EntryLong}}}

	result, err := Run("TEST", bars, strat, nil, Options{TradeAmount: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}

	tr := result.Trades[0]
	if tr.IsOpen {
		t.Error("trade should be closed after the last bar")
	}
	if tr.CloseReason != core.CloseEnd {
		t.Errorf("expected END, got %s", tr.CloseReason)
	}
	if tr.ExitTime == nil || !tr.ExitTime.Equal(bars[9].Time) {
		t.Errorf("exit time = %v, want last bar", tr.ExitTime)
	}
	if tr.Quantity != 10 {
		t.Errorf("quantity = %f, want 10", tr.Quantity)
	}
	if result.Metrics.EndClosedTrades != 1 {
		t.Errorf("end closed = %d, want 1", result.Metrics.EndClosedTrades)
	}
}

func TestRun_StopWinsOverTarget(t *testing.T) {
	bars := flatBars(6, 100)
	// bar 3 spans both levels
	bars[3].High, bars[3].Low = 110, 90
	strat := &scripted{at: map[int]core.Signal{
		1: {Kind: core.EntryLong, StopLoss: 95, TakeProfit: 105},
	}}

	result, err := Run("TEST", bars, strat, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	tr := result.Trades[0]
	if tr.CloseReason != core.CloseSL {
		t.Errorf("expected SL, got %s", tr.CloseReason)
	}
	if tr.ExitPrice != 95 {
		t.Errorf("exit price = %f, want 95", tr.ExitPrice)
	}
	if !tr.ExitTime.Equal(bars[3].Time) {
		t.Errorf("exit at %v, want bar 3", tr.ExitTime)
	}
}

func TestRun_ReverseOnOpposingSignal(t *testing.T) {
	bars := flatBars(8, 100)
	bars[4].Close = 104
	strat := &scripted{at: map[int]core.Signal{
		1: {Kind: core.EntryLong},
		4: {Kind: core.EntryShort},
	}}

	result, err := Run("TEST", bars, strat, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(result.Trades))
	}
	if result.Trades[0].CloseReason != core.CloseSignal || result.Trades[0].ExitPrice != 104 {
		t.Errorf("first trade = %+v", result.Trades[0])
	}
	if result.Trades[1].Direction != core.Short {
		t.Errorf("second trade should be short")
	}
	if result.Trades[0].ID != "TEST-1" || result.Trades[1].ID != "TEST-2" {
		t.Errorf("ids = %s, %s", result.Trades[0].ID, result.Trades[1].ID)
	}
}

func TestRun_NoBars(t *testing.T) {
	_, err := Run("TEST", nil, &scripted{}, nil, Options{})
	if !errors.Is(err, core.ErrDataUnavailable) {
		t.Errorf("expected DATA_UNAVAILABLE, got %v", err)
	}
}

func TestRun_InvalidParams(t *testing.T) {
	_, err := Run("UP", strategytest.Uptrend(50), regression.New(), map[string]any{"reg_period": 1}, Options{})
	if !errors.Is(err, core.ErrInvalidParameter) {
		t.Errorf("expected INVALID_PARAMETER, got %v", err)
	}
}

func TestRun_RegressionUptrend(t *testing.T) {
	bars := strategytest.Uptrend(100)
	raw := map[string]any{"risk_reward": 2.0, "sl_buffer": 1.5}

	result, err := Run("UP", bars, regression.New(), raw, Options{TradeAmount: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Trades) == 0 {
		t.Fatal("expected trades")
	}

	var prevExit time.Time
	for _, tr := range result.Trades {
		if tr.IsOpen || tr.ExitTime == nil {
			t.Fatalf("trade %s left open", tr.ID)
		}
		if tr.EntryTime.Before(prevExit) {
			t.Errorf("trade %s overlaps the previous one", tr.ID)
		}
		prevExit = *tr.ExitTime

		if tr.Direction != core.Long {
			t.Errorf("trade %s direction = %s", tr.ID, tr.Direction)
		}
		ratio := (tr.TakeProfit - tr.EntryPrice) / (tr.EntryPrice - tr.StopLoss)
		if math.Abs(ratio-2) > 1e-9 {
			t.Errorf("trade %s reward/risk = %f", tr.ID, ratio)
		}
		if tr.CloseReason == core.CloseTP && math.Abs(tr.ExitPrice-tr.TakeProfit) > 1e-9 && tr.ExitPrice < tr.TakeProfit {
			t.Errorf("take-profit filled below target: %f < %f", tr.ExitPrice, tr.TakeProfit)
		}
	}

	for _, name := range []string{"reg_mid", "reg_upper", "reg_lower"} {
		if len(result.Overlays[name]) != len(bars) {
			t.Errorf("overlay %s has %d points, want %d", name, len(result.Overlays[name]), len(bars))
		}
	}
	if len(result.Indicators) != 3 || len(result.ChartData) != len(bars) {
		t.Errorf("indicators=%v chart=%d", result.Indicators, len(result.ChartData))
	}
}

func TestRun_Deterministic(t *testing.T) {
	bars := strategytest.Uptrend(120)
	raw := map[string]any{"risk_reward": 2.0}

	a, err := Run("UP", bars, regression.New(), raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Run("UP", bars, regression.New(), raw, Options{})
	if err != nil {
		t.Fatal(err)
	}

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Error("identical inputs produced different results")
	}
}

func TestBacktester_RunSymbol(t *testing.T) {
	engine := strategy.NewEngine()
	engine.Register(&scripted{at: map[int]core.Signal{1: {Kind: core.EntryLong}}})
	bt := New(&mockSource{bars: flatBars(5, 50)}, engine, nil)

	result, err := bt.RunSymbol(context.Background(), Request{Symbol: "TEST", Strategy: "scripted", Options: Options{Interval: "1d"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Interval != "1d" || len(result.Trades) != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.Trades[0].Quantity != DefaultTradeAmount/50 {
		t.Errorf("quantity = %f", result.Trades[0].Quantity)
	}
}

func TestBacktester_RunSymbolErrors(t *testing.T) {
	engine := strategy.NewEngine()
	engine.Register(&scripted{})

	bt := New(&mockSource{err: core.ErrProviderFailed}, engine, nil)
	if _, err := bt.RunSymbol(context.Background(), Request{Symbol: "X", Strategy: "scripted"}); !errors.Is(err, core.ErrProviderFailed) {
		t.Errorf("expected provider error, got %v", err)
	}
	if _, err := bt.RunSymbol(context.Background(), Request{Symbol: "X", Strategy: "missing"}); !errors.Is(err, core.ErrStrategyNotFound) {
		t.Errorf("expected STRATEGY_NOT_FOUND, got %v", err)
	}
}
