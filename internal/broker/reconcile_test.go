package broker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/arena/internal/broker"
	"github.com/newthinker/arena/internal/core"
)

func openPosition(symbol string, dir core.Direction, qty, entry float64) core.Position {
	return core.Position{Trade: core.Trade{
		ID:         symbol + "-1",
		Symbol:     symbol,
		Direction:  dir,
		Quantity:   qty,
		EntryPrice: entry,
		IsOpen:     true,
	}}
}

func TestReconcile_Match(t *testing.T) {
	internal := []core.Position{openPosition("AAPL", core.Long, 10, 100)}
	held := []broker.Position{{Symbol: "AAPL", Quantity: 10, AverageCost: 100.5}}

	report := broker.Reconcile(internal, nil, held, nil, 1.0)

	assert.Equal(t, 1, report.Matches)
	assert.Equal(t, 0, report.Mismatches)
	assert.Empty(t, report.Details)
}

func TestReconcile_EntryPriceDiff(t *testing.T) {
	internal := []core.Position{openPosition("AAPL", core.Long, 10, 100)}
	held := []broker.Position{{Symbol: "AAPL", Quantity: 10, AverageCost: 103}}

	report := broker.Reconcile(internal, nil, held, nil, 1.0)

	require.Len(t, report.Details, 1)
	d := report.Details[0]
	assert.Equal(t, broker.MismatchEntryPrice, d.Kind)
	assert.InDelta(t, 3.0, d.DiffPct, 1e-9)
	assert.Equal(t, 100.0, d.InternalPrice)
	assert.Equal(t, 103.0, d.BrokerPrice)
	assert.Equal(t, 1, report.Mismatches)
	assert.Equal(t, 0, report.Matches)
}

func TestReconcile_MissingAndExtra(t *testing.T) {
	internal := []core.Position{openPosition("MSFT", core.Long, 3, 400)}
	held := []broker.Position{{Symbol: "TSLA", Quantity: 2, AverageCost: 250}}
	account := &broker.Balance{Currency: "USD", Cash: 1000}

	report := broker.Reconcile(internal, account, held, nil, 1.0)

	require.Len(t, report.Details, 2)
	assert.Equal(t, broker.MismatchMissing, report.Details[0].Kind)
	assert.Equal(t, "MSFT", report.Details[0].Symbol)
	assert.Equal(t, broker.MismatchExtra, report.Details[1].Kind)
	assert.Equal(t, "TSLA", report.Details[1].Symbol)
	assert.Equal(t, 2, report.Mismatches)
	assert.Same(t, account, report.Account)
}

func TestReconcile_PendingOrderIsInformational(t *testing.T) {
	pos := openPosition("NVDA", core.Long, 5, 120)
	pos.BrokerOrderID = "o-1"
	orders := []broker.Order{{OrderID: "o-1", Symbol: "NVDA", Status: broker.OrderStatusPending}}

	report := broker.Reconcile([]core.Position{pos}, nil, nil, orders, 1.0)

	require.Len(t, report.Details, 1)
	assert.Equal(t, broker.PendingOrder, report.Details[0].Kind)
	assert.True(t, report.Details[0].Informational)
	assert.Equal(t, "o-1", report.Details[0].OrderID)
	assert.Equal(t, 0, report.Mismatches)
	assert.Equal(t, 0, report.Matches)
}

func TestReconcile_AggregatesPerSymbol(t *testing.T) {
	internal := []core.Position{
		openPosition("AAPL", core.Long, 10, 100),
		openPosition("AAPL", core.Long, 10, 110),
	}
	closed := openPosition("AAPL", core.Long, 50, 10)
	closed.IsOpen = false
	internal = append(internal, closed)

	held := []broker.Position{{Symbol: "AAPL", Quantity: 20, AverageCost: 105}}

	report := broker.Reconcile(internal, nil, held, nil, 0.1)

	assert.Equal(t, 1, report.Matches)
	assert.Equal(t, 0, report.Mismatches)
}

func TestReconcile_Short(t *testing.T) {
	internal := []core.Position{openPosition("btcusdt", core.Short, 0.5, 60000)}
	held := []broker.Position{{Symbol: "BTCUSDT", Quantity: -0.5, AverageCost: 60000}}

	report := broker.Reconcile(internal, nil, held, nil, 0.5)

	assert.Equal(t, 1, report.Matches)
	assert.Empty(t, report.Details)
}

func TestReconcile_NothingTracked(t *testing.T) {
	report := broker.Reconcile(nil, nil, nil, nil, 1.0)

	assert.Equal(t, 0, report.Matches)
	assert.Equal(t, 0, report.Mismatches)
	assert.NotNil(t, report.Details)
}

func TestReconcile_DirectionMismatch(t *testing.T) {
	internal := []core.Position{openPosition("AAPL", core.Long, 10, 100)}
	held := []broker.Position{{Symbol: "AAPL", Quantity: -10, AverageCost: 100}}

	report := broker.Reconcile(internal, nil, held, nil, 1.0)

	require.Len(t, report.Details, 1)
	d := report.Details[0]
	assert.Equal(t, broker.MismatchDirection, d.Kind)
	assert.Equal(t, 10.0, d.InternalQty)
	assert.Equal(t, -10.0, d.BrokerQty)
	assert.Equal(t, "internal long 10 vs broker short 10", d.Message)
	assert.Equal(t, 1, report.Mismatches)
	assert.Equal(t, 0, report.Matches)
}

func TestReconcile_QuantityDiff(t *testing.T) {
	tests := []struct {
		name     string
		dir      core.Direction
		held     float64
		mismatch bool
	}{
		{"long undersized", core.Long, 5, true},
		{"long oversized", core.Long, 12, true},
		{"long within tolerance", core.Long, 10.05, false},
		{"short undersized", core.Short, -4, true},
		{"short exact", core.Short, -10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			internal := []core.Position{openPosition("AAPL", tt.dir, 10, 100)}
			held := []broker.Position{{Symbol: "AAPL", Quantity: tt.held, AverageCost: 100}}

			report := broker.Reconcile(internal, nil, held, nil, 1.0)

			if !tt.mismatch {
				assert.Equal(t, 1, report.Matches)
				assert.Empty(t, report.Details)
				return
			}
			require.Len(t, report.Details, 1)
			assert.Equal(t, broker.MismatchQuantity, report.Details[0].Kind)
			assert.Equal(t, tt.held, report.Details[0].BrokerQty)
			assert.Equal(t, 1, report.Mismatches)
		})
	}
}

func TestReconcile_OffsettingLegs(t *testing.T) {
	internal := []core.Position{
		openPosition("MSFT", core.Long, 3, 400),
		openPosition("MSFT", core.Short, 3, 410),
	}

	report := broker.Reconcile(internal, nil, nil, nil, 1.0)
	assert.Equal(t, 1, report.Matches)
	assert.Empty(t, report.Details)

	held := []broker.Position{{Symbol: "MSFT", Quantity: 3, AverageCost: 400}}
	report = broker.Reconcile(internal, nil, held, nil, 1.0)
	require.Len(t, report.Details, 1)
	assert.Equal(t, broker.MismatchDirection, report.Details[0].Kind)
	assert.Equal(t, 1, report.Mismatches)
}
