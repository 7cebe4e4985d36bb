package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/arena/internal/broker"
)

func order(side broker.OrderSide, qty, price float64) broker.OrderRequest {
	return broker.OrderRequest{
		Symbol:   "AAPL",
		Side:     side,
		Type:     broker.OrderTypeMarket,
		Quantity: qty,
		Price:    price,
	}
}

func TestBroker_FillsAtReferencePrice(t *testing.T) {
	ctx := context.Background()
	b := New(10000)
	require.NoError(t, b.Connect(ctx))

	o, err := b.PlaceOrder(ctx, order(broker.OrderSideBuy, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, broker.OrderStatusFilled, o.Status)
	assert.Equal(t, 100.0, o.AverageFillPrice)
	assert.Equal(t, "PAPER-1", o.OrderID)

	bal, err := b.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9000.0, bal.Cash)
	assert.Equal(t, 10000.0, bal.TotalValue)

	_, err = b.PlaceOrder(ctx, order(broker.OrderSideSell, 10, 110))
	require.NoError(t, err)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	bal, err = b.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10100.0, bal.Cash)
	assert.Equal(t, 100.0, bal.DailyPL)
}

func TestBroker_PriceFunc(t *testing.T) {
	ctx := context.Background()
	b := New(10000, WithPrices(func(symbol string) (float64, bool) { return 50, symbol == "AAPL" }))
	require.NoError(t, b.Connect(ctx))

	o, err := b.PlaceOrder(ctx, order(broker.OrderSideBuy, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 50.0, o.AverageFillPrice)

	req := order(broker.OrderSideBuy, 1, 0)
	req.Symbol = "MSFT"
	_, err = b.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, broker.ErrNoPrice)
}

func TestBroker_Rejections(t *testing.T) {
	ctx := context.Background()
	b := New(100)

	_, err := b.PlaceOrder(ctx, order(broker.OrderSideBuy, 1, 10))
	assert.ErrorIs(t, err, broker.ErrNotConnected)

	require.NoError(t, b.Connect(ctx))
	assert.ErrorIs(t, b.Connect(ctx), broker.ErrAlreadyConnected)

	_, err = b.PlaceOrder(ctx, order(broker.OrderSideBuy, 0, 10))
	assert.ErrorIs(t, err, broker.ErrInvalidQuantity)

	_, err = b.PlaceOrder(ctx, order(broker.OrderSideBuy, 100, 10))
	assert.ErrorIs(t, err, broker.ErrInsufficientFunds)

	// short sale needs no cash
	_, err = b.PlaceOrder(ctx, order(broker.OrderSideSell, 100, 10))
	assert.NoError(t, err)
}

func TestBroker_HeldFills(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	b := New(10000, WithClock(func() time.Time { return clock }))
	require.NoError(t, b.Connect(ctx))
	b.HoldFills(true)

	first, err := b.PlaceOrder(ctx, order(broker.OrderSideBuy, 1, 100))
	require.NoError(t, err)
	second, err := b.PlaceOrder(ctx, order(broker.OrderSideBuy, 2, 100))
	require.NoError(t, err)
	assert.Equal(t, broker.OrderStatusPending, first.Status)

	open, err := b.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)

	require.NoError(t, b.CancelOrder(ctx, second.OrderID))
	assert.ErrorIs(t, b.CancelOrder(ctx, second.OrderID), broker.ErrOrderNotCancellable)
	assert.ErrorIs(t, b.CancelOrder(ctx, "nope"), broker.ErrOrderNotFound)

	assert.Equal(t, 1, b.FillPending())
	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 1.0, positions[0].Quantity)
}

func TestBroker_Failure(t *testing.T) {
	ctx := context.Background()
	b := New(0)
	require.NoError(t, b.Connect(ctx))

	b.SetFailure(errors.New("maintenance"))
	_, err := b.GetBalance(ctx)
	assert.EqualError(t, err, "maintenance")

	b.SetFailure(nil)
	bal, err := b.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultCash, bal.Cash)
}
