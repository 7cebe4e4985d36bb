package broker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/arena/internal/broker"
	"github.com/newthinker/arena/internal/broker/paper"
	"github.com/newthinker/arena/internal/core"
)

func connectedPaper(t *testing.T, cash float64) *paper.Broker {
	t.Helper()
	b := paper.New(cash)
	require.NoError(t, b.Connect(context.Background()))
	return b
}

func buy(symbol string, qty, price float64) broker.OrderRequest {
	return broker.OrderRequest{
		Symbol:   symbol,
		Market:   core.MarketUS,
		Side:     broker.OrderSideBuy,
		Type:     broker.OrderTypeMarket,
		Quantity: qty,
		Price:    price,
	}
}

func TestDefaultRiskConfig(t *testing.T) {
	config := broker.DefaultRiskConfig()

	assert.Equal(t, 10.0, config.MaxPositionPct)
	assert.Equal(t, 5.0, config.MaxDailyLossPct)
	assert.Equal(t, 20, config.MaxOpenPositions)
}

func TestRiskChecker_Check(t *testing.T) {
	ctx := context.Background()
	b := connectedPaper(t, 100000)
	checker := broker.NewRiskChecker(broker.DefaultRiskConfig(), b)

	// 5% of the account
	result := checker.Check(ctx, buy("AAPL", 50, 100), 100)
	assert.True(t, result.Allowed, result.Reason)

	// 20% of the account
	result = checker.Check(ctx, buy("AAPL", 200, 100), 100)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "position size too large")
}

func TestRiskChecker_DailyLoss(t *testing.T) {
	ctx := context.Background()
	b := connectedPaper(t, 100000)

	_, err := b.PlaceOrder(ctx, buy("AAPL", 100, 100))
	require.NoError(t, err)
	// marks the remaining 99 shares at 50
	sell := buy("AAPL", 1, 50)
	sell.Side = broker.OrderSideSell
	_, err = b.PlaceOrder(ctx, sell)
	require.NoError(t, err)

	checker := broker.NewRiskChecker(broker.DefaultRiskConfig(), b)
	result := checker.Check(ctx, buy("MSFT", 1, 10), 10)

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "daily loss limit reached")
}

func TestRiskChecker_MaxOpenPositions(t *testing.T) {
	ctx := context.Background()
	b := connectedPaper(t, 100000)
	_, err := b.PlaceOrder(ctx, buy("AAPL", 10, 100))
	require.NoError(t, err)

	checker := broker.NewRiskChecker(broker.RiskConfig{MaxOpenPositions: 1}, b)
	result := checker.Check(ctx, buy("MSFT", 1, 100), 100)

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "max open positions")
}

func TestRiskChecker_BrokerDown(t *testing.T) {
	b := paper.New(1000)
	checker := broker.NewRiskChecker(broker.DefaultRiskConfig(), b)

	result := checker.Check(context.Background(), buy("AAPL", 1, 1), 1)

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "failed to get balance")
}
