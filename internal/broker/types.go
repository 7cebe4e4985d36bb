// Package broker provides types and interfaces for broker integrations.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/arena/internal/core"
)

//go:generate mockgen -destination=mocks/broker.go -package=mocks github.com/newthinker/arena/internal/broker Broker

// Broker-specific errors.
var (
	// ErrNotConnected indicates the broker is not connected.
	ErrNotConnected = errors.New("broker: not connected")
	// ErrAlreadyConnected indicates the broker is already connected.
	ErrAlreadyConnected = errors.New("broker: already connected")
	// ErrOrderNotFound indicates the order was not found.
	ErrOrderNotFound = errors.New("broker: order not found")
	// ErrInvalidSymbol indicates an invalid or empty symbol.
	ErrInvalidSymbol = errors.New("broker: invalid symbol")
	// ErrInvalidQuantity indicates an invalid quantity.
	ErrInvalidQuantity = errors.New("broker: invalid quantity")
	// ErrInvalidPrice indicates an invalid price for limit orders.
	ErrInvalidPrice = errors.New("broker: invalid price for limit order")
	// ErrOrderNotCancellable indicates the order cannot be cancelled.
	ErrOrderNotCancellable = errors.New("broker: order cannot be cancelled")
	// ErrInsufficientFunds indicates insufficient funds for the order.
	ErrInsufficientFunds = errors.New("broker: insufficient funds")
	// ErrNoPrice indicates no fill price could be determined.
	ErrNoPrice = errors.New("broker: no reference price")
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	// OrderSideBuy represents a buy order.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell represents a sell order.
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of order execution.
type OrderType string

const (
	// OrderTypeMarket executes at current market price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit executes at specified price or better.
	OrderTypeLimit OrderType = "LIMIT"
)

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// OrderRequest represents a request to place a new order.
type OrderRequest struct {
	// Symbol is the ticker symbol (e.g., "AAPL", "BTCUSDT").
	Symbol string      `json:"symbol"`
	Market core.Market `json:"market"`
	Side   OrderSide   `json:"side"`
	Type   OrderType   `json:"type"`
	// Quantity is fractional; the executor rounds it to broker precision.
	Quantity float64 `json:"quantity"`
	// Price is the limit price for LIMIT orders and the reference price
	// for MARKET orders.
	Price       float64 `json:"price,omitempty"`
	TimeInForce string  `json:"time_in_force,omitempty"`
	// ClientOrderID correlates the order with an internal position id.
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Validate checks if the order request has valid required fields.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return ErrInvalidSymbol
	}
	if r.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Type == OrderTypeLimit && r.Price <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Order represents an order in the broker system.
type Order struct {
	OrderID          string      `json:"order_id"`
	ClientOrderID    string      `json:"client_order_id,omitempty"`
	Symbol           string      `json:"symbol"`
	Market           core.Market `json:"market"`
	Side             OrderSide   `json:"side"`
	Type             OrderType   `json:"type"`
	Quantity         float64     `json:"quantity"`
	Price            float64     `json:"price,omitempty"`
	Status           OrderStatus `json:"status"`
	FilledQuantity   float64     `json:"filled_quantity"`
	AverageFillPrice float64     `json:"average_fill_price"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	FilledAt         *time.Time  `json:"filled_at,omitempty"`
	RejectionReason  string      `json:"rejection_reason,omitempty"`
}

// RemainingQuantity returns the unfilled quantity.
func (o Order) RemainingQuantity() float64 {
	return o.Quantity - o.FilledQuantity
}

// IsFilled returns true if the order is completely filled.
func (o Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// IsOpen returns true if the order is still active.
func (o Order) IsOpen() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartial
}

// Position represents a holding in a security.
type Position struct {
	Symbol string      `json:"symbol"`
	Market core.Market `json:"market"`
	// Quantity is negative for short positions.
	Quantity            float64   `json:"quantity"`
	AverageCost         float64   `json:"average_cost"`
	CurrentPrice        float64   `json:"current_price"`
	MarketValue         float64   `json:"market_value"`
	UnrealizedPL        float64   `json:"unrealized_pl"`
	UnrealizedPLPercent float64   `json:"unrealized_pl_percent"`
	RealizedPL          float64   `json:"realized_pl"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// IsLong returns true if this is a long position.
func (p Position) IsLong() bool {
	return p.Quantity > 0
}

// IsShort returns true if this is a short position.
func (p Position) IsShort() bool {
	return p.Quantity < 0
}

// Balance represents account balance information.
type Balance struct {
	Currency    string    `json:"currency"`
	Cash        float64   `json:"cash"`
	BuyingPower float64   `json:"buying_power"`
	TotalValue  float64   `json:"total_value"`
	DailyPL     float64   `json:"daily_pl"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Broker defines the interface for broker integrations.
type Broker interface {
	// Name returns the broker identifier (e.g., "alpaca", "paper").
	Name() string

	// Connection management
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Order operations
	PlaceOrder(ctx context.Context, request OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOpenOrders(ctx context.Context) ([]Order, error)

	// Position operations
	GetPositions(ctx context.Context) ([]Position, error)

	// Account operations
	GetBalance(ctx context.Context) (*Balance, error)
}
