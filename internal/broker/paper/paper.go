// Package paper implements an in-process simulated broker. Orders fill
// immediately at their reference price unless fills are held.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/arena/internal/broker"
)

// DefaultCash is the starting cash of a paper account.
const DefaultCash = 100000.0

// PriceFunc returns a reference price for symbol.
type PriceFunc func(symbol string) (float64, bool)

// Broker implements broker.Broker against an in-memory ledger.
type Broker struct {
	mu sync.RWMutex

	connected bool
	holdFills bool
	failure   error
	prices    PriceFunc

	orders    map[string]*broker.Order
	orderSeq  int64
	positions map[string]*broker.Position

	cash      decimal.Decimal
	startCash decimal.Decimal
	currency  string
	now       func() time.Time
}

// Option configures a paper broker.
type Option func(*Broker)

// WithPrices sets the price source used when a request carries no price.
func WithPrices(fn PriceFunc) Option {
	return func(b *Broker) { b.prices = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New creates a paper broker holding cash.
func New(cash float64, opts ...Option) *Broker {
	if cash <= 0 {
		cash = DefaultCash
	}
	b := &Broker{
		orders:    make(map[string]*broker.Order),
		positions: make(map[string]*broker.Position),
		cash:      decimal.NewFromFloat(cash),
		startCash: decimal.NewFromFloat(cash),
		currency:  "USD",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the broker identifier.
func (b *Broker) Name() string {
	return "paper"
}

// Connect marks the broker connected.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure != nil {
		return b.failure
	}
	if b.connected {
		return broker.ErrAlreadyConnected
	}
	b.connected = true
	return nil
}

// Disconnect marks the broker disconnected.
func (b *Broker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return broker.ErrNotConnected
	}
	b.connected = false
	return nil
}

// IsConnected returns the connection status.
func (b *Broker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// PlaceOrder records and, unless fills are held, fills the order.
func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	price := req.Price
	if price <= 0 && b.prices != nil {
		if p, ok := b.prices(req.Symbol); ok {
			price = p
		}
	}
	if price <= 0 {
		return nil, broker.ErrNoPrice
	}

	if req.Side == broker.OrderSideBuy {
		cost := decimal.NewFromFloat(req.Quantity).Mul(decimal.NewFromFloat(price))
		if cost.GreaterThan(b.cash) && b.longQuantity(req.Symbol) >= 0 {
			return nil, broker.ErrInsufficientFunds
		}
	}

	b.orderSeq++
	now := b.now()
	order := &broker.Order{
		OrderID:       fmt.Sprintf("PAPER-%d", b.orderSeq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Market:        req.Market,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         price,
		Status:        broker.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.orders[order.OrderID] = order

	if !b.holdFills {
		b.fill(order, price)
	}

	orderCopy := *order
	return &orderCopy, nil
}

// longQuantity is the signed holding used to let a buy cover a short
// without a cash check.
func (b *Broker) longQuantity(symbol string) float64 {
	if pos, ok := b.positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}

func (b *Broker) fill(order *broker.Order, price float64) {
	now := b.now()
	order.Status = broker.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.AverageFillPrice = price
	order.FilledAt = &now
	order.UpdatedAt = now

	value := decimal.NewFromFloat(order.Quantity).Mul(decimal.NewFromFloat(price))
	if order.Side == broker.OrderSideBuy {
		b.cash = b.cash.Sub(value)
	} else {
		b.cash = b.cash.Add(value)
	}

	pos, ok := b.positions[order.Symbol]
	if !ok {
		pos = &broker.Position{Symbol: order.Symbol, Market: order.Market}
		b.positions[order.Symbol] = pos
	}
	broker.ApplyFill(pos, order.Side, order.FilledQuantity, price)
	pos.UpdatedAt = now
	if pos.Quantity == 0 {
		delete(b.positions, order.Symbol)
	}
}

// CancelOrder cancels a pending order.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(); err != nil {
		return err
	}
	order, ok := b.orders[orderID]
	if !ok {
		return broker.ErrOrderNotFound
	}
	if !order.IsOpen() {
		return broker.ErrOrderNotCancellable
	}
	order.Status = broker.OrderStatusCancelled
	order.UpdatedAt = b.now()
	return nil
}

// GetOpenOrders returns pending orders sorted by id.
func (b *Broker) GetOpenOrders(ctx context.Context) ([]broker.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.check(); err != nil {
		return nil, err
	}
	var open []broker.Order
	for _, o := range b.orders {
		if o.IsOpen() {
			open = append(open, *o)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].CreatedAt.Before(open[j].CreatedAt)
		}
		return open[i].OrderID < open[j].OrderID
	})
	return open, nil
}

// GetPositions returns holdings sorted by symbol.
func (b *Broker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.check(); err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetBalance returns the account valued at last fill prices.
func (b *Broker) GetBalance(ctx context.Context) (*broker.Balance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.check(); err != nil {
		return nil, err
	}
	total := b.cash
	for _, p := range b.positions {
		total = total.Add(decimal.NewFromFloat(p.MarketValue))
	}
	cash, _ := b.cash.Float64()
	totalValue, _ := total.Float64()
	dailyPL, _ := total.Sub(b.startCash).Float64()
	return &broker.Balance{
		Currency:    b.currency,
		Cash:        cash,
		BuyingPower: cash,
		TotalValue:  totalValue,
		DailyPL:     dailyPL,
		UpdatedAt:   b.now(),
	}, nil
}

func (b *Broker) check() error {
	if b.failure != nil {
		return b.failure
	}
	if !b.connected {
		return broker.ErrNotConnected
	}
	return nil
}

// SetFailure makes every call fail with err until cleared with nil.
func (b *Broker) SetFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = err
}

// HoldFills leaves new orders pending until FillPending is called.
func (b *Broker) HoldFills(hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdFills = hold
}

// FillPending fills every pending order at its recorded price.
func (b *Broker) FillPending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, o := range b.orders {
		if o.IsOpen() {
			b.fill(o, o.Price)
			n++
		}
	}
	return n
}

var _ broker.Broker = (*Broker)(nil)
