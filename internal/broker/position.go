package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/arena/internal/core"
)

// Snapshot is the broker state captured by the last successful sync.
type Snapshot struct {
	Balance   *Balance          `json:"account,omitempty"`
	Positions []Position        `json:"positions"`
	Orders    []Order           `json:"orders"`
	SyncedAt  time.Time         `json:"synced_at"`
	Status    core.BrokerStatus `json:"status"`
}

// PositionTracker keeps the last broker snapshot and its reachability.
// A failed sync records the error but keeps the previous positions, so
// "unreachable" is never mistaken for "flat".
type PositionTracker struct {
	broker    Broker
	balance   *Balance
	positions map[string]*Position // symbol -> position
	orders    []Order
	lastSync  time.Time
	status    core.BrokerStatus
	now       func() time.Time
	mu        sync.RWMutex
}

// NewPositionTracker creates a new PositionTracker with the given broker.
func NewPositionTracker(broker Broker) *PositionTracker {
	return &PositionTracker{
		broker:    broker,
		positions: make(map[string]*Position),
		now:       time.Now,
	}
}

// Sync fetches account, positions and open orders from the broker.
func (pt *PositionTracker) Sync(ctx context.Context) error {
	balance, positions, orders, err := pt.fetch(ctx)
	if err != nil {
		pt.MarkFailure(err)
		return core.WrapError(core.ErrBrokerUnreachable, err)
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.positions = make(map[string]*Position, len(positions))
	for i := range positions {
		pos := positions[i]
		pt.positions[pos.Symbol] = &pos
	}
	pt.balance = balance
	pt.orders = orders
	pt.lastSync = pt.now()
	checked := pt.lastSync
	pt.status = core.BrokerStatus{Active: true, LastChecked: &checked}

	return nil
}

func (pt *PositionTracker) fetch(ctx context.Context) (*Balance, []Position, []Order, error) {
	if !pt.broker.IsConnected() {
		if err := pt.broker.Connect(ctx); err != nil && err != ErrAlreadyConnected {
			return nil, nil, nil, fmt.Errorf("connect %s: %w", pt.broker.Name(), err)
		}
	}
	balance, err := pt.broker.GetBalance(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("balance: %w", err)
	}
	positions, err := pt.broker.GetPositions(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("positions: %w", err)
	}
	orders, err := pt.broker.GetOpenOrders(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("orders: %w", err)
	}
	return balance, positions, orders, nil
}

// MarkFailure records a broker error without touching the snapshot.
func (pt *PositionTracker) MarkFailure(err error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	checked := pt.now()
	pt.status = core.BrokerStatus{Active: false, LastError: err.Error(), LastChecked: &checked}
}

// Status returns the last known reachability.
func (pt *PositionTracker) Status() core.BrokerStatus {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.status
}

// Snapshot returns a copy of the last synced state.
func (pt *PositionTracker) Snapshot() Snapshot {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	s := Snapshot{
		Positions: make([]Position, 0, len(pt.positions)),
		Orders:    append([]Order{}, pt.orders...),
		SyncedAt:  pt.lastSync,
		Status:    pt.status,
	}
	if pt.balance != nil {
		b := *pt.balance
		s.Balance = &b
	}
	for _, symbol := range sortedKeys(pt.positions) {
		s.Positions = append(s.Positions, *pt.positions[symbol])
	}
	return s
}

// GetPosition returns the current position for a symbol.
// If no position exists, returns an empty Position with zero quantity.
func (pt *PositionTracker) GetPosition(symbol string) *Position {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if pos, exists := pt.positions[symbol]; exists {
		posCopy := *pos
		return &posCopy
	}
	return &Position{Symbol: symbol}
}

// UpdateOnFill applies an order fill to the local snapshot until the next
// sync replaces it. Quantities are signed, so a SELL from flat opens a short.
func (pt *PositionTracker) UpdateOnFill(order *Order) {
	if order == nil || order.FilledQuantity == 0 {
		return
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	pos, exists := pt.positions[order.Symbol]
	if !exists {
		pos = &Position{Symbol: order.Symbol, Market: order.Market}
		pt.positions[order.Symbol] = pos
	}
	ApplyFill(pos, order.Side, order.FilledQuantity, order.AverageFillPrice)
	pos.UpdatedAt = pt.now()

	if pos.Quantity == 0 {
		delete(pt.positions, order.Symbol)
	}
}

// ApplyFill updates quantity, average cost and P&L for one fill.
func ApplyFill(pos *Position, side OrderSide, qty, price float64) {
	signed := qty
	if side == OrderSideSell {
		signed = -qty
	}

	switch {
	case pos.Quantity == 0 || (pos.Quantity > 0) == (signed > 0):
		// opening or adding: weighted average cost
		total := pos.Quantity*pos.AverageCost + signed*price
		pos.Quantity += signed
		if pos.Quantity != 0 {
			pos.AverageCost = total / pos.Quantity
		}
	default:
		// reducing: realize P&L on the closed part
		closed := qty
		if abs(signed) > abs(pos.Quantity) {
			closed = abs(pos.Quantity)
		}
		direction := 1.0
		if pos.Quantity < 0 {
			direction = -1
		}
		pos.RealizedPL += (price - pos.AverageCost) * closed * direction
		pos.Quantity += signed
		if (pos.Quantity > 0) != (direction > 0) && pos.Quantity != 0 {
			// flipped through zero
			pos.AverageCost = price
		}
	}

	pos.CurrentPrice = price
	pos.MarketValue = pos.Quantity * price
	cost := pos.Quantity * pos.AverageCost
	pos.UnrealizedPL = pos.MarketValue - cost
	if cost != 0 {
		pos.UnrealizedPLPercent = pos.UnrealizedPL / abs(cost) * 100
	} else {
		pos.UnrealizedPLPercent = 0
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
