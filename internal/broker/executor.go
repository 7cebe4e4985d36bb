package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/newthinker/arena/internal/core"
)

// DefaultQuantityPrecision is the number of decimal places kept in order
// quantities when none is configured.
const DefaultQuantityPrecision = 4

// ExecutorConfig configures order relay.
type ExecutorConfig struct {
	// QuantityPrecision is the number of decimals the broker accepts.
	QuantityPrecision int32
	// Risk limits are applied to opening orders only. Nil disables them.
	Risk *RiskConfig
}

// Executor relays internal position transitions to a broker.
type Executor struct {
	broker    Broker
	tracker   *PositionTracker
	risk      *RiskChecker
	precision int32
	logger    *zap.Logger
}

// NewExecutor creates an executor. The tracker receives fills and failures.
func NewExecutor(b Broker, tracker *PositionTracker, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = NewPositionTracker(b)
	}
	precision := cfg.QuantityPrecision
	if precision <= 0 {
		precision = DefaultQuantityPrecision
	}
	e := &Executor{
		broker:    b,
		tracker:   tracker,
		precision: precision,
		logger:    logger,
	}
	if cfg.Risk != nil {
		e.risk = NewRiskChecker(*cfg.Risk, b)
	}
	return e
}

// Tracker returns the snapshot tracker fed by this executor.
func (e *Executor) Tracker() *PositionTracker {
	return e.tracker
}

// Open places the order that opens pos at the broker.
func (e *Executor) Open(ctx context.Context, pos core.Position) (*Order, error) {
	side := OrderSideBuy
	if pos.Direction == core.Short {
		side = OrderSideSell
	}
	req, err := e.request(pos, side, pos.EntryPrice, pos.ID)
	if err != nil {
		return nil, err
	}

	if e.risk != nil {
		if err := e.connect(ctx); err != nil {
			return nil, e.unreachable(err)
		}
		if res := e.risk.Check(ctx, req, pos.EntryPrice); !res.Allowed {
			return nil, core.Errorf(core.ErrOrderFailed, "risk check rejected %s: %s", pos.Symbol, res.Reason)
		}
	}

	return e.place(ctx, req)
}

// Close places the order that flattens pos at the broker.
func (e *Executor) Close(ctx context.Context, pos core.Position) (*Order, error) {
	side := OrderSideSell
	if pos.Direction == core.Short {
		side = OrderSideBuy
	}
	price := pos.ExitPrice
	if price <= 0 {
		price = pos.CurrentPrice
	}
	req, err := e.request(pos, side, price, pos.ID+"-close")
	if err != nil {
		return nil, err
	}
	return e.place(ctx, req)
}

// Quantity rounds qty down to the configured precision.
func (e *Executor) Quantity(qty float64) float64 {
	q, _ := decimal.NewFromFloat(qty).Truncate(e.precision).Float64()
	return q
}

func (e *Executor) request(pos core.Position, side OrderSide, price float64, clientID string) (OrderRequest, error) {
	qty := e.Quantity(pos.Quantity)
	if qty <= 0 {
		return OrderRequest{}, core.Errorf(core.ErrOrderFailed,
			"quantity %.8f for %s rounds to zero at precision %d", pos.Quantity, pos.Symbol, e.precision)
	}
	return OrderRequest{
		Symbol:        pos.Symbol,
		Market:        core.DetectMarket(pos.Symbol),
		Side:          side,
		Type:          OrderTypeMarket,
		Quantity:      qty,
		Price:         price,
		TimeInForce:   "day",
		ClientOrderID: clientID,
	}, nil
}

func (e *Executor) place(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := e.connect(ctx); err != nil {
		return nil, e.unreachable(err)
	}

	order, err := e.broker.PlaceOrder(ctx, req)
	if err != nil {
		if isRejection(err) {
			e.logger.Warn("order rejected",
				zap.String("symbol", req.Symbol),
				zap.String("client_order_id", req.ClientOrderID),
				zap.Error(err))
			return nil, core.WrapError(core.ErrOrderFailed, err)
		}
		return nil, e.unreachable(err)
	}

	e.logger.Info("order placed",
		zap.String("broker", e.broker.Name()),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("quantity", order.Quantity),
		zap.String("order_id", order.OrderID),
		zap.String("status", string(order.Status)))

	e.tracker.UpdateOnFill(order)
	return order, nil
}

func (e *Executor) connect(ctx context.Context) error {
	if e.broker.IsConnected() {
		return nil
	}
	if err := e.broker.Connect(ctx); err != nil && !errors.Is(err, ErrAlreadyConnected) {
		return fmt.Errorf("connect %s: %w", e.broker.Name(), err)
	}
	return nil
}

func (e *Executor) unreachable(err error) error {
	e.tracker.MarkFailure(err)
	return core.WrapError(core.ErrBrokerUnreachable, err)
}

// isRejection reports whether the broker answered and refused the order,
// as opposed to not answering at all.
func isRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidSymbol, ErrInvalidQuantity, ErrInvalidPrice,
		ErrInsufficientFunds, ErrNoPrice,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
