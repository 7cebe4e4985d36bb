package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskConfig defines risk management parameters.
type RiskConfig struct {
	// MaxPositionPct is the maximum percentage of portfolio value allowed in a single position.
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
	// MaxDailyLossPct is the maximum daily loss percentage before trading is halted.
	MaxDailyLossPct float64 `mapstructure:"max_daily_loss_pct"`
	// MaxOpenPositions is the maximum number of concurrent positions allowed.
	MaxOpenPositions int `mapstructure:"max_open_positions"`
}

// DefaultRiskConfig returns a RiskConfig with sensible default values.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionPct:   10.0,
		MaxDailyLossPct:  5.0,
		MaxOpenPositions: 20,
	}
}

// RiskCheckResult represents the outcome of a risk check.
type RiskCheckResult struct {
	Allowed bool
	Reason  string
}

// RiskChecker validates opening orders against risk management rules.
type RiskChecker struct {
	config RiskConfig
	broker Broker
}

// NewRiskChecker creates a new RiskChecker with the given configuration and broker.
func NewRiskChecker(config RiskConfig, broker Broker) *RiskChecker {
	return &RiskChecker{
		config: config,
		broker: broker,
	}
}

// Check validates an opening order. A zero limit disables that rule.
func (r *RiskChecker) Check(ctx context.Context, req OrderRequest, price float64) RiskCheckResult {
	balance, err := r.broker.GetBalance(ctx)
	if err != nil {
		return RiskCheckResult{Reason: fmt.Sprintf("failed to get balance: %v", err)}
	}

	positions, err := r.broker.GetPositions(ctx)
	if err != nil {
		return RiskCheckResult{Reason: fmt.Sprintf("failed to get positions: %v", err)}
	}

	total := decimal.NewFromFloat(balance.TotalValue)
	hundred := decimal.NewFromInt(100)

	if total.IsPositive() && r.config.MaxDailyLossPct > 0 {
		// DailyPL is negative when losing money
		lossPct := decimal.NewFromFloat(-balance.DailyPL).Div(total).Mul(hundred)
		if lossPct.GreaterThanOrEqual(decimal.NewFromFloat(r.config.MaxDailyLossPct)) {
			return RiskCheckResult{
				Reason: fmt.Sprintf("daily loss limit reached: %s%% >= %.2f%%", lossPct.StringFixed(2), r.config.MaxDailyLossPct),
			}
		}
	}

	if r.config.MaxOpenPositions > 0 && len(positions) >= r.config.MaxOpenPositions {
		return RiskCheckResult{
			Reason: fmt.Sprintf("max open positions reached: %d >= %d", len(positions), r.config.MaxOpenPositions),
		}
	}

	if total.IsPositive() && r.config.MaxPositionPct > 0 {
		value := decimal.NewFromFloat(req.Quantity).Mul(decimal.NewFromFloat(price))
		pct := value.Div(total).Mul(hundred)
		if pct.GreaterThan(decimal.NewFromFloat(r.config.MaxPositionPct)) {
			return RiskCheckResult{
				Reason: fmt.Sprintf("position size too large: %s%% > %.2f%%", pct.StringFixed(2), r.config.MaxPositionPct),
			}
		}
	}

	return RiskCheckResult{Allowed: true}
}
