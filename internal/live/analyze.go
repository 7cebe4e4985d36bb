package live

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/broker"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/storage/session"
	"github.com/newthinker/arena/internal/strategy"
)

// Analyze re-runs the session's strategy over the symbol's history and
// compares the result with the positions the session actually took.
func (m *Manager) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	sess, err := m.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	ss, err := pickStrategy(*sess, req.StrategyID, symbol)
	if err != nil {
		return nil, err
	}
	strat, err := m.engine.Lookup(ss.Name)
	if err != nil {
		return nil, err
	}

	bars, err := m.bars.Bars(ctx, symbol, sess.Interval)
	if err != nil {
		return nil, err
	}
	bars = closedBars(bars, sess.Interval, m.now())

	result, err := backtest.Run(symbol, bars, strat, strategy.Raw(ss.Params), backtest.Options{
		Interval:    sess.Interval,
		TradeAmount: sess.TradeAmount,
		LongOnly:    ss.LongOnly,
	})
	if err != nil {
		return nil, err
	}

	// lock only for the read of positions
	lock := m.sessionLock(sess.ID)
	lock.Lock()
	positions, err := m.store.ListPositions(ctx, session.PositionFilter{
		SessionID: sess.ID, StrategyID: ss.ID, Symbol: symbol,
	})
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	out := &Analysis{
		SessionID:  sess.ID,
		Symbol:     symbol,
		StrategyID: ss.ID,
		Strategy:   ss.Name,
		Interval:   sess.Interval,
		Markers:    result.Markers,
		Overlays:   result.Overlays,
		Indicators: result.Indicators,
		Metrics:    result.Metrics,
		Trades:     result.Trades,
		ChartData:  result.ChartData,
		Comparison: Compare(positions, result.Trades, sess.StartedAt),
	}

	if sess.BrokerEnabled && m.exec != nil {
		report, err := m.Reconcile(ctx, sess.ID)
		if err == nil {
			out.Reconciliation = report
		}
		status := m.exec.Tracker().Status()
		out.Broker = &status
	}
	return out, nil
}

// Reconcile compares the session's open positions with the broker.
// An unreachable broker yields BROKER_UNREACHABLE and an inactive status
// on the session; it is never reported as an empty account.
func (m *Manager) Reconcile(ctx context.Context, sessionID string) (*broker.Report, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if m.exec == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "no broker configured")
	}

	tracker := m.exec.Tracker()
	syncErr := tracker.Sync(ctx)
	m.updateBrokerStatus(ctx, sess.ID)
	if syncErr != nil {
		return nil, syncErr
	}

	lock := m.sessionLock(sess.ID)
	lock.Lock()
	open, err := m.store.ListPositions(ctx, session.PositionFilter{SessionID: sess.ID, OpenOnly: true})
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	snap := tracker.Snapshot()
	report := broker.Reconcile(open, snap.Balance, snap.Positions, snap.Orders, m.cfg.TolerancePct)
	return &report, nil
}

// Compare matches live positions to backtest trades by entry bar and
// direction. Backtest trades entered before since are ignored.
func Compare(live []core.Position, trades []core.Trade, since time.Time) Comparison {
	c := Comparison{
		Since:        since,
		Matched:      []Match{},
		LiveOnly:     []core.Position{},
		BacktestOnly: []core.Trade{},
	}

	used := make([]bool, len(trades))
	for _, p := range live {
		found := -1
		for i, t := range trades {
			if !used[i] && t.Direction == p.Direction && t.EntryTime.Equal(p.EntryTime) {
				found = i
				break
			}
		}
		if found < 0 {
			c.LiveOnly = append(c.LiveOnly, p)
			continue
		}
		used[found] = true
		t := trades[found]

		var diff float64
		if t.EntryPrice != 0 {
			diff = math.Abs(p.EntryPrice-t.EntryPrice) / t.EntryPrice * 100
		}
		if diff > c.MaxEntryDiffPct {
			c.MaxEntryDiffPct = diff
		}
		c.Matched = append(c.Matched, Match{
			Live:          p,
			Backtest:      t,
			EntryDiffPct:  diff,
			SameExit:      !p.IsOpen && p.CloseReason == t.CloseReason && sameTime(p.ExitTime, t.ExitTime),
			ReturnDiffPct: p.ReturnPct - t.ReturnPct,
		})
	}

	for i, t := range trades {
		if used[i] || t.EntryTime.Before(since) {
			continue
		}
		c.BacktestOnly = append(c.BacktestOnly, t)
	}
	return c
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func pickStrategy(sess core.Session, strategyID, symbol string) (core.SessionStrategy, error) {
	if strategyID != "" {
		ss, ok := sess.Strategy(strategyID)
		if !ok {
			return core.SessionStrategy{}, core.Errorf(core.ErrStrategyNotFound, "strategy %s not in session %s", strategyID, sess.ID)
		}
		return *ss, nil
	}
	var fallback *core.SessionStrategy
	for i := range sess.Strategies {
		ss := &sess.Strategies[i]
		if !covers(sess, *ss, symbol) {
			continue
		}
		if ss.IsEnabled {
			return *ss, nil
		}
		if fallback == nil {
			fallback = ss
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return core.SessionStrategy{}, core.Errorf(core.ErrInvalidRequest, "symbol %s is not traded by session %s", symbol, sess.ID)
}

func covers(sess core.Session, ss core.SessionStrategy, symbol string) bool {
	for _, s := range strategySymbols(sess, ss) {
		if s == symbol {
			return true
		}
	}
	return false
}
