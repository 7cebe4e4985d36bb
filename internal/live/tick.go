package live

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/marketdata"
	"github.com/newthinker/arena/internal/storage/session"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/trade"
)

// job is one (strategy, symbol) evaluation of a tick with its bars
// already fetched.
type job struct {
	ss     core.SessionStrategy
	strat  strategy.Strategy
	symbol string
	bars   []core.OHLCV
	err    error
}

type relayAction struct {
	open     bool
	position core.Position
}

// tick evaluates every enabled strategy of a session on the bars that
// closed since its cursor. Bars are fetched before the session lock is
// taken and broker orders are relayed after it is released.
func (m *Manager) tick(ctx context.Context, id string) (*TickResult, error) {
	started := m.now()
	snapshot, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	jobs := m.collect(ctx, *snapshot)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := m.sessionLock(id)
	lock.Lock()
	res, sess, actions, err := m.apply(ctx, id, jobs, started)
	lock.Unlock()

	m.observeTick(snapshot.Mode, started, err)

	// transitions persisted before an abort still reach the broker
	if sess.BrokerEnabled && (err == nil || len(actions) > 0) {
		m.relay(ctx, sess, actions)
		m.syncBroker(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) collect(ctx context.Context, sess core.Session) []job {
	var jobs []job
	fetched := make(map[string]job)
	for _, ss := range sess.Strategies {
		if !ss.IsEnabled {
			continue
		}
		strat, err := m.engine.Lookup(ss.Name)
		for _, symbol := range strategySymbols(sess, ss) {
			j := job{ss: ss, strat: strat, symbol: symbol, err: err}
			if err == nil {
				if prev, ok := fetched[symbol]; ok {
					j.bars, j.err = prev.bars, prev.err
				} else {
					j.bars, j.err = m.fetch(ctx, sess, symbol)
					fetched[symbol] = j
				}
			}
			jobs = append(jobs, j)
		}
	}
	return jobs
}

func (m *Manager) fetch(ctx context.Context, sess core.Session, symbol string) ([]core.OHLCV, error) {
	if sess.Mode == core.ModeStream {
		return m.bars.Bars(ctx, symbol, sess.Interval)
	}
	return m.bars.Refresh(ctx, symbol, sess.Interval)
}

// apply runs under the session lock.
func (m *Manager) apply(ctx context.Context, id string, jobs []job, started time.Time) (*TickResult, core.Session, []relayAction, error) {
	current, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, core.Session{}, nil, err
	}
	sess := *current
	if !sess.IsActive {
		return nil, sess, nil, core.Errorf(core.ErrSessionNotActive, "session %s stopped during tick", id)
	}

	res := &TickResult{SessionID: id, Poll: sess.TotalPolls + 1, At: started}
	var actions []relayAction

	for _, j := range jobs {
		acts, err := m.evaluate(ctx, sess, j, res)
		actions = append(actions, acts...)
		if err != nil {
			m.emit(ctx, core.LogEvent{
				SessionID:  id,
				Level:      core.LogError,
				Symbol:     j.symbol,
				StrategyID: j.ss.ID,
				Message:    fmt.Sprintf("tick %d aborted: %v", res.Poll, err),
			})
			return nil, sess, actions, err
		}
	}

	tickedAt := m.now()
	sess.TotalPolls++
	sess.LastTickAt = &tickedAt
	if sess.BrokerEnabled && m.exec != nil {
		sess.Broker = m.exec.Tracker().Status()
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		m.emit(ctx, core.LogEvent{
			SessionID: id,
			Level:     core.LogError,
			Message:   fmt.Sprintf("tick %d not recorded: %v", res.Poll, err),
		})
		return nil, sess, actions, err
	}

	ev := m.emit(ctx, core.LogEvent{
		SessionID: id,
		Level:     core.LogScan,
		Message: fmt.Sprintf("poll %d: %d evaluations, %d opened, %d closed, %d skipped, %d errors",
			res.Poll, len(jobs), res.Opened, res.Closed, res.Skipped, res.Errors),
	})
	res.LastLogID = ev.ID
	return res, sess, actions, nil
}

// evaluate replays the bars newer than the (strategy, symbol) cursor through
// the position lifecycle. Only the newest bar is processed the first time a
// pair is seen. Errors returned are persistence failures that abort the tick.
func (m *Manager) evaluate(ctx context.Context, sess core.Session, j job, res *TickResult) ([]relayAction, error) {
	base := core.LogEvent{SessionID: sess.ID, Symbol: j.symbol, StrategyID: j.ss.ID}

	if j.err != nil {
		ev := base
		if core.CodeOf(j.err) == core.ErrStrategyNotFound.Code {
			ev.Level = core.LogError
			res.Errors++
		} else {
			ev.Level = core.LogSkip
			res.Skipped++
		}
		ev.Message = fmt.Sprintf("%s skipped: %v", j.symbol, j.err)
		m.emit(ctx, ev)
		return nil, nil
	}

	bars := closedBars(j.bars, sess.Interval, m.now())
	if len(bars) == 0 {
		ev := base
		ev.Level = core.LogSkip
		ev.Message = fmt.Sprintf("%s skipped: no closed %s bars", j.symbol, sess.Interval)
		m.emit(ctx, ev)
		res.Skipped++
		return nil, nil
	}

	key := session.CursorKey{SessionID: sess.ID, StrategyID: j.ss.ID, Symbol: j.symbol}
	cursor, seen, err := m.store.GetCursor(ctx, key)
	if err != nil {
		return nil, err
	}
	pending := barsAfter(bars, cursor, seen)
	if len(pending) == 0 {
		return nil, nil
	}

	eval, _, err := strategy.Evaluate(j.strat, bars, strategy.Raw(j.ss.Params), j.ss.LongOnly)
	if err != nil {
		ev := base
		ev.Level = core.LogError
		ev.Message = fmt.Sprintf("%s evaluation failed: %v", j.ss.Name, err)
		m.emit(ctx, ev)
		res.Errors++
		return nil, nil
	}

	open, err := m.store.ListPositions(ctx, session.PositionFilter{
		SessionID: sess.ID, StrategyID: j.ss.ID, Symbol: j.symbol, OpenOnly: true,
	})
	if err != nil {
		return nil, err
	}

	tracked := make(map[string]*core.Position)
	slot := &trade.Slot{}
	if n := len(open); n > 0 {
		p := open[n-1]
		tracked[p.ID] = &p
		t := p.Trade
		slot.Open = &t
	}

	cfg := trade.Config{
		Symbol:      j.symbol,
		Strategy:    j.strat.Name(),
		TradeAmount: sess.TradeAmount,
		LongOnly:    j.ss.LongOnly,
		NewID:       m.newID,
	}
	byTime := trade.GroupByTime(eval.Signals)

	var actions []relayAction
	for _, bar := range pending {
		for _, tr := range trade.Apply(slot, bar, byTime[bar.Time.UnixNano()], cfg) {
			p, ok := tracked[tr.Trade.ID]
			if !ok {
				p = &core.Position{SessionID: sess.ID, StrategyID: j.ss.ID}
				tracked[tr.Trade.ID] = p
			}
			p.Trade = tr.Trade
			p.UpdatedAt = m.now()
			if err := m.store.SavePosition(ctx, *p); err != nil {
				return actions, err
			}

			level := m.record(ctx, base, tr, j.ss.Name)
			m.observeTransition(level)
			switch tr.Kind {
			case trade.Opened:
				res.Opened++
				actions = append(actions, relayAction{open: true, position: *p})
			case trade.Closed:
				res.Closed++
				actions = append(actions, relayAction{open: false, position: *p})
			}
		}
		if err := m.store.SaveCursor(ctx, key, bar.Time); err != nil {
			return actions, err
		}
	}

	if slot.Open != nil {
		p := tracked[slot.Open.ID]
		p.Trade = *slot.Open
		p.UpdatedAt = m.now()
		if err := m.store.SavePosition(ctx, *p); err != nil {
			return actions, err
		}
	}
	return actions, nil
}

// record writes the log event for one lifecycle transition.
func (m *Manager) record(ctx context.Context, base core.LogEvent, tr trade.Transition, strategyName string) core.LogLevel {
	t := tr.Trade
	ev := base
	ev.PositionID = t.ID

	switch tr.Kind {
	case trade.Opened:
		ev.Level = core.LogOpen
		ev.Price = t.EntryPrice
		ev.Message = fmt.Sprintf("OPEN %s %s @ %.4f SL %.4f TP %.4f [%s]: %s",
			t.Direction, t.Symbol, t.EntryPrice, t.StopLoss, t.TakeProfit, strategyName, tr.Reason)
	case trade.Closed:
		ev.Level = core.CloseLevel(t.CloseReason)
		ev.Price = t.ExitPrice
		ev.Message = fmt.Sprintf("%s %s %s @ %.4f (%+.2f%%): %s",
			t.CloseReason, t.Direction, t.Symbol, t.ExitPrice, t.ReturnPct, tr.Reason)
	default:
		ev.Level = core.LogInfo
		ev.Price = t.StopLoss
		ev.Message = fmt.Sprintf("%s %s: %s", t.Direction, t.Symbol, tr.Reason)
	}
	m.emit(ctx, ev)
	return ev.Level
}

// relay forwards position transitions to the broker. Failures leave the
// internal position as it is and mark the broker inactive.
func (m *Manager) relay(ctx context.Context, sess core.Session, actions []relayAction) {
	if m.exec == nil || len(actions) == 0 {
		return
	}
	for _, a := range actions {
		op := "close"
		var order string
		var err error
		if a.open {
			op = "open"
			o, e := m.exec.Open(ctx, a.position)
			if o != nil {
				order = o.OrderID
			}
			err = e
		} else {
			_, err = m.exec.Close(ctx, a.position)
		}

		if err != nil {
			m.emit(ctx, core.LogEvent{
				SessionID:  sess.ID,
				Level:      core.LogError,
				Symbol:     a.position.Symbol,
				StrategyID: a.position.StrategyID,
				PositionID: a.position.ID,
				Message:    fmt.Sprintf("broker %s %s failed: %v", op, a.position.Symbol, err),
			})
			m.logger.Warn("broker relay failed",
				zap.String("session_id", sess.ID),
				zap.String("position_id", a.position.ID),
				zap.String("op", op),
				zap.Error(err),
			)
			continue
		}
		if order != "" {
			m.attachOrder(ctx, sess.ID, a.position.ID, order)
		}
	}
	m.updateBrokerStatus(ctx, sess.ID)
}

func (m *Manager) attachOrder(ctx context.Context, sessionID, positionID, orderID string) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	p, err := m.store.GetPosition(ctx, positionID)
	if err != nil {
		return
	}
	p.BrokerOrderID = orderID
	if err := m.store.SavePosition(ctx, *p); err != nil {
		m.logger.Error("failed to attach broker order",
			zap.String("position_id", positionID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

// syncBroker refreshes the broker snapshot as a connectivity check.
func (m *Manager) syncBroker(ctx context.Context, sessionID string) {
	if m.exec == nil {
		return
	}
	_ = m.exec.Tracker().Sync(ctx)
	m.updateBrokerStatus(ctx, sessionID)
}

// updateBrokerStatus stores the tracker status on the session and logs
// reachability changes.
func (m *Manager) updateBrokerStatus(ctx context.Context, sessionID string) {
	status := m.exec.Tracker().Status()
	if m.recorder != nil {
		m.recorder.SetBrokerActive(status.Active)
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	prev := sess.Broker
	sess.Broker = status
	if err := m.store.SaveSession(ctx, *sess); err != nil {
		m.logger.Error("failed to store broker status", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	switch {
	case !status.Active && status.LastError != "" && (prev.Active || prev.LastError == ""):
		m.emit(ctx, core.LogEvent{
			SessionID: sessionID,
			Level:     core.LogError,
			Message:   "broker connection lost: " + status.LastError,
		})
	case status.Active && !prev.Active && prev.LastError != "":
		m.emit(ctx, core.LogEvent{
			SessionID: sessionID,
			Level:     core.LogInfo,
			Message:   "broker connection restored",
		})
	}
}

func (m *Manager) observeTick(mode core.SessionMode, started time.Time, err error) {
	if m.recorder != nil {
		m.recorder.ObserveTick(string(mode), m.now().Sub(started), err)
	}
}

// closedBars drops a trailing bar that is still forming at now.
func closedBars(bars []core.OHLCV, interval string, now time.Time) []core.OHLCV {
	d := marketdata.IntervalDuration(interval)
	n := len(bars)
	for n > 0 && bars[n-1].Time.Add(d).After(now) {
		n--
	}
	return bars[:n]
}

// barsAfter returns the bars newer than cursor, or only the newest bar
// when no cursor exists yet.
func barsAfter(bars []core.OHLCV, cursor time.Time, seen bool) []core.OHLCV {
	if !seen {
		return bars[len(bars)-1:]
	}
	i := len(bars)
	for i > 0 && bars[i-1].Time.After(cursor) {
		i--
	}
	return bars[i:]
}
