package live

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/broker"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/storage/session"
	"github.com/newthinker/arena/internal/strategy"
)

// Deps are the collaborators of a Manager. Feed and Executor are optional.
type Deps struct {
	Store    session.Store
	Bars     BarSource
	Engine   *strategy.Engine
	Feed     Feed
	Executor *broker.Executor
	Recorder Recorder
	Logger   *zap.Logger
}

// Manager owns the registry of running sessions.
type Manager struct {
	store    session.Store
	bars     BarSource
	engine   *strategy.Engine
	feed     Feed
	exec     *broker.Executor
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	// lifecycle serializes start, resume and stop so that the
	// one-active-session-per-config rule holds
	lifecycle sync.Mutex

	mu      sync.Mutex
	runners map[string]*runner
	locks   map[string]*sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a session manager.
func NewManager(deps Deps, cfg Config) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = core.ModePoll
	}
	if cfg.TradeAmount <= 0 {
		cfg.TradeAmount = backtest.DefaultTradeAmount
	}
	if cfg.TolerancePct <= 0 {
		cfg.TolerancePct = 1.0
	}
	if cfg.LogPageSize <= 0 {
		cfg.LogPageSize = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    deps.Store,
		bars:     deps.Bars,
		engine:   deps.Engine,
		feed:     deps.Feed,
		exec:     deps.Executor,
		recorder: deps.Recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		runners:  make(map[string]*runner),
		locks:    make(map[string]*sync.Mutex),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// sessionLock returns the mutex serializing position changes of a session.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Start creates and launches a session from a strategy configuration.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*core.Session, error) {
	cfg, err := m.ownedConfig(ctx, req.UserID, req.ConfigID)
	if err != nil {
		return nil, err
	}
	if err := m.validateStrategies(cfg.Strategies); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = m.cfg.DefaultMode
	}
	if mode != core.ModePoll && mode != core.ModeStream {
		return nil, core.Errorf(core.ErrInvalidRequest, "unknown mode %q", mode)
	}
	amount := req.TradeAmount
	if amount <= 0 {
		amount = m.cfg.TradeAmount
	}
	if req.BrokerEnabled && m.exec == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "broker relay requested but no broker is configured")
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.ensureNoActive(ctx, cfg.UserID, cfg.ID); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = cfg.Name
	}
	sess := core.Session{
		ID:               m.newID(),
		UserID:           cfg.UserID,
		Name:             name,
		StrategyConfigID: cfg.ID,
		ConfigHash:       cfg.Hash(),
		Symbols:          append([]string(nil), cfg.Symbols...),
		Interval:         cfg.Interval,
		Mode:             mode,
		TradeAmount:      amount,
		BrokerEnabled:    req.BrokerEnabled,
		IsActive:         true,
		StartedAt:        m.now(),
		Strategies:       copyStrategies(cfg.Strategies),
	}
	if sess.BrokerEnabled {
		sess.Broker = m.exec.Tracker().Status()
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	m.emit(ctx, core.LogEvent{
		SessionID: sess.ID,
		Level:     core.LogInfo,
		Message: fmt.Sprintf("session started: %d strategies, %d symbols, %s bars, %s mode",
			len(sess.Strategies), len(sess.Symbols), sess.Interval, sess.Mode),
	})
	m.logger.Info("live session started",
		zap.String("session_id", sess.ID),
		zap.String("config_id", cfg.ID),
		zap.String("mode", string(mode)),
	)

	m.launch(sess)
	return &sess, nil
}

// Stop halts a running session. Open positions are left untouched.
func (m *Manager) Stop(ctx context.Context, id string) (*core.Session, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, core.Errorf(core.ErrSessionNotActive, "session %s is already stopped", id)
	}

	m.halt(id)

	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	// re-read: the last tick may have updated counters
	if latest, err := m.store.GetSession(ctx, id); err == nil {
		sess = latest
	}
	stopped := m.now()
	sess.IsActive = false
	sess.StoppedAt = &stopped
	sess.CanResume = m.resumable(ctx, *sess)
	if err := m.store.SaveSession(ctx, *sess); err != nil {
		return nil, err
	}

	open, _ := m.store.ListPositions(ctx, session.PositionFilter{SessionID: id, OpenOnly: true})
	m.emit(ctx, core.LogEvent{
		SessionID: id,
		Level:     core.LogInfo,
		Message:   fmt.Sprintf("session stopped after %d polls; %d open positions kept", sess.TotalPolls, len(open)),
	})
	m.logger.Info("live session stopped", zap.String("session_id", id))
	return sess, nil
}

// Resume re-activates a stopped session whose configuration is unchanged.
// Open positions are re-attached as they were left.
func (m *Manager) Resume(ctx context.Context, id string) (*core.Session, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsActive {
		return nil, core.Errorf(core.ErrConcurrentMutation, "session %s is running", id)
	}

	if !m.resumable(ctx, *sess) {
		if sess.CanResume {
			sess.CanResume = false
			_ = m.store.SaveSession(ctx, *sess)
		}
		return nil, core.Errorf(core.ErrResumeNotAllowed, "strategy configuration %s changed since session %s stopped", sess.StrategyConfigID, id)
	}
	if err := m.ensureNoActive(ctx, sess.UserID, sess.StrategyConfigID); err != nil {
		return nil, err
	}

	sess.IsActive = true
	sess.StoppedAt = nil
	sess.CanResume = false
	if err := m.store.SaveSession(ctx, *sess); err != nil {
		return nil, err
	}

	open, _ := m.store.ListPositions(ctx, session.PositionFilter{SessionID: id, OpenOnly: true})
	m.emit(ctx, core.LogEvent{
		SessionID: id,
		Level:     core.LogInfo,
		Message:   fmt.Sprintf("session resumed; %d open positions re-attached", len(open)),
	})
	m.logger.Info("live session resumed", zap.String("session_id", id), zap.Int("open_positions", len(open)))

	m.launch(*sess)
	return sess, nil
}

// SetStrategyEnabled toggles one strategy of a stopped session.
func (m *Manager) SetStrategyEnabled(ctx context.Context, sessionID, strategyID string, enabled bool) (*core.Session, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsActive {
		return nil, core.Errorf(core.ErrConcurrentMutation, "stop session %s before toggling strategy %s", sessionID, strategyID)
	}
	ss, ok := sess.Strategy(strategyID)
	if !ok {
		return nil, core.Errorf(core.ErrStrategyNotFound, "strategy %s not in session %s", strategyID, sessionID)
	}
	if ss.IsEnabled == enabled {
		return sess, nil
	}
	ss.IsEnabled = enabled
	if err := m.store.SaveSession(ctx, *sess); err != nil {
		return nil, err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	m.emit(ctx, core.LogEvent{
		SessionID:  sessionID,
		Level:      core.LogInfo,
		StrategyID: strategyID,
		Message:    fmt.Sprintf("strategy %s %s", ss.Name, state),
	})
	return sess, nil
}

// ClosePosition closes an open position at the last known price with
// reason MANUAL. It works on running and stopped sessions.
func (m *Manager) ClosePosition(ctx context.Context, sessionID, positionID string) (*core.Position, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	pos, err := m.store.GetPosition(ctx, positionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if pos.SessionID != sessionID || !pos.IsOpen {
		lock.Unlock()
		return nil, core.Errorf(core.ErrPositionNotFound, "no open position %s in session %s", positionID, sessionID)
	}

	price := pos.CurrentPrice
	if p, ok := m.bars.LastPrice(pos.Symbol, sess.Interval); ok {
		price = p
	}
	now := m.now()
	pos.Close(now, price, core.CloseManual)
	pos.UpdatedAt = now
	if err := m.store.SavePosition(ctx, *pos); err != nil {
		lock.Unlock()
		return nil, err
	}
	m.emit(ctx, core.LogEvent{
		SessionID:  sessionID,
		Level:      core.LogClose,
		Symbol:     pos.Symbol,
		StrategyID: pos.StrategyID,
		PositionID: pos.ID,
		Price:      price,
		Message:    fmt.Sprintf("manual close %s %s @ %.4f (%+.2f%%)", pos.Direction, pos.Symbol, price, pos.ReturnPct),
	})
	m.observeTransition(core.LogClose)
	lock.Unlock()

	if sess.BrokerEnabled {
		m.relay(ctx, *sess, []relayAction{{open: false, position: *pos}})
	}
	return pos, nil
}

// Tick runs one evaluation pass of an active session immediately.
func (m *Manager) Tick(ctx context.Context, id string) (*TickResult, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, core.Errorf(core.ErrSessionNotActive, "session %s is stopped", id)
	}
	return m.tick(ctx, id)
}

// Status lists a user's active sessions with the last price of each symbol.
func (m *Manager) Status(ctx context.Context, userID string) (*Status, error) {
	active, err := m.store.ListSessions(ctx, session.SessionFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	st := &Status{
		IsRunning:      len(active) > 0,
		ActiveSessions: active,
		SymbolPrices:   make(map[string]float64),
	}
	for _, s := range active {
		m.collectPrices(s, st.SymbolPrices)
	}
	return st, nil
}

// Sessions lists a user's sessions, newest first.
func (m *Manager) Sessions(ctx context.Context, userID string) ([]core.Session, error) {
	list, err := m.store.ListSessions(ctx, session.SessionFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	for i := range list {
		if !list[i].IsActive {
			list[i].CanResume = m.resumable(ctx, list[i])
		}
	}
	return list, nil
}

// Session returns a session with its positions marked at last prices.
func (m *Manager) Session(ctx context.Context, id string) (*SessionView, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		sess.CanResume = m.resumable(ctx, *sess)
	}
	positions, err := m.store.ListPositions(ctx, session.PositionFilter{SessionID: id})
	if err != nil {
		return nil, err
	}

	view := &SessionView{
		Session:      *sess,
		Status:       sess.Status(),
		Positions:    positions,
		SymbolPrices: make(map[string]float64),
		Strategies:   sess.Strategies,
	}
	m.collectPrices(*sess, view.SymbolPrices)
	for i := range view.Positions {
		p := &view.Positions[i]
		if price, ok := view.SymbolPrices[p.Symbol]; ok && p.IsOpen {
			p.Mark(price)
		}
	}
	view.Metrics = PositionMetrics(view.Positions, m.cfg.Metrics)
	return view, nil
}

// PositionMetrics computes performance over a session's positions. Open
// positions carry their floating return from the last mark.
func PositionMetrics(positions []core.Position, opts backtest.MetricsOptions) backtest.Metrics {
	trades := make([]core.Trade, len(positions))
	for i, p := range positions {
		trades[i] = p.Trade
	}
	return backtest.CalculateMetrics(trades, opts)
}

// Logs returns session events with id > afterID in ascending order.
func (m *Manager) Logs(ctx context.Context, id string, afterID int64, limit int) ([]core.LogEvent, error) {
	if _, err := m.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > m.cfg.LogPageSize {
		limit = m.cfg.LogPageSize
	}
	if afterID < 0 {
		afterID = 0
	}
	return m.store.ListLogs(ctx, id, afterID, limit)
}

// Restore re-attaches runners to sessions left active by a previous
// process. It returns the number of sessions restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	active, err := m.store.ListSessions(ctx, session.SessionFilter{ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range active {
		if m.running(s.ID) {
			continue
		}
		open, _ := m.store.ListPositions(ctx, session.PositionFilter{SessionID: s.ID, OpenOnly: true})
		m.emit(ctx, core.LogEvent{
			SessionID: s.ID,
			Level:     core.LogInfo,
			Message:   fmt.Sprintf("session restored after restart; %d open positions re-attached", len(open)),
		})
		m.launch(s)
		n++
	}
	if n > 0 {
		m.logger.Info("live sessions restored", zap.Int("count", n))
	}
	return n, nil
}

// Shutdown stops all runners without deactivating their sessions, so a
// later Restore picks them up again.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// running reports whether a runner is attached to the session.
func (m *Manager) running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runners[id]
	return ok
}

func (m *Manager) launch(sess core.Session) {
	if m.cfg.DisableScheduler {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[sess.ID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	r := &runner{cancel: cancel, done: make(chan struct{})}
	m.runners[sess.ID] = r

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(r.done)
		defer m.detach(sess.ID, r)
		m.run(ctx, sess)
	}()
}

func (m *Manager) detach(id string, r *runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runners[id] == r {
		delete(m.runners, id)
	}
}

// halt cancels a session's runner and waits for its in-flight tick.
func (m *Manager) halt(id string) {
	m.mu.Lock()
	r, ok := m.runners[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

func (m *Manager) ensureNoActive(ctx context.Context, userID, configID string) error {
	active, err := m.store.ListSessions(ctx, session.SessionFilter{UserID: userID, ConfigID: configID, ActiveOnly: true})
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return core.Errorf(core.ErrSessionAlreadyActive, "session %s is already running configuration %s", active[0].ID, configID)
	}
	return nil
}

// resumable reports whether the session's configuration is unchanged.
func (m *Manager) resumable(ctx context.Context, s core.Session) bool {
	cfg, err := m.store.GetConfig(ctx, s.StrategyConfigID)
	if err != nil {
		return false
	}
	return cfg.Hash() == s.ConfigHash
}

func (m *Manager) collectPrices(s core.Session, into map[string]float64) {
	for _, symbol := range sessionSymbols(s) {
		if p, ok := m.bars.LastPrice(symbol, s.Interval); ok {
			into[symbol] = p
		}
	}
}

// emit appends to the session log. Failures go to the operator log only.
func (m *Manager) emit(ctx context.Context, ev core.LogEvent) core.LogEvent {
	ev.Time = m.now()
	out, err := m.store.AppendLog(ctx, ev)
	if err != nil {
		m.logger.Error("failed to append session log",
			zap.String("session_id", ev.SessionID),
			zap.String("level", string(ev.Level)),
			zap.Error(err),
		)
		return ev
	}
	return out
}

func (m *Manager) observeTransition(level core.LogLevel) {
	if m.recorder != nil {
		m.recorder.ObserveTransition(string(level))
	}
}

func copyStrategies(in []core.SessionStrategy) []core.SessionStrategy {
	out := make([]core.SessionStrategy, len(in))
	for i, s := range in {
		out[i] = s
		out[i].Symbols = append([]string(nil), s.Symbols...)
		out[i].Params = make(map[string]float64, len(s.Params))
		for k, v := range s.Params {
			out[i].Params[k] = v
		}
	}
	return out
}

// strategySymbols is the universe one strategy evaluates.
func strategySymbols(s core.Session, ss core.SessionStrategy) []string {
	if len(ss.Symbols) > 0 {
		return ss.Symbols
	}
	return s.Symbols
}

// sessionSymbols is the union of all strategy universes, sorted.
func sessionSymbols(s core.Session) []string {
	set := make(map[string]struct{})
	for _, sym := range s.Symbols {
		set[sym] = struct{}{}
	}
	for _, ss := range s.Strategies {
		for _, sym := range ss.Symbols {
			set[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
