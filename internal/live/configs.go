package live

import (
	"context"
	"strings"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/marketdata"
	"github.com/newthinker/arena/internal/storage/session"
	"github.com/newthinker/arena/internal/strategy"
)

// CreateConfig validates and stores a new strategy configuration.
// Strategy params are stored resolved, so defaults are explicit.
func (m *Manager) CreateConfig(ctx context.Context, cfg core.StrategyConfig) (*core.StrategyConfig, error) {
	if err := m.normalize(&cfg, nil); err != nil {
		return nil, err
	}
	now := m.now()
	cfg.ID = m.newID()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if err := m.store.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateConfig replaces a configuration. It is rejected while a session
// runs it; stopped sessions of a changed configuration lose can_resume.
func (m *Manager) UpdateConfig(ctx context.Context, cfg core.StrategyConfig) (*core.StrategyConfig, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	existing, err := m.ownedConfig(ctx, cfg.UserID, cfg.ID)
	if err != nil {
		return nil, err
	}
	active, err := m.store.ListSessions(ctx, session.SessionFilter{ConfigID: existing.ID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, core.Errorf(core.ErrConcurrentMutation, "configuration %s is running in session %s", existing.ID, active[0].ID)
	}

	if err := m.normalize(&cfg, existing.Strategies); err != nil {
		return nil, err
	}
	cfg.UserID = existing.UserID
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = m.now()
	if err := m.store.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}

	if cfg.Hash() != existing.Hash() {
		m.invalidateResume(ctx, cfg.ID)
	}
	return &cfg, nil
}

// GetConfig returns a configuration owned by userID.
func (m *Manager) GetConfig(ctx context.Context, userID, id string) (*core.StrategyConfig, error) {
	return m.ownedConfig(ctx, userID, id)
}

// ListConfigs returns a user's configurations.
func (m *Manager) ListConfigs(ctx context.Context, userID string) ([]core.StrategyConfig, error) {
	return m.store.ListConfigs(ctx, userID)
}

func (m *Manager) ownedConfig(ctx context.Context, userID, id string) (*core.StrategyConfig, error) {
	cfg, err := m.store.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && cfg.UserID != userID {
		return nil, core.Errorf(core.ErrStrategyConfigNotFound, "configuration %s", id)
	}
	return cfg, nil
}

func (m *Manager) invalidateResume(ctx context.Context, configID string) {
	stopped, err := m.store.ListSessions(ctx, session.SessionFilter{ConfigID: configID})
	if err != nil {
		return
	}
	for _, s := range stopped {
		if s.IsActive || !s.CanResume {
			continue
		}
		s.CanResume = false
		if err := m.store.SaveSession(ctx, s); err != nil {
			continue
		}
		m.emit(ctx, core.LogEvent{
			SessionID: s.ID,
			Level:     core.LogInfo,
			Message:   "strategy configuration changed; session can no longer be resumed",
		})
	}
}

// normalize validates cfg in place. Strategies without an id inherit the
// id of a previous strategy with the same name.
func (m *Manager) normalize(cfg *core.StrategyConfig, previous []core.SessionStrategy) error {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return core.Errorf(core.ErrInvalidRequest, "name is required")
	}
	if !marketdata.ValidInterval(cfg.Interval) {
		return core.Errorf(core.ErrInvalidRequest, "unsupported interval %q", cfg.Interval)
	}
	if len(cfg.Strategies) == 0 {
		return core.Errorf(core.ErrInvalidRequest, "at least one strategy is required")
	}
	cfg.Symbols = cleanSymbols(cfg.Symbols)

	taken := make(map[string]bool)
	for _, s := range cfg.Strategies {
		if s.ID != "" {
			taken[s.ID] = true
		}
	}

	for i := range cfg.Strategies {
		ss := &cfg.Strategies[i]
		ss.Symbols = cleanSymbols(ss.Symbols)
		if len(ss.Symbols) == 0 && len(cfg.Symbols) == 0 {
			return core.Errorf(core.ErrInvalidRequest, "strategy %s has no symbols", ss.Name)
		}
		params, err := m.resolve(*ss)
		if err != nil {
			return err
		}
		ss.Params = map[string]float64(params)

		if ss.ID == "" {
			for _, p := range previous {
				if p.Name == ss.Name && !taken[p.ID] {
					ss.ID = p.ID
					break
				}
			}
		}
		if ss.ID == "" {
			ss.ID = m.newID()
		}
		taken[ss.ID] = true
	}
	return nil
}

func (m *Manager) resolve(ss core.SessionStrategy) (strategy.Params, error) {
	strat, err := m.engine.Lookup(ss.Name)
	if err != nil {
		return nil, err
	}
	return strategy.Resolve(strat, strategy.Raw(ss.Params))
}

// validateStrategies re-checks stored strategies before a session starts.
func (m *Manager) validateStrategies(list []core.SessionStrategy) error {
	for _, ss := range list {
		if _, err := m.resolve(ss); err != nil {
			return err
		}
	}
	return nil
}

func cleanSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
