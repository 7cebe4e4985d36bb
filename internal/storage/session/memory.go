// internal/storage/session/memory.go
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/arena/internal/core"
)

// MemoryStore is an in-memory Store. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	configs   map[string]core.StrategyConfig
	sessions  map[string]core.Session
	positions map[string]core.Position
	cursors   map[CursorKey]time.Time
	logs      map[string][]core.LogEvent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[string]core.StrategyConfig),
		sessions:  make(map[string]core.Session),
		positions: make(map[string]core.Position),
		cursors:   make(map[CursorKey]time.Time),
		logs:      make(map[string][]core.LogEvent),
	}
}

func (m *MemoryStore) SaveConfig(ctx context.Context, cfg core.StrategyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ID] = cloneConfig(cfg)
	return nil
}

func (m *MemoryStore) GetConfig(ctx context.Context, id string) (*core.StrategyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[id]
	if !ok {
		return nil, core.Errorf(core.ErrStrategyConfigNotFound, "config %s", id)
	}
	out := cloneConfig(cfg)
	return &out, nil
}

func (m *MemoryStore) ListConfigs(ctx context.Context, userID string) ([]core.StrategyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []core.StrategyConfig{}
	for _, cfg := range m.configs {
		if userID == "" || cfg.UserID == userID {
			result = append(result, cloneConfig(cfg))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, s core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.Errorf(core.ErrSessionNotFound, "session %s", id)
	}
	out := cloneSession(s)
	return &out, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, filter SessionFilter) ([]core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []core.Session{}
	for _, s := range m.sessions {
		if filter.matches(s) {
			result = append(result, cloneSession(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryStore) SavePosition(ctx context.Context, p core.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = clonePosition(p)
	return nil
}

func (m *MemoryStore) GetPosition(ctx context.Context, id string) (*core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, core.Errorf(core.ErrPositionNotFound, "position %s", id)
	}
	out := clonePosition(p)
	return &out, nil
}

func (m *MemoryStore) ListPositions(ctx context.Context, filter PositionFilter) ([]core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []core.Position{}
	for _, p := range m.positions {
		if filter.matches(p) {
			result = append(result, clonePosition(p))
		}
	}
	sortPositions(result)
	return result, nil
}

func (m *MemoryStore) GetCursor(ctx context.Context, key CursorKey) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.cursors[key]
	return at, ok, nil
}

func (m *MemoryStore) SaveCursor(ctx context.Context, key CursorKey, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[key] = at
	return nil
}

func (m *MemoryStore) AppendLog(ctx context.Context, ev core.LogEvent) (core.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.logs[ev.SessionID]
	ev.ID = int64(len(events)) + 1
	m.logs[ev.SessionID] = append(events, ev)
	return ev, nil
}

func (m *MemoryStore) ListLogs(ctx context.Context, sessionID string, afterID int64, limit int) ([]core.LogEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.logs[sessionID]
	if afterID < 0 {
		afterID = 0
	}
	// ids are dense from 1, so id k lives at index k-1
	if afterID >= int64(len(events)) {
		return []core.LogEvent{}, nil
	}
	tail := events[afterID:]
	if limit > 0 && limit < len(tail) {
		tail = tail[:limit]
	}
	out := make([]core.LogEvent, len(tail))
	copy(out, tail)
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func sortPositions(ps []core.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].EntryTime.Equal(ps[j].EntryTime) {
			return ps[i].EntryTime.Before(ps[j].EntryTime)
		}
		return ps[i].ID < ps[j].ID
	})
}

func cloneStrategies(in []core.SessionStrategy) []core.SessionStrategy {
	if in == nil {
		return nil
	}
	out := make([]core.SessionStrategy, len(in))
	for i, s := range in {
		s.Symbols = append([]string(nil), s.Symbols...)
		params := make(map[string]float64, len(s.Params))
		for k, v := range s.Params {
			params[k] = v
		}
		s.Params = params
		out[i] = s
	}
	return out
}

func cloneConfig(c core.StrategyConfig) core.StrategyConfig {
	c.Symbols = append([]string(nil), c.Symbols...)
	c.Strategies = cloneStrategies(c.Strategies)
	return c
}

func cloneSession(s core.Session) core.Session {
	s.Symbols = append([]string(nil), s.Symbols...)
	s.Strategies = cloneStrategies(s.Strategies)
	s.StoppedAt = cloneTime(s.StoppedAt)
	s.LastTickAt = cloneTime(s.LastTickAt)
	s.Broker.LastChecked = cloneTime(s.Broker.LastChecked)
	return s
}

func clonePosition(p core.Position) core.Position {
	p.ExitTime = cloneTime(p.ExitTime)
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
