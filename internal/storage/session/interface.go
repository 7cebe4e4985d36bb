// internal/storage/session/interface.go
package session

import (
	"context"
	"time"

	"github.com/newthinker/arena/internal/core"
)

// Store persists live-trading state so sessions survive restarts.
type Store interface {
	// SaveConfig creates or replaces a strategy configuration.
	SaveConfig(ctx context.Context, cfg core.StrategyConfig) error
	// GetConfig returns CONFIG_NOT_FOUND for unknown ids.
	GetConfig(ctx context.Context, id string) (*core.StrategyConfig, error)
	// ListConfigs returns a user's configurations, oldest first.
	ListConfigs(ctx context.Context, userID string) ([]core.StrategyConfig, error)

	// SaveSession creates or replaces a session.
	SaveSession(ctx context.Context, s core.Session) error
	// GetSession returns SESSION_NOT_FOUND for unknown ids.
	GetSession(ctx context.Context, id string) (*core.Session, error)
	// ListSessions returns matching sessions, newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]core.Session, error)

	// SavePosition creates or replaces a position.
	SavePosition(ctx context.Context, p core.Position) error
	// GetPosition returns POSITION_NOT_FOUND for unknown ids.
	GetPosition(ctx context.Context, id string) (*core.Position, error)
	// ListPositions returns matching positions ordered by entry time.
	ListPositions(ctx context.Context, filter PositionFilter) ([]core.Position, error)

	// GetCursor returns the last processed bar time for a strategy and symbol.
	GetCursor(ctx context.Context, key CursorKey) (time.Time, bool, error)
	// SaveCursor records the last processed bar time.
	SaveCursor(ctx context.Context, key CursorKey, at time.Time) error

	// AppendLog assigns the next per-session id and stores ev.
	AppendLog(ctx context.Context, ev core.LogEvent) (core.LogEvent, error)
	// ListLogs returns events with id > afterID in ascending id order.
	// A non-positive limit returns all of them.
	ListLogs(ctx context.Context, sessionID string, afterID int64, limit int) ([]core.LogEvent, error)

	Close() error
}

// SessionFilter defines criteria for listing sessions.
type SessionFilter struct {
	UserID     string
	ConfigID   string
	ActiveOnly bool
}

// PositionFilter defines criteria for listing positions.
type PositionFilter struct {
	SessionID  string
	StrategyID string
	Symbol     string
	OpenOnly   bool
}

// CursorKey identifies a (strategy, symbol) evaluation stream in a session.
type CursorKey struct {
	SessionID  string
	StrategyID string
	Symbol     string
}

func (f SessionFilter) matches(s core.Session) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.ConfigID != "" && s.StrategyConfigID != f.ConfigID {
		return false
	}
	if f.ActiveOnly && !s.IsActive {
		return false
	}
	return true
}

func (f PositionFilter) matches(p core.Position) bool {
	if f.SessionID != "" && p.SessionID != f.SessionID {
		return false
	}
	if f.StrategyID != "" && p.StrategyID != f.StrategyID {
		return false
	}
	if f.Symbol != "" && p.Symbol != f.Symbol {
		return false
	}
	if f.OpenOnly && !p.IsOpen {
		return false
	}
	return true
}
