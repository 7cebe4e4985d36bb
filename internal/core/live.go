package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SessionMode selects how a live session is ticked.
type SessionMode string

const (
	ModePoll   SessionMode = "poll"
	ModeStream SessionMode = "websocket"
)

// SessionStrategy is one evaluator bound into a configuration or session.
type SessionStrategy struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Params    map[string]float64 `json:"params"`
	Symbols   []string           `json:"symbols,omitempty"`
	LongOnly  bool               `json:"long_only"`
	IsEnabled bool               `json:"is_enabled"`
}

// StrategyConfig is the user-editable template a session is started from.
type StrategyConfig struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Name       string            `json:"name"`
	Symbols    []string          `json:"symbols"`
	Interval   string            `json:"interval"`
	Strategies []SessionStrategy `json:"strategies"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type hashedStrategy struct {
	Name     string             `json:"name"`
	Params   map[string]float64 `json:"params"`
	Symbols  []string           `json:"symbols"`
	LongOnly bool               `json:"long_only"`
}

// Hash fingerprints everything that changes evaluation output.
// Enabled flags are excluded: toggling them is a session-level edit.
func (c StrategyConfig) Hash() string {
	payload := struct {
		Symbols    []string         `json:"symbols"`
		Interval   string           `json:"interval"`
		Strategies []hashedStrategy `json:"strategies"`
	}{Symbols: nonEmpty(c.Symbols), Interval: c.Interval}
	for _, s := range c.Strategies {
		h := hashedStrategy{
			Name:     s.Name,
			Symbols:  nonEmpty(s.Symbols),
			LongOnly: s.LongOnly,
		}
		if len(s.Params) > 0 {
			h.Params = s.Params
		}
		payload.Strategies = append(payload.Strategies, h)
	}
	// json.Marshal sorts map keys, so the encoding is canonical.
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// nonEmpty maps an empty list to nil so both encode the same.
func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

// BrokerStatus is the last known broker reachability of a session.
type BrokerStatus struct {
	Active      bool       `json:"alpaca_active"`
	LastError   string     `json:"last_error,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// Session is a persisted, resumable live-trading run.
type Session struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Name             string            `json:"name"`
	StrategyConfigID string            `json:"strategy_config_id"`
	ConfigHash       string            `json:"-"`
	Symbols          []string          `json:"symbols"`
	Interval         string            `json:"interval"`
	Mode             SessionMode       `json:"mode"`
	TradeAmount      float64           `json:"trade_amount"`
	BrokerEnabled    bool              `json:"broker_enabled"`
	IsActive         bool              `json:"is_active"`
	StartedAt        time.Time         `json:"started_at"`
	StoppedAt        *time.Time        `json:"stopped_at,omitempty"`
	LastTickAt       *time.Time        `json:"last_tick_at,omitempty"`
	TotalPolls       int               `json:"total_polls"`
	CanResume        bool              `json:"can_resume"`
	Strategies       []SessionStrategy `json:"strategies"`
	Broker           BrokerStatus      `json:"broker"`
}

// Status renders the state machine position.
func (s Session) Status() string {
	if s.IsActive {
		return "RUNNING"
	}
	return "STOPPED"
}

// Strategy returns the session strategy with id.
func (s *Session) Strategy(id string) (*SessionStrategy, bool) {
	for i := range s.Strategies {
		if s.Strategies[i].ID == id {
			return &s.Strategies[i], true
		}
	}
	return nil, false
}

// Position is the persisted live variant of a Trade.
type Position struct {
	Trade
	SessionID     string    `json:"session_id"`
	StrategyID    string    `json:"strategy_id"`
	BrokerOrderID string    `json:"alpaca_order_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LogLevel classifies session log events.
type LogLevel string

const (
	LogOpen   LogLevel = "OPEN"
	LogClose  LogLevel = "CLOSE"
	LogSL     LogLevel = "SL"
	LogTP     LogLevel = "TP"
	LogSignal LogLevel = "SIGNAL"
	LogScan   LogLevel = "SCAN"
	LogSkip   LogLevel = "SKIP"
	LogError  LogLevel = "ERROR"
	LogInfo   LogLevel = "INFO"
)

// IsTrade reports whether the level records a position transition.
func (l LogLevel) IsTrade() bool {
	switch l {
	case LogOpen, LogClose, LogSL, LogTP, LogSignal:
		return true
	}
	return false
}

// CloseLevel maps a close reason to the log level recording it.
func CloseLevel(r CloseReason) LogLevel {
	switch r {
	case CloseSL:
		return LogSL
	case CloseTP:
		return LogTP
	case CloseSignal:
		return LogSignal
	}
	return LogClose
}

// LogEvent is one immutable entry of a session's audit trail.
// IDs are per session, start at 1 and never skip.
type LogEvent struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Time       time.Time `json:"time"`
	Level      LogLevel  `json:"level"`
	Symbol     string    `json:"symbol,omitempty"`
	StrategyID string    `json:"strategy_id,omitempty"`
	PositionID string    `json:"position_id,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Message    string    `json:"message"`
}
