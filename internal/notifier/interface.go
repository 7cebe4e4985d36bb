package notifier

import (
	"context"
	"fmt"
	"strconv"

	"github.com/newthinker/arena/internal/core"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Event is a session log entry forwarded to users.
type Event struct {
	SessionName string `json:"session_name,omitempty"`
	core.LogEvent
}

// Title is a one-line summary such as "TP AAPL".
func (e Event) Title() string {
	if e.Symbol == "" {
		return string(e.Level)
	}
	return fmt.Sprintf("%s %s", e.Level, e.Symbol)
}

// Notifier delivers session events to an outside channel.
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	Send(ctx context.Context, event Event) error

	SendBatch(ctx context.Context, events []Event) error
}

// String reads a string param.
func (c Config) String(key string) string {
	s, _ := c.Params[key].(string)
	return s
}

// Int reads an integer param given as a number or a numeric string.
func (c Config) Int(key string) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// Strings reads a list param; YAML decoding yields []any.
func (c Config) Strings(key string) []string {
	switch v := c.Params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// StringMap reads a map param such as HTTP headers.
func (c Config) StringMap(key string) map[string]string {
	switch v := c.Params[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, x := range v {
			out[k] = fmt.Sprint(x)
		}
		return out
	}
	return nil
}
