// Package router follows live session event logs and forwards trade-level
// events to the configured notifiers.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/notifier"
	"go.uber.org/zap"
)

// Source is the session log reader, satisfied by live.Manager.
type Source interface {
	Sessions(ctx context.Context, userID string) ([]core.Session, error)
	Logs(ctx context.Context, id string, afterID int64, limit int) ([]core.LogEvent, error)
}

// Recorder counts deliveries per notifier and outcome.
type Recorder interface {
	RecordNotification(notifier, status string)
}

// Config holds router configuration
type Config struct {
	Levels       []core.LogLevel `mapstructure:"levels"`
	PollInterval time.Duration   `mapstructure:"poll_interval"`
	BatchSize    int             `mapstructure:"batch_size"`
}

// DefaultConfig forwards trade transitions every five seconds.
func DefaultConfig() Config {
	return Config{
		Levels:       []core.LogLevel{core.LogOpen, core.LogClose, core.LogSL, core.LogTP, core.LogSignal},
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	}
}

// Router keeps one after_id cursor per session.
type Router struct {
	cfg      Config
	source   Source
	registry *notifier.Registry
	recorder Recorder
	logger   *zap.Logger
	levels   map[core.LogLevel]bool

	mu        sync.Mutex
	cursors   map[string]int64
	forwarded int64
	failures  int64
}

// New creates a router reading from source.
func New(cfg Config, source Source, registry *notifier.Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if len(cfg.Levels) == 0 {
		cfg.Levels = def.Levels
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	levels := make(map[core.LogLevel]bool, len(cfg.Levels))
	for _, l := range cfg.Levels {
		levels[l] = true
	}
	return &Router{
		cfg:      cfg,
		source:   source,
		registry: registry,
		logger:   logger,
		levels:   levels,
		cursors:  make(map[string]int64),
	}
}

// SetRecorder attaches a metrics recorder.
func (r *Router) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Prime moves every known session's cursor to its latest event so that
// history is not replayed after a restart. Sessions first seen later are
// forwarded from their first event.
func (r *Router) Prime(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.source.Sessions(ctx, "")
	if err != nil {
		return err
	}
	for _, s := range sessions {
		cursor := r.cursors[s.ID]
		for {
			page, err := r.source.Logs(ctx, s.ID, cursor, r.cfg.BatchSize)
			if err != nil {
				return err
			}
			if len(page) == 0 {
				break
			}
			cursor = page[len(page)-1].ID
			if len(page) < r.cfg.BatchSize {
				break
			}
		}
		r.cursors[s.ID] = cursor
	}
	return nil
}

// Poll forwards new events of every session and returns how many were
// delivered. Cursors advance even when a notifier fails.
func (r *Router) Poll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.source.Sessions(ctx, "")
	if err != nil {
		return 0, err
	}

	total := 0
	for _, s := range sessions {
		cursor := r.cursors[s.ID]
		for {
			page, err := r.source.Logs(ctx, s.ID, cursor, r.cfg.BatchSize)
			if err != nil {
				r.logger.Warn("reading session logs failed", zap.String("session_id", s.ID), zap.Error(err))
				break
			}
			if len(page) == 0 {
				break
			}
			cursor = page[len(page)-1].ID
			r.cursors[s.ID] = cursor

			events := r.filter(s, page)
			if len(events) > 0 {
				r.route(ctx, events)
				total += len(events)
			}
			if len(page) < r.cfg.BatchSize {
				break
			}
		}
	}
	return total, nil
}

func (r *Router) filter(s core.Session, logs []core.LogEvent) []notifier.Event {
	var out []notifier.Event
	for _, l := range logs {
		if !r.levels[l.Level] {
			continue
		}
		out = append(out, notifier.Event{SessionName: s.Name, LogEvent: l})
	}
	return out
}

// Route delivers events to every notifier, one message per event or a
// single digest when there are several.
func (r *Router) Route(ctx context.Context, events []notifier.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.route(ctx, events)
}

func (r *Router) route(ctx context.Context, events []notifier.Event) {
	if r.registry == nil || r.registry.Len() == 0 || len(events) == 0 {
		return
	}

	var results map[string]error
	if len(events) == 1 {
		results = r.registry.NotifyAll(ctx, events[0])
	} else {
		results = r.registry.NotifyAllBatch(ctx, events)
	}

	failed := 0
	for name, err := range results {
		status := "ok"
		if err != nil {
			status = "error"
			failed++
			r.logger.Error("notifier failed",
				zap.String("notifier", name),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
		if r.recorder != nil {
			r.recorder.RecordNotification(name, status)
		}
	}
	r.forwarded += int64(len(events))
	r.failures += int64(failed)

	r.logger.Debug("events routed",
		zap.Int("events", len(events)),
		zap.Int("notifiers", len(results)),
		zap.Int("errors", failed),
	)
}

// Run primes the cursors and polls until ctx is done.
func (r *Router) Run(ctx context.Context) {
	if err := r.Prime(ctx); err != nil {
		r.logger.Warn("priming router cursors failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("router poll failed", zap.Error(err))
			}
		}
	}
}

// Cursor returns the last event id seen for a session.
func (r *Router) Cursor(sessionID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[sessionID]
}

// GetStats returns router statistics
func (r *Router) GetStats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]any{
		"sessions_tracked":      len(r.cursors),
		"events_forwarded":      r.forwarded,
		"notifier_failures":     r.failures,
		"poll_interval_seconds": r.cfg.PollInterval.Seconds(),
		"levels":                r.cfg.Levels,
	}
}
