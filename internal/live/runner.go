package live

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/arena/internal/core"
)

// run drives one session until ctx is cancelled.
func (m *Manager) run(ctx context.Context, sess core.Session) {
	m.logger.Debug("session runner attached",
		zap.String("session_id", sess.ID),
		zap.String("mode", string(sess.Mode)),
	)

	if sess.Mode == core.ModeStream {
		if m.feed != nil {
			m.stream(ctx, sess)
			return
		}
		m.emit(ctx, core.LogEvent{
			SessionID: sess.ID,
			Level:     core.LogInfo,
			Message:   "no stream feed configured; polling instead",
		})
	}

	m.scheduledTick(ctx, sess.ID)
	m.poll(ctx, sess)
}

func (m *Manager) poll(ctx context.Context, sess core.Session) {
	ticker := time.NewTicker(m.cfg.pollInterval(sess.Interval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scheduledTick(ctx, sess.ID)
		}
	}
}

// stream ticks whenever the feed delivers a closed bar. Bursts of bars
// collapse into a single tick.
func (m *Manager) stream(ctx context.Context, sess core.Session) {
	trigger := make(chan struct{}, 1)
	feedDone := make(chan error, 1)

	go func() {
		feedDone <- m.feed.Run(ctx, sessionSymbols(sess), sess.Interval, func(bar core.OHLCV) {
			if bar.Interval == "" {
				bar.Interval = sess.Interval
			}
			m.bars.Append(bar)
			select {
			case trigger <- struct{}{}:
			default:
			}
		})
	}()

	m.scheduledTick(ctx, sess.ID)

	for {
		select {
		case <-ctx.Done():
			<-feedDone
			return
		case <-trigger:
			m.scheduledTick(ctx, sess.ID)
		case err := <-feedDone:
			if ctx.Err() != nil {
				return
			}
			m.emit(ctx, core.LogEvent{
				SessionID: sess.ID,
				Level:     core.LogError,
				Message:   fmt.Sprintf("stream feed stopped: %v; polling instead", err),
			})
			m.poll(ctx, sess)
			return
		}
	}
}

func (m *Manager) scheduledTick(ctx context.Context, id string) {
	res, err := m.tick(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("live tick failed", zap.String("session_id", id), zap.Error(err))
		}
		return
	}
	m.logger.Debug("live tick",
		zap.String("session_id", id),
		zap.Int("poll", res.Poll),
		zap.Int("opened", res.Opened),
		zap.Int("closed", res.Closed),
	)
}
