// Package wsfeed subscribes to a websocket bar stream and delivers closed
// bars to a handler, reconnecting with backoff when the connection drops.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/newthinker/arena/internal/core"
	"go.uber.org/zap"
)

// Subscription is sent once per connection.
type Subscription struct {
	Action   string   `json:"action"`
	Symbols  []string `json:"symbols"`
	Interval string   `json:"interval"`
}

// Message is one frame of the stream. Only frames of type "bar" with
// Closed set are delivered.
type Message struct {
	Type     string  `json:"type"`
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Time     int64   `json:"time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Closed   bool    `json:"closed"`
}

// Bar converts a bar frame; Time is unix seconds.
func (m Message) Bar() core.OHLCV {
	return core.OHLCV{
		Symbol:   m.Symbol,
		Interval: m.Interval,
		Time:     time.Unix(m.Time, 0).UTC(),
		Open:     m.Open,
		High:     m.High,
		Low:      m.Low,
		Close:    m.Close,
		Volume:   m.Volume,
	}
}

// Client is a reconnecting stream subscriber.
type Client struct {
	URL          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration

	dialer *websocket.Dialer
	logger *zap.Logger
}

// New creates a client for url.
func New(url string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		URL:          url,
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		MinBackoff:   time.Second,
		MaxBackoff:   time.Minute,
		dialer:       websocket.DefaultDialer,
		logger:       logger,
	}
}

// Run subscribes to symbols and calls handle for every closed bar until ctx
// is done. Connection failures are retried with exponential backoff.
func (c *Client) Run(ctx context.Context, symbols []string, interval string, handle func(core.OHLCV)) error {
	if c.URL == "" {
		return core.Errorf(core.ErrConfigMissing, "websocket feed url is not configured")
	}

	backoff := c.MinBackoff
	for {
		connected, err := c.session(ctx, symbols, interval, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.MinBackoff
		}
		c.logger.Warn("feed disconnected, reconnecting",
			zap.String("url", c.URL),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
}

// session runs one connection. connected reports whether the dial and
// subscription succeeded.
func (c *Client) session(ctx context.Context, symbols []string, interval string, handle func(core.OHLCV)) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	if err := conn.WriteJSON(Subscription{Action: "subscribe", Symbols: symbols, Interval: interval}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("feed subscribed", zap.Strings("symbols", symbols), zap.String("interval", interval))

	conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("feed frame ignored", zap.Error(err))
			continue
		}
		if msg.Type == "error" {
			return true, errors.New("feed error frame")
		}
		if msg.Type != "bar" || !msg.Closed {
			continue
		}
		if msg.Interval == "" {
			msg.Interval = interval
		}
		handle(msg.Bar())
	}
}

// keepalive pings until done and closes conn when ctx ends so the read
// loop returns.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
