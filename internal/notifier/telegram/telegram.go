package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/notifier"
)

// DefaultAPIURL is the Telegram Bot API base.
const DefaultAPIURL = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	apiURL   string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiURL:   DefaultAPIURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Init(cfg notifier.Config) error {
	if token := cfg.String("bot_token"); token != "" {
		t.botToken = token
	}
	if chatID := cfg.String("chat_id"); chatID != "" {
		t.chatID = chatID
	}
	if u := cfg.String("api_url"); u != "" {
		t.apiURL = strings.TrimSuffix(u, "/")
	}
	if t.apiURL == "" {
		t.apiURL = DefaultAPIURL
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 30 * time.Second}
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}

	return nil
}

func (t *Telegram) Send(ctx context.Context, event notifier.Event) error {
	return t.sendMessage(ctx, t.formatEvent(event))
}

func (t *Telegram) SendBatch(ctx context.Context, events []notifier.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *%d session events*\n\n", len(events))

	for i, ev := range events {
		sb.WriteString(t.formatEvent(ev))
		if i < len(events)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(ctx, sb.String())
}

func levelEmoji(level core.LogLevel) string {
	switch level {
	case core.LogOpen:
		return "🟢"
	case core.LogTP:
		return "🎯"
	case core.LogSL:
		return "🛑"
	case core.LogError:
		return "⚠️"
	default:
		return "🔔"
	}
}

func (t *Telegram) formatEvent(ev notifier.Event) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s *%s*\n", levelEmoji(ev.Level), ev.Title())
	if ev.SessionName != "" {
		fmt.Fprintf(&sb, "📁 Session: %s\n", ev.SessionName)
	}
	if ev.Message != "" {
		fmt.Fprintf(&sb, "💡 %s\n", ev.Message)
	}
	if ev.Price > 0 {
		fmt.Fprintf(&sb, "💰 Price: %.4f\n", ev.Price)
	}
	fmt.Fprintf(&sb, "⏰ %s", ev.Time.UTC().Format("2006-01-02 15:04:05"))

	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)

	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}
