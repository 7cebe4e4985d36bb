// Package email implements an SMTP-based email notifier
package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/notifier"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email implements the Notifier interface for SMTP email
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	send     sendFunc
}

// New creates a new Email notifier
func New(host string, port int, username, password, from string, to []string) *Email {
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		send:     smtp.SendMail,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Init(cfg notifier.Config) error {
	if host := cfg.String("host"); host != "" {
		e.host = host
	}
	if port := cfg.Int("port"); port > 0 {
		e.port = port
	}
	if username := cfg.String("username"); username != "" {
		e.username = username
	}
	if password := cfg.String("password"); password != "" {
		e.password = password
	}
	if from := cfg.String("from"); from != "" {
		e.from = from
	}
	if to := cfg.Strings("to"); len(to) > 0 {
		e.to = to
	}
	if e.port == 0 {
		e.port = 587
	}
	if e.send == nil {
		e.send = smtp.SendMail
	}

	if e.host == "" || e.from == "" || len(e.to) == 0 {
		return fmt.Errorf("email: host, from, and to are required")
	}
	return nil
}

func (e *Email) Send(ctx context.Context, event notifier.Event) error {
	subject := fmt.Sprintf("Arena: %s", event.Title())
	return e.sendEmail(ctx, subject, e.formatEvent(event), "text/plain")
}

func (e *Email) SendBatch(ctx context.Context, events []notifier.Event) error {
	if len(events) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Arena digest: %d session events", len(events))

	var sb strings.Builder
	sb.WriteString("<html><body>")
	sb.WriteString("<h2>Arena session events</h2>")
	sb.WriteString("<hr>")
	for _, ev := range events {
		sb.WriteString(e.formatEventHTML(ev))
		sb.WriteString("<hr>")
	}
	sb.WriteString("</body></html>")

	return e.sendEmail(ctx, subject, sb.String(), "text/html")
}

func (e *Email) formatEvent(ev notifier.Event) string {
	return fmt.Sprintf(`Arena session event

Session: %s
Level: %s
Symbol: %s
Price: %.4f
Message: %s
Time: %s
`,
		ev.SessionName,
		ev.Level,
		ev.Symbol,
		ev.Price,
		ev.Message,
		ev.Time.UTC().Format("2006-01-02 15:04:05"),
	)
}

func levelColor(level core.LogLevel) string {
	switch level {
	case core.LogSL, core.LogError:
		return "#dc3545"
	case core.LogTP, core.LogOpen:
		return "#28a745"
	default:
		return "#6c757d"
	}
}

func (e *Email) formatEventHTML(ev notifier.Event) string {
	return fmt.Sprintf(`
<div style="margin: 10px 0;">
  <h3 style="color: %s;">%s</h3>
  <p><strong>Session:</strong> %s</p>
  <p>%s</p>
  <p><small>%s</small></p>
</div>
`,
		levelColor(ev.Level),
		html.EscapeString(ev.Title()),
		html.EscapeString(ev.SessionName),
		html.EscapeString(ev.Message),
		ev.Time.UTC().Format("2006-01-02 15:04:05"),
	)
}

func (e *Email) sendEmail(ctx context.Context, subject, body, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		e.from,
		strings.Join(e.to, ","),
		subject,
		contentType,
		body,
	)

	if err := e.send(addr, auth, e.from, e.to, []byte(msg)); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}
