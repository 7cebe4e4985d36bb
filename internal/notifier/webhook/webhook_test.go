package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/notifier"
)

func TestWebhook_ImplementsNotifier(t *testing.T) {
	var _ notifier.Notifier = (*Webhook)(nil)
}

func TestWebhook_Init(t *testing.T) {
	w := &Webhook{}
	if err := w.Init(notifier.Config{Params: map[string]any{}}); err == nil {
		t.Error("expected error for missing URL")
	}

	err := w.Init(notifier.Config{Params: map[string]any{
		"url":     "http://example.com/hook",
		"headers": map[string]any{"X-Token": "abc"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.url != "http://example.com/hook" || w.headers["X-Token"] != "abc" {
		t.Errorf("unexpected state: %s %v", w.url, w.headers)
	}
}

func tpEvent() notifier.Event {
	return notifier.Event{
		SessionName: "scalper",
		LogEvent: core.LogEvent{
			ID:        7,
			SessionID: "s1",
			Time:      time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
			Level:     core.LogTP,
			Symbol:    "AAPL",
			Price:     191.5,
			Message:   "take-profit hit at 191.5000",
		},
	}
}

func TestWebhook_Send(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := New(server.URL, nil).Send(context.Background(), tpEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received["type"] != "event" {
		t.Errorf("expected type event, got %v", received["type"])
	}
	if received["symbol"] != "AAPL" || received["level"] != "TP" {
		t.Errorf("unexpected payload %v", received)
	}
	if received["session_name"] != "scalper" || received["id"].(float64) != 7 {
		t.Errorf("unexpected payload %v", received)
	}
}

func TestWebhook_SendBatch(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer server.Close()

	w := New(server.URL, nil)
	if err := w.SendBatch(context.Background(), []notifier.Event{tpEvent(), tpEvent()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received["type"] != "batch" {
		t.Errorf("expected type batch, got %v", received["type"])
	}
	if received["count"].(float64) != 2 {
		t.Errorf("expected count 2, got %v", received["count"])
	}
	if len(received["events"].([]any)) != 2 {
		t.Errorf("expected 2 events, got %v", received["events"])
	}

	if err := w.SendBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch should not error: %v", err)
	}
}

func TestWebhook_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := New(server.URL, nil).Send(context.Background(), tpEvent()); err == nil {
		t.Error("expected error for server error response")
	}
}

func TestWebhook_CustomHeaders(t *testing.T) {
	var receivedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
	}))
	defer server.Close()

	headers := map[string]string{
		"Authorization": "Bearer test-token",
		"X-Custom":      "value",
	}
	New(server.URL, headers).Send(context.Background(), tpEvent())

	if receivedHeaders.Get("Authorization") != "Bearer test-token" {
		t.Error("expected Authorization header")
	}
	if receivedHeaders.Get("X-Custom") != "value" {
		t.Error("expected X-Custom header")
	}
}
