package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/newthinker/arena/internal/core"
)

type mockNotifier struct {
	name       string
	sendCalled int
	batchCalls int
	shouldFail bool
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Init(cfg Config) error { return nil }

func (m *mockNotifier) Send(ctx context.Context, event Event) error {
	m.sendCalled++
	if m.shouldFail {
		return errors.New("send failed")
	}
	return nil
}

func (m *mockNotifier) SendBatch(ctx context.Context, events []Event) error {
	m.batchCalls++
	if m.shouldFail {
		return errors.New("batch send failed")
	}
	return nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&mockNotifier{name: "test"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(&mockNotifier{name: "test"}); err == nil {
		t.Error("expected error for duplicate registration")
	}

	n, err := r.Get("test")
	if err != nil || n.Name() != "test" {
		t.Errorf("Get returned %v, %v", n, err)
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("expected error for missing notifier")
	}
}

func TestRegistry_GetAllSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockNotifier{name: "webhook"})
	r.Register(&mockNotifier{name: "email"})
	r.Register(&mockNotifier{name: "telegram"})

	all := r.GetAll()
	if len(all) != 3 || r.Len() != 3 {
		t.Fatalf("expected 3 notifiers, got %d", len(all))
	}
	if all[0].Name() != "email" || all[2].Name() != "webhook" {
		t.Errorf("unexpected order: %s, %s, %s", all[0].Name(), all[1].Name(), all[2].Name())
	}
}

func TestRegistry_NotifyAll(t *testing.T) {
	r := NewRegistry()
	ok := &mockNotifier{name: "ok"}
	bad := &mockNotifier{name: "bad", shouldFail: true}
	r.Register(ok)
	r.Register(bad)

	ev := Event{LogEvent: core.LogEvent{ID: 3, Level: core.LogTP, Symbol: "AAPL"}}
	results := r.NotifyAll(context.Background(), ev)

	if ok.sendCalled != 1 || bad.sendCalled != 1 {
		t.Errorf("expected each notifier called once, got %d and %d", ok.sendCalled, bad.sendCalled)
	}
	if results["ok"] != nil {
		t.Errorf("unexpected error for ok: %v", results["ok"])
	}
	if results["bad"] == nil {
		t.Error("expected error for bad")
	}
}

func TestRegistry_NotifyAllBatch(t *testing.T) {
	r := NewRegistry()
	m := &mockNotifier{name: "m"}
	r.Register(m)

	r.NotifyAllBatch(context.Background(), []Event{{}, {}})
	if m.batchCalls != 1 {
		t.Errorf("expected 1 batch call, got %d", m.batchCalls)
	}
}

func TestEvent_Title(t *testing.T) {
	ev := Event{LogEvent: core.LogEvent{Level: core.LogOpen, Symbol: "MSFT"}}
	if ev.Title() != "OPEN MSFT" {
		t.Errorf("got %q", ev.Title())
	}
	ev.Symbol = ""
	if ev.Title() != "OPEN" {
		t.Errorf("got %q", ev.Title())
	}
}

func TestConfig_Accessors(t *testing.T) {
	cfg := Config{Params: map[string]any{
		"host":    "smtp.example.com",
		"port":    "587",
		"port2":   float64(25),
		"to":      []any{"a@example.com", "b@example.com"},
		"one":     "c@example.com",
		"headers": map[string]any{"X-Token": "abc", "X-Retry": 3},
	}}

	if cfg.String("host") != "smtp.example.com" {
		t.Error("String failed")
	}
	if cfg.Int("port") != 587 || cfg.Int("port2") != 25 || cfg.Int("missing") != 0 {
		t.Error("Int failed")
	}
	if got := cfg.Strings("to"); len(got) != 2 || got[1] != "b@example.com" {
		t.Errorf("Strings = %v", got)
	}
	if got := cfg.Strings("one"); len(got) != 1 {
		t.Errorf("Strings(single) = %v", got)
	}
	if h := cfg.StringMap("headers"); h["X-Token"] != "abc" || h["X-Retry"] != "3" {
		t.Errorf("StringMap = %v", h)
	}
}
