package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/newthinker/arena/internal/api/handler"
	"github.com/newthinker/arena/internal/metrics"
	"github.com/newthinker/arena/internal/strategy/catalog"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, apiKey string, reg *metrics.Registry) *Server {
	t.Helper()
	h := handler.New(handler.Deps{Engine: catalog.NewEngine(nil)})
	srv, err := NewServer(Config{Host: "localhost", Port: 0, APIKey: apiKey, Version: "test"},
		Dependencies{Handler: h, Metrics: reg}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, "test-key", nil)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Data map[string]any `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Data["status"] != "ok" || body.Data["version"] != "test" {
		t.Errorf("unexpected health body %v", body.Data)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestServer_APIAuth(t *testing.T) {
	srv := newTestServer(t, "test-key", nil)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"valid key", "test-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/trading/strategies", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestServer_APIAuth_Disabled(t *testing.T) {
	srv := newTestServer(t, "", nil)

	req := httptest.NewRequest("GET", "/api/trading/strategies", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with disabled auth, got %d", w.Code)
	}
}

func TestServer_LiveRoutesNeedManager(t *testing.T) {
	srv := newTestServer(t, "", nil)

	req := httptest.NewRequest("GET", "/api/trading/live/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without live manager, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	srv := newTestServer(t, "", reg)

	req := httptest.NewRequest("GET", "/api/trading/strategies/regression_scalping", nil)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `path="/api/trading/strategies/{name}"`) {
		t.Errorf("expected templated path label in metrics output")
	}
}
