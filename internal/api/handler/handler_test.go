package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/arena/internal/api/job"
	"github.com/newthinker/arena/internal/api/middleware"
	"github.com/newthinker/arena/internal/api/response"
	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/batch"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/live"
	"github.com/newthinker/arena/internal/storage/session"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/newthinker/arena/internal/strategy/strategytest"
)

// swing enters long every 2*hold bars and exits hold bars later.
type swing struct{}

func (swing) Name() string        { return "swing" }
func (swing) Description() string { return "periodic long swing" }
func (swing) Params() []strategy.ParamSpec {
	return []strategy.ParamSpec{strategy.Integer("hold", "bars held", 1, 50, 10)}
}

func (swing) Evaluate(bars []core.OHLCV, p strategy.Params, longOnly bool) (strategy.Evaluation, error) {
	hold := p.Int("hold")
	var sigs []core.Signal
	for i, b := range bars {
		switch {
		case i > 0 && i%(2*hold) == 0:
			sigs = append(sigs, core.Signal{Time: b.Time, Kind: core.EntryLong, Direction: core.Long, Price: b.Close, Reason: "swing in"})
		case i%(2*hold) == hold:
			sigs = append(sigs, core.Signal{Time: b.Time, Kind: core.Exit, Direction: core.Long, Price: b.Close, Reason: "swing out"})
		}
	}
	return strategy.Evaluation{Signals: sigs}, nil
}

// bars serves every consumer: backtester, batch and live manager.
type bars struct {
	mu     sync.Mutex
	series map[string][]core.OHLCV
	cached map[string]bool
	block  map[string]bool
}

func newBars(symbols ...string) *bars {
	b := &bars{series: map[string][]core.OHLCV{}, cached: map[string]bool{}, block: map[string]bool{}}
	for _, s := range symbols {
		series := strategytest.Uptrend(120)
		for i := range series {
			series[i].Symbol = s
		}
		b.series[s] = series
	}
	return b
}

func (b *bars) Bars(ctx context.Context, symbol, interval string) ([]core.OHLCV, error) {
	b.mu.Lock()
	blocked := b.block[symbol]
	b.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.series[symbol]
	if !ok {
		return nil, core.Errorf(core.ErrDataUnavailable, "no %s bars for %s", interval, symbol)
	}
	b.cached[symbol] = true
	return append([]core.OHLCV(nil), s...), nil
}

func (b *bars) Cached(symbol, _ string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cached[symbol]
}

func (b *bars) Refresh(ctx context.Context, symbol, interval string) ([]core.OHLCV, error) {
	return b.Bars(ctx, symbol, interval)
}

func (b *bars) Append(bar core.OHLCV) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.series[bar.Symbol] = append(b.series[bar.Symbol], bar)
}

func (b *bars) LastPrice(symbol, _ string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.series[symbol]
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].Close, true
}

type fixture struct {
	router http.Handler
	bars   *bars
	jobs   *job.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := newBars("AAPL", "MSFT", "NVDA")
	engine := strategy.NewEngine()
	engine.Register(swing{})

	manager := live.NewManager(live.Deps{
		Store:  session.NewMemoryStore(),
		Bars:   src,
		Engine: engine,
	}, live.Config{DisableScheduler: true, LogPageSize: 100})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	jobs := job.NewStore(10, time.Hour)
	h := New(Deps{
		Backtester: backtest.New(src, engine, nil),
		Batch:      batch.New(src, engine, batch.Config{Interval: "1h", Watchlist: []string{"AAPL", "MSFT"}}, nil),
		Live:       manager,
		Engine:     engine,
		Jobs:       jobs,
	})

	r := mux.NewRouter()
	sub := r.PathPrefix("/api/trading").Subrouter()
	sub.Use(middleware.User)
	h.Register(sub)
	return &fixture{router: r, bars: src, jobs: jobs}
}

func (f *fixture) do(t *testing.T, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrorDetail {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func TestStrategies(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/trading/strategies", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []struct {
		Name     string             `json:"name"`
		Defaults map[string]float64 `json:"defaults"`
		Schema   map[string]any     `json:"schema"`
	}
	data(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "swing", list[0].Name)
	assert.Equal(t, 10.0, list[0].Defaults["hold"])
	assert.Contains(t, list[0].Schema["properties"], "hold")

	w = f.do(t, http.MethodGet, "/api/trading/strategies/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "STRATEGY_NOT_FOUND", errorCode(t, w).Code)
}

func TestBacktest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/trading/backtest",
		`{"symbol":"aapl","strategy":"swing","interval":"1h","params":{"hold":10}}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res backtest.Result
	data(t, w, &res)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Len(t, res.Trades, 5)
	assert.Equal(t, 5, res.Metrics.TotalTrades)
	assert.NotEmpty(t, res.Markers)
	assert.Len(t, res.ChartData, 120)

	w = f.do(t, http.MethodPost, "/api/trading/backtest",
		`{"symbol":"AAPL","strategy":"swing","interval":"1h","direction":"SHORT"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	data(t, w, &res)
	assert.Empty(t, res.Trades)
}

func TestBacktest_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
		detail string
	}{
		{"missing strategy", `{"symbol":"AAPL"}`, 400, "INVALID_REQUEST", "strategy is required"},
		{"bad interval", `{"symbol":"AAPL","strategy":"swing","interval":"2h"}`, 400, "INVALID_REQUEST", "interval must be one of"},
		{"malformed body", `{"symbol":`, 400, "INVALID_REQUEST", "decoding body"},
		{"unknown strategy", `{"symbol":"AAPL","strategy":"nope"}`, 404, "STRATEGY_NOT_FOUND", ""},
		{"param out of range", `{"symbol":"AAPL","strategy":"swing","params":{"hold":0}}`, 400, "INVALID_PARAMETER", `"hold"`},
		{"unknown symbol", `{"symbol":"ZZZZ","strategy":"swing"}`, 404, "DATA_UNAVAILABLE", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/trading/backtest", tt.body, "")
			assert.Equal(t, tt.status, w.Code)
			e := errorCode(t, w)
			assert.Equal(t, tt.code, e.Code)
			if tt.detail != "" {
				assert.Contains(t, e.Detail, tt.detail)
			}
		})
	}
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" {
			out = append(out, ev)
		}
	}
	return out
}

func TestWatchlist_Stream(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/trading/backtest-watchlist",
		`{"strategy":"swing","symbols":["AAPL","MSFT","NOPE"]}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	jobID := w.Header().Get("X-Job-ID")
	require.NotEmpty(t, jobID)

	events := parseSSE(w.Body.String())
	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.name]++
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(ev.data), &payload))
		assert.Equal(t, ev.name, payload["type"])
	}
	assert.Equal(t, 3, counts["prefetch"])
	assert.Equal(t, 3, counts["progress"])
	require.Equal(t, 1, counts["result"])
	last := events[len(events)-1]
	require.Equal(t, "result", last.name)

	var final struct {
		Result batch.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(last.data), &final))
	assert.Equal(t, []string{"NOPE"}, final.Result.SkippedSymbols)
	assert.Len(t, final.Result.Trades, 10)

	w = f.do(t, http.MethodGet, "/api/trading/jobs/"+jobID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var jv struct {
		Status   job.Status `json:"status"`
		Progress int        `json:"progress"`
	}
	data(t, w, &jv)
	assert.Equal(t, job.StatusComplete, jv.Status)
	assert.Equal(t, 100, jv.Progress)

	w = f.do(t, http.MethodGet, "/api/trading/jobs/"+jobID+"?direction=short", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var projected struct {
		Result batch.Result `json:"result"`
	}
	data(t, w, &projected)
	assert.Empty(t, projected.Result.Trades)
	assert.Equal(t, 0, projected.Result.Summary.TotalTrades)

	w = f.do(t, http.MethodGet, "/api/trading/jobs/"+jobID, "", "someone-else")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWatchlist_ValidationIsSynchronous(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/trading/backtest-watchlist",
		`{"strategy":"swing","params":{"hold":99}}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "INVALID_PARAMETER", errorCode(t, w).Code)
}

func TestWatchlist_AsyncAndCancel(t *testing.T) {
	f := newFixture(t)
	f.bars.block["NVDA"] = true

	w := f.do(t, http.MethodPost, "/api/trading/backtest-watchlist?async=true",
		`{"strategy":"swing","symbols":["NVDA"]}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	data(t, w, &accepted)
	require.NotEmpty(t, accepted.JobID)

	w = f.do(t, http.MethodDelete, "/api/trading/backtest-watchlist/"+accepted.JobID, "", "intruder")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/api/trading/backtest-watchlist/"+accepted.JobID, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		j, err := f.jobs.Get(accepted.JobID)
		return err == nil && j.Status == job.StatusCancelled && j.Result == nil
	}, 2*time.Second, 10*time.Millisecond)

	w = f.do(t, http.MethodGet, "/api/trading/jobs", "", "")
	var list []JobView
	data(t, w, &list)
	assert.Len(t, list, 1)
}

func TestWatchlist_AsyncCompletes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/trading/backtest-watchlist?async=true", `{"strategy":"swing"}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	data(t, w, &accepted)

	require.Eventually(t, func() bool {
		j, err := f.jobs.Get(accepted.JobID)
		return err == nil && j.Status == job.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	j, _ := f.jobs.Get(accepted.JobID)
	res, ok := j.Result.(*batch.Result)
	require.True(t, ok)
	assert.Equal(t, []string{"AAPL", "MSFT"}, res.Symbols)
}

const configBody = `{
	"name": "swing desk",
	"symbols": ["aapl", "MSFT"],
	"interval": "1h",
	"strategies": [{"name": "swing", "params": {"hold": 5}}]
}`

func TestLive_ConfigAndSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/trading/live/configs", configBody, "alice")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var cfg core.StrategyConfig
	data(t, w, &cfg)
	require.NotEmpty(t, cfg.ID)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Symbols)
	require.Len(t, cfg.Strategies, 1)
	assert.True(t, cfg.Strategies[0].IsEnabled)
	strategyID := cfg.Strategies[0].ID

	w = f.do(t, http.MethodGet, "/api/trading/live/configs/"+cfg.ID, "", "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/trading/live/start", `{"config_id":"`+cfg.ID+`"}`, "alice")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sess core.Session
	data(t, w, &sess)
	require.True(t, sess.IsActive)

	w = f.do(t, http.MethodPost, "/api/trading/live/start", `{"config_id":"`+cfg.ID+`"}`, "alice")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_ALREADY_ACTIVE", errorCode(t, w).Code)

	w = f.do(t, http.MethodGet, "/api/trading/live/status", "", "alice")
	var st live.Status
	data(t, w, &st)
	assert.True(t, st.IsRunning)
	assert.Len(t, st.ActiveSessions, 1)

	w = f.do(t, http.MethodGet, "/api/trading/live/session/"+sess.ID, "", "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPut, "/api/trading/live/session/"+sess.ID+"/strategy/"+strategyID, `{"enabled":false}`, "alice")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONCURRENT_MUTATION", errorCode(t, w).Code)

	w = f.do(t, http.MethodPut, "/api/trading/live/configs/"+cfg.ID, configBody, "alice")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/trading/live/session/"+sess.ID+"/tick", "", "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/trading/live/session/"+sess.ID+"?open_as_provisional_wins=true", "", "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view live.SessionView
	data(t, w, &view)
	assert.Equal(t, len(view.Positions), view.Metrics.TotalTrades)
	assert.Equal(t, live.PositionMetrics(view.Positions, backtest.MetricsOptions{OpenAsProvisionalWins: true}), view.Metrics)

	w = f.do(t, http.MethodPost, "/api/trading/live/stop", "", "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/trading/live/stop?session_id="+sess.ID, "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	data(t, w, &sess)
	assert.False(t, sess.IsActive)

	w = f.do(t, http.MethodPost, "/api/trading/live/session/"+sess.ID+"/tick", "", "alice")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_NOT_ACTIVE", errorCode(t, w).Code)

	w = f.do(t, http.MethodPut, "/api/trading/live/session/"+sess.ID+"/strategy/"+strategyID, `{"enabled":false}`, "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPut, "/api/trading/live/session/"+sess.ID+"/strategy/"+strategyID, `{}`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/trading/live/logs/"+sess.ID+"?after_id=0", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Logs   []core.LogEvent `json:"logs"`
		LastID int64           `json:"last_id"`
	}
	data(t, w, &page)
	require.NotEmpty(t, page.Logs)
	for i, ev := range page.Logs {
		assert.Equal(t, int64(i+1), ev.ID)
	}
	assert.Equal(t, page.Logs[len(page.Logs)-1].ID, page.LastID)

	prev := page.LastID
	w = f.do(t, http.MethodGet, "/api/trading/live/session/"+sess.ID+"/logs?after_id="+
		jsonInt(prev), "", "alice")
	data(t, w, &page)
	assert.Empty(t, page.Logs)
	assert.Equal(t, prev, page.LastID)

	w = f.do(t, http.MethodGet, "/api/trading/live/logs/"+sess.ID+"?after_id=x", "", "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/trading/live/sessions", "", "alice")
	var sessions []core.Session
	data(t, w, &sessions)
	assert.Len(t, sessions, 1)
}

func TestLive_ConfigValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/trading/live/configs", `{"name":"x","symbols":["AAPL"],"strategies":[{"name":"swing"}]}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorCode(t, w).Detail, "interval is required")

	w = f.do(t, http.MethodPost, "/api/trading/live/configs",
		`{"name":"x","symbols":["AAPL"],"interval":"1h","strategies":[{"name":"swing","params":{"hold":500}}]}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMETER", errorCode(t, w).Code)

	w = f.do(t, http.MethodGet, "/api/trading/live/configs", "", "")
	var list []core.StrategyConfig
	data(t, w, &list)
	assert.Empty(t, list)
}

func TestLive_AnalyzeUnknownSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/trading/live/analyze", `{"session_id":"nope","symbol":"AAPL"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, w).Code)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
