package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/newthinker/arena/internal/api/response"
	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/live"
)

// StrategyEntry is one evaluator inside a configuration body.
type StrategyEntry struct {
	ID        string             `json:"id"`
	Name      string             `json:"name" validate:"required"`
	Params    map[string]float64 `json:"params"`
	Symbols   []string           `json:"symbols"`
	LongOnly  bool               `json:"long_only"`
	IsEnabled *bool              `json:"is_enabled"`
}

// ConfigRequest is the body of POST and PUT /live/configs.
type ConfigRequest struct {
	Name       string          `json:"name" validate:"required"`
	Symbols    []string        `json:"symbols" validate:"required,min=1"`
	Interval   string          `json:"interval" validate:"required,oneof=1m 5m 15m 30m 1h 4h 1d 1w"`
	Strategies []StrategyEntry `json:"strategies" validate:"required,min=1,dive"`
}

func (req ConfigRequest) config(userID, id string) core.StrategyConfig {
	cfg := core.StrategyConfig{
		ID:       id,
		UserID:   userID,
		Name:     req.Name,
		Symbols:  normalizeSymbols(req.Symbols),
		Interval: req.Interval,
	}
	for _, s := range req.Strategies {
		enabled := true
		if s.IsEnabled != nil {
			enabled = *s.IsEnabled
		}
		cfg.Strategies = append(cfg.Strategies, core.SessionStrategy{
			ID:        s.ID,
			Name:      s.Name,
			Params:    s.Params,
			Symbols:   normalizeSymbols(s.Symbols),
			LongOnly:  s.LongOnly,
			IsEnabled: enabled,
		})
	}
	return cfg
}

// StartRequest is the body of POST /live/start.
type StartRequest struct {
	ConfigID      string  `json:"config_id" validate:"required"`
	Name          string  `json:"name"`
	Mode          string  `json:"mode" validate:"omitempty,oneof=poll websocket"`
	TradeAmount   float64 `json:"trade_amount" validate:"gte=0"`
	BrokerEnabled bool    `json:"broker_enabled"`
}

// ToggleRequest is the body of PUT /live/session/{id}/strategy/{strategy_id}.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// AnalyzeRequest is the body of POST /live/analyze.
type AnalyzeRequest struct {
	SessionID  string `json:"session_id" validate:"required"`
	Symbol     string `json:"symbol" validate:"required"`
	StrategyID string `json:"strategy_id"`
}

// ListConfigs handles GET /live/configs.
func (h *Handler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	list, err := h.live.ListConfigs(r.Context(), userID(r))
	if err != nil {
		response.Fail(w, err)
		return
	}
	if list == nil {
		list = []core.StrategyConfig{}
	}
	response.JSON(w, http.StatusOK, list)
}

// CreateConfig handles POST /live/configs.
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := h.decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	cfg, err := h.live.CreateConfig(r.Context(), req.config(userID(r), ""))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, cfg)
}

// GetConfig handles GET /live/configs/{id}.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.live.GetConfig(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, cfg)
}

// UpdateConfig handles PUT /live/configs/{id}.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := h.decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	cfg, err := h.live.UpdateConfig(r.Context(), req.config(userID(r), mux.Vars(r)["id"]))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, cfg)
}

// Status handles GET /live/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.live.Status(r.Context(), userID(r))
	if err != nil {
		response.Fail(w, err)
		return
	}
	if st.ActiveSessions == nil {
		st.ActiveSessions = []core.Session{}
	}
	response.JSON(w, http.StatusOK, st)
}

// Sessions handles GET /live/sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.live.Sessions(r.Context(), userID(r))
	if err != nil {
		response.Fail(w, err)
		return
	}
	if list == nil {
		list = []core.Session{}
	}
	response.JSON(w, http.StatusOK, list)
}

// Start handles POST /live/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := h.decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	sess, err := h.live.Start(r.Context(), live.StartRequest{
		UserID:        userID(r),
		ConfigID:      req.ConfigID,
		Name:          req.Name,
		Mode:          core.SessionMode(req.Mode),
		TradeAmount:   req.TradeAmount,
		BrokerEnabled: req.BrokerEnabled,
	})
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, sess)
}

// ownedSession loads a session and hides sessions of other users.
func (h *Handler) ownedSession(r *http.Request, id string) (*live.SessionView, error) {
	if id == "" {
		return nil, core.Errorf(core.ErrInvalidRequest, "session_id is required")
	}
	v, err := h.live.Session(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if v.UserID != userID(r) {
		return nil, core.Errorf(core.ErrSessionNotFound, "session %s", id)
	}
	return v, nil
}

// Stop handles POST /live/stop?session_id=.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if _, err := h.ownedSession(r, id); err != nil {
		response.Fail(w, err)
		return
	}
	sess, err := h.live.Stop(r.Context(), id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, sess)
}

// Resume handles POST /live/session/{id}/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.ownedSession(r, id); err != nil {
		response.Fail(w, err)
		return
	}
	sess, err := h.live.Resume(r.Context(), id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, sess)
}

// Session handles GET /live/session/{id}.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	v, err := h.ownedSession(r, mux.Vars(r)["id"])
	if err != nil {
		response.Fail(w, err)
		return
	}
	if v.Positions == nil {
		v.Positions = []core.Position{}
	}
	q := r.URL.Query()
	if q.Has("open_as_provisional_wins") || q.Has("exclude_end_trades") {
		v.Metrics = live.PositionMetrics(v.Positions, backtest.MetricsOptions{
			ExcludeEndTrades:      q.Get("exclude_end_trades") == "true",
			OpenAsProvisionalWins: q.Get("open_as_provisional_wins") == "true",
		})
	}
	response.JSON(w, http.StatusOK, v)
}

// Logs handles GET /live/logs/{id}?after_id=N&limit=M.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.ownedSession(r, id); err != nil {
		response.Fail(w, err)
		return
	}

	q := r.URL.Query()
	var afterID int64
	if s := q.Get("after_id"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			response.Fail(w, core.Errorf(core.ErrInvalidRequest, "after_id must be an integer"))
			return
		}
		afterID = n
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			response.Fail(w, core.Errorf(core.ErrInvalidRequest, "limit must be an integer"))
			return
		}
		limit = n
	}

	logs, err := h.live.Logs(r.Context(), id, afterID, limit)
	if err != nil {
		response.Fail(w, err)
		return
	}
	last := afterID
	if n := len(logs); n > 0 {
		last = logs[n-1].ID
	} else {
		logs = []core.LogEvent{}
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"logs":    logs,
		"last_id": last,
	})
}

// ToggleStrategy handles PUT /live/session/{id}/strategy/{strategy_id}.
func (h *Handler) ToggleStrategy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req ToggleRequest
	if err := h.decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	if _, err := h.ownedSession(r, vars["id"]); err != nil {
		response.Fail(w, err)
		return
	}
	sess, err := h.live.SetStrategyEnabled(r.Context(), vars["id"], vars["strategy_id"], *req.Enabled)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, sess)
}

// Tick handles POST /live/session/{id}/tick.
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.ownedSession(r, id); err != nil {
		response.Fail(w, err)
		return
	}
	res, err := h.live.Tick(r.Context(), id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// ClosePosition handles POST /live/session/{id}/positions/{position_id}/close.
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := h.ownedSession(r, vars["id"]); err != nil {
		response.Fail(w, err)
		return
	}
	pos, err := h.live.ClosePosition(r.Context(), vars["id"], vars["position_id"])
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, pos)
}

// Analyze handles POST /live/analyze.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := h.decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	if _, err := h.ownedSession(r, req.SessionID); err != nil {
		response.Fail(w, err)
		return
	}
	res, err := h.live.Analyze(r.Context(), live.AnalyzeRequest{
		SessionID:  req.SessionID,
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		StrategyID: req.StrategyID,
	})
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// Reconcile handles GET /live/session/{id}/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.ownedSession(r, id); err != nil {
		response.Fail(w, err)
		return
	}
	report, err := h.live.Reconcile(r.Context(), id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, report)
}
