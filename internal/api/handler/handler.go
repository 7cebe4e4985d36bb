// Package handler implements the /api/trading endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/newthinker/arena/internal/api/job"
	"github.com/newthinker/arena/internal/api/middleware"
	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/batch"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/live"
	"github.com/newthinker/arena/internal/strategy"
	"go.uber.org/zap"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// JobRecorder tracks running background jobs.
type JobRecorder interface {
	JobStarted(jobType string)
	JobFinished(jobType string)
}

// Deps are the services behind the API. Live may be nil when the live
// engine is disabled; its routes are then not registered.
type Deps struct {
	Backtester *backtest.Backtester
	Batch      *batch.Orchestrator
	Live       *live.Manager
	Engine     *strategy.Engine
	Jobs       *job.Store
	Recorder   JobRecorder
	Logger     *zap.Logger
}

// Handler serves the trading API.
type Handler struct {
	backtester *backtest.Backtester
	batch      *batch.Orchestrator
	live       *live.Manager
	engine     *strategy.Engine
	jobs       *job.Store
	recorder   JobRecorder
	logger     *zap.Logger
	validate   *validator.Validate
}

// New creates a handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Jobs == nil {
		d.Jobs = job.NewStore(0, 0)
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		backtester: d.Backtester,
		batch:      d.Batch,
		live:       d.Live,
		engine:     d.Engine,
		jobs:       d.Jobs,
		recorder:   d.Recorder,
		logger:     d.Logger,
		validate:   v,
	}
}

// Register mounts every route on r, which is expected to be rooted at
// /api/trading.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/strategies", h.ListStrategies).Methods(http.MethodGet)
	r.HandleFunc("/strategies/{name}", h.GetStrategy).Methods(http.MethodGet)

	r.HandleFunc("/backtest", h.Backtest).Methods(http.MethodPost)
	r.HandleFunc("/backtest-watchlist", h.Watchlist).Methods(http.MethodPost)
	r.HandleFunc("/backtest-watchlist/{job_id}", h.CancelJob).Methods(http.MethodDelete)
	r.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{job_id}", h.GetJob).Methods(http.MethodGet)

	if h.live == nil {
		return
	}
	r.HandleFunc("/live/configs", h.ListConfigs).Methods(http.MethodGet)
	r.HandleFunc("/live/configs", h.CreateConfig).Methods(http.MethodPost)
	r.HandleFunc("/live/configs/{id}", h.GetConfig).Methods(http.MethodGet)
	r.HandleFunc("/live/configs/{id}", h.UpdateConfig).Methods(http.MethodPut)

	r.HandleFunc("/live/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/live/sessions", h.Sessions).Methods(http.MethodGet)
	r.HandleFunc("/live/start", h.Start).Methods(http.MethodPost)
	r.HandleFunc("/live/stop", h.Stop).Methods(http.MethodPost)
	r.HandleFunc("/live/analyze", h.Analyze).Methods(http.MethodPost)
	r.HandleFunc("/live/logs/{id}", h.Logs).Methods(http.MethodGet)
	r.HandleFunc("/live/session/{id}", h.Session).Methods(http.MethodGet)
	r.HandleFunc("/live/session/{id}/logs", h.Logs).Methods(http.MethodGet)
	r.HandleFunc("/live/session/{id}/resume", h.Resume).Methods(http.MethodPost)
	r.HandleFunc("/live/session/{id}/tick", h.Tick).Methods(http.MethodPost)
	r.HandleFunc("/live/session/{id}/reconcile", h.Reconcile).Methods(http.MethodGet)
	r.HandleFunc("/live/session/{id}/strategy/{strategy_id}", h.ToggleStrategy).Methods(http.MethodPut)
	r.HandleFunc("/live/session/{id}/positions/{position_id}/close", h.ClosePosition).Methods(http.MethodPost)
}

// decode reads a JSON body into v and validates it. An empty body
// validates the zero value.
func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return core.Errorf(core.ErrInvalidRequest, "decoding body: %v", err)
	}
	if err := h.validate.Struct(v); err != nil {
		return core.WrapError(core.ErrInvalidRequest, validationDetail(err))
	}
	return nil
}

func validationDetail(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func userID(r *http.Request) string {
	return middleware.UserID(r.Context())
}
