package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/newthinker/arena/internal/api/job"
	"github.com/newthinker/arena/internal/api/response"
	"github.com/newthinker/arena/internal/api/sse"
	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/batch"
	"github.com/newthinker/arena/internal/core"
	"go.uber.org/zap"
)

const (
	backtestTimeout = 2 * time.Minute
	batchTimeout    = 30 * time.Minute
	jobTypeBatch    = "batch"
)

// BacktestRequest is the body of POST /backtest.
type BacktestRequest struct {
	Symbol      string         `json:"symbol" validate:"required"`
	Strategy    string         `json:"strategy" validate:"required"`
	Interval    string         `json:"interval" validate:"omitempty,oneof=1m 5m 15m 30m 1h 4h 1d 1w"`
	Params      map[string]any `json:"params"`
	LongOnly    bool           `json:"long_only"`
	TradeAmount float64        `json:"trade_amount" validate:"gte=0"`
	Since       *time.Time     `json:"since"`
	Direction   core.Direction `json:"direction" validate:"omitempty,oneof=LONG SHORT"`
	backtest.MetricsOptions
}

// WatchlistRequest is the body of POST /backtest-watchlist.
type WatchlistRequest struct {
	Strategy    string         `json:"strategy" validate:"required"`
	Interval    string         `json:"interval" validate:"omitempty,oneof=1m 5m 15m 30m 1h 4h 1d 1w"`
	Params      map[string]any `json:"params"`
	Symbols     []string       `json:"symbols"`
	UsOnly      bool           `json:"us_only"`
	LongOnly    bool           `json:"long_only"`
	TradeAmount float64        `json:"trade_amount" validate:"gte=0"`
	Since       *time.Time     `json:"since"`
	Concurrency int            `json:"concurrency" validate:"gte=0"`
	backtest.MetricsOptions
}

func (req WatchlistRequest) batch(jobID string) batch.Request {
	out := batch.Request{
		JobID:       jobID,
		Symbols:     normalizeSymbols(req.Symbols),
		Strategy:    req.Strategy,
		Params:      req.Params,
		Interval:    req.Interval,
		UsOnly:      req.UsOnly,
		LongOnly:    req.LongOnly,
		TradeAmount: req.TradeAmount,
		Metrics:     req.MetricsOptions,
		Concurrency: req.Concurrency,
	}
	if req.Since != nil {
		out.Since = *req.Since
	}
	return out
}

func normalizeSymbols(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Backtest handles POST /backtest: one symbol, answered synchronously.
func (h *Handler) Backtest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := h.decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}

	opts := backtest.Options{
		Interval:    req.Interval,
		TradeAmount: req.TradeAmount,
		LongOnly:    req.LongOnly,
		Metrics:     req.MetricsOptions,
	}
	if opts.Interval == "" {
		opts.Interval = "1d"
	}
	if req.Since != nil {
		opts.Since = *req.Since
	}

	ctx, cancel := context.WithTimeout(r.Context(), backtestTimeout)
	defer cancel()

	result, err := h.backtester.RunSymbol(ctx, backtest.Request{
		Symbol:   strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Strategy: req.Strategy,
		Params:   req.Params,
		Options:  opts,
	})
	if err != nil {
		response.Fail(w, err)
		return
	}
	if req.Direction != "" {
		if result, err = result.Project(backtest.Filter{Direction: req.Direction}, req.MetricsOptions); err != nil {
			response.Fail(w, err)
			return
		}
	}
	response.JSON(w, http.StatusOK, result)
}

// Watchlist handles POST /backtest-watchlist. By default it streams
// prefetch, progress and result events over SSE; with ?async=true it
// returns 202 and the result is polled from /jobs/{job_id}. The job id is
// sent in the X-Job-ID header either way.
func (h *Handler) Watchlist(w http.ResponseWriter, r *http.Request) {
	var req WatchlistRequest
	if err := h.decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}

	async := r.URL.Query().Get("async") == "true"
	parent := r.Context()
	if async {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, batchTimeout)

	j := h.jobs.Create(jobTypeBatch, userID(r), cancel)
	events, err := h.batch.Run(ctx, req.batch(j.ID))
	if err != nil {
		cancel()
		h.finishJob(j.ID, nil, err)
		response.Fail(w, err)
		return
	}
	h.jobs.Update(j.ID, func(j *job.Job) { j.Status = job.StatusRunning })
	if h.recorder != nil {
		h.recorder.JobStarted(jobTypeBatch)
	}
	w.Header().Set("X-Job-ID", j.ID)

	if async {
		go func() {
			defer cancel()
			h.consume(j.ID, events, nil)
		}()
		response.JSON(w, http.StatusAccepted, map[string]any{
			"job_id": j.ID,
			"status": job.StatusRunning,
		})
		return
	}

	defer cancel()
	stream, err := sse.New(w)
	if err != nil {
		cancel()
		h.consume(j.ID, events, nil)
		response.Fail(w, err)
		return
	}
	h.consume(j.ID, events, func(ev batch.Event) {
		if err := stream.Send(ev.EventType(), ev); err != nil {
			h.logger.Debug("sse client gone", zap.String("job_id", j.ID), zap.Error(err))
			cancel()
		}
	})
}

// consume drains events into the job record, forwarding each to send.
func (h *Handler) consume(jobID string, events <-chan batch.Event, send func(batch.Event)) {
	var result *batch.Result
	for ev := range events {
		switch e := ev.(type) {
		case batch.ProgressEvent:
			h.jobs.Update(jobID, func(j *job.Job) {
				j.Current = e.Current
				j.Total = e.Total
			})
		case batch.ResultEvent:
			result = e.Result
		}
		if send != nil {
			send(ev)
		}
	}
	h.finishJob(jobID, result, nil)
	if h.recorder != nil {
		h.recorder.JobFinished(jobTypeBatch)
	}
}

func (h *Handler) finishJob(id string, result *batch.Result, err error) {
	h.jobs.Update(id, func(j *job.Job) {
		switch {
		case err != nil:
			j.Status = job.StatusFailed
			detail := response.Describe(err)
			j.Error = &detail
		case result != nil:
			j.Status = job.StatusComplete
			j.Result = result
			j.Current = j.Total
		case !j.Status.Done():
			j.Status = job.StatusCancelled
		}
	})
}

// JobView is a job with its derived progress percentage.
type JobView struct {
	job.Job
	Progress int `json:"progress"`
}

func view(j *job.Job) JobView {
	return JobView{Job: *j, Progress: j.Progress()}
}

func (h *Handler) ownedJob(r *http.Request) (*job.Job, error) {
	id := mux.Vars(r)["job_id"]
	j, err := h.jobs.Get(id)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID(r) {
		return nil, core.Errorf(core.ErrJobNotFound, "job %s", id)
	}
	return j, nil
}

// GetJob handles GET /jobs/{job_id}. direction and since query parameters
// project a finished batch result without re-running it.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.ownedJob(r)
	if err != nil {
		response.Fail(w, err)
		return
	}

	q := r.URL.Query()
	if res, ok := j.Result.(*batch.Result); ok && (q.Get("direction") != "" || q.Get("since") != "") {
		f := backtest.Filter{Direction: core.Direction(strings.ToUpper(q.Get("direction")))}
		if f.Direction != "" && f.Direction != core.Long && f.Direction != core.Short {
			response.Fail(w, core.Errorf(core.ErrInvalidRequest, "direction must be LONG or SHORT"))
			return
		}
		if s := q.Get("since"); s != "" {
			if f.Since, err = time.Parse(time.RFC3339, s); err != nil {
				response.Fail(w, core.Errorf(core.ErrInvalidRequest, "since: %v", err))
				return
			}
		}
		opts := backtest.MetricsOptions{
			ExcludeEndTrades:      q.Get("exclude_end_trades") == "true",
			OpenAsProvisionalWins: q.Get("open_as_provisional_wins") == "true",
		}
		j.Result = res.Project(f, opts)
	}
	response.JSON(w, http.StatusOK, view(j))
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	out := []JobView{}
	for _, j := range h.jobs.List() {
		if j.UserID != user {
			continue
		}
		j.Result = nil
		out = append(out, view(&j))
	}
	response.JSON(w, http.StatusOK, out)
}

// CancelJob handles DELETE /backtest-watchlist/{job_id}.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.ownedJob(r)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if j, err = h.jobs.Cancel(j.ID); err != nil {
		response.Fail(w, err)
		return
	}
	h.logger.Info("batch job cancelled", zap.String("job_id", j.ID))
	response.JSON(w, http.StatusOK, view(j))
}
