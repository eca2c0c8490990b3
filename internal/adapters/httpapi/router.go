// Package httpapi is the operator surface of the sign-in engine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hearthealt/anyrouter-autosign/internal/app/orchestrator"
	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/logger"
	"github.com/hearthealt/anyrouter-autosign/internal/storage/signlog"
)

// Runner is the part of the orchestrator the operator may drive by hand.
type Runner interface {
	TryRunBatch(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.BatchSummary, error)
	SignAccount(ctx context.Context, accountID int64) (model.SignOutcome, error)
	SyncTokens(ctx context.Context, accountID int64) ([]model.APIToken, error)
	PlatformStatus(ctx context.Context) (map[string]any, error)
}

type SchedulerControl interface {
	Reschedule(ctx context.Context) error
	Status(ctx context.Context) (orchestrator.SchedulerStatus, error)
}

type Pinger interface {
	Ping() error
}

// Deps groups what NewRouter needs. Metrics may be nil.
type Deps struct {
	Runner    Runner
	Scheduler SchedulerControl
	Store     Pinger
	Metrics   http.Handler
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	runner    Runner
	scheduler SchedulerControl
	store     Pinger
	log       *logger.ClassLogger
}

func NewRouter(deps Deps) http.Handler {
	h := &handler{runner: deps.Runner, scheduler: deps.Scheduler, store: deps.Store}
	h.log = logger.NewLogger(h, nil)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/sign/batch", h.runBatch)
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Post("/sign", h.signAccount)
			r.Post("/tokens/sync", h.syncTokens)
		})
		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/reload", h.reload)
			r.Get("/status", h.schedulerStatus)
		})
		r.Get("/status", h.platformStatus)
	})
	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/sign/batch
func (h *handler) runBatch(w http.ResponseWriter, r *http.Request) {
	// a dropped connection must not cut a batch short
	ctx := context.WithoutCancel(r.Context())
	summary, err := h.runner.TryRunBatch(ctx, orchestrator.TriggerManual)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// POST /api/accounts/{id}/sign
func (h *handler) signAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	outcome, err := h.runner.SignAccount(context.WithoutCancel(r.Context()), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{
		AccountID:   outcome.AccountID,
		Kind:        string(outcome.Kind),
		RewardQuota: outcome.RewardQuota,
		Message:     outcome.Message,
		SignedAt:    outcome.SignedAt,
	})
}

// POST /api/accounts/{id}/tokens/sync
func (h *handler) syncTokens(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	tokens, err := h.runner.SyncTokens(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if tokens == nil {
		tokens = []model.APIToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(tokens), "tokens": tokens})
}

func (h *handler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Reschedule(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.schedulerStatus(w, r)
}

func (h *handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.scheduler.Status(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) platformStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.runner.PlatformStatus(r.Context())
	if err != nil {
		h.log.Warn("platform status: " + err.Error())
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, signlog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid account id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
