package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"intakehub/internal/retention"
	"intakehub/pkg/platform/httputil"
	request "intakehub/pkg/platform/middleware/request"
	"intakehub/pkg/requestcontext"
)

// Sweeper runs an on-demand retention sweep for the caller in ctx.
type Sweeper interface {
	RequestSweep(ctx context.Context) (*retention.Result, error)
}

// ScheduledSweeper runs a sweep as the system actor.
type ScheduledSweeper interface {
	Sweep(ctx context.Context, now time.Time) (*retention.Result, error)
}

// Handler exposes the manual sweep trigger for administrators and, when
// configured, a token-guarded trigger for an external scheduler.
type Handler struct {
	sweeper        Sweeper
	logger         *slog.Logger
	requireAuth    func(http.Handler) http.Handler
	scheduled      ScheduledSweeper
	schedulerGuard func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithScheduler registers POST /api/v1/internal/retention/sweep behind guard.
func WithScheduler(s ScheduledSweeper, guard func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.scheduled = s
		h.schedulerGuard = guard
	}
}

func New(sweeper Sweeper, logger *slog.Logger, requireAuth func(http.Handler) http.Handler, opts ...Option) *Handler {
	h := &Handler{sweeper: sweeper, logger: logger, requireAuth: requireAuth}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/api/v1/admin/retention/sweep", h.handleSweep)
	})
	if h.scheduled != nil {
		r.With(h.schedulerGuard).Post("/api/v1/internal/retention/sweep", h.handleScheduledSweep)
	}
}

func (h *Handler) handleScheduledSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.scheduled.Sweep(ctx, requestcontext.Now(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "scheduled retention sweep failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.sweeper.RequestSweep(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "retention sweep request failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
