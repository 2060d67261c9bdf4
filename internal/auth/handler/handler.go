package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intakehub/internal/auth/models"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	"intakehub/pkg/platform/httputil"
	request "intakehub/pkg/platform/middleware/request"
)

// Service defines the authentication operations exposed over HTTP.
type Service interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*models.Profile, error)
	UpdateProfile(ctx context.Context, req models.UpdateProfileRequest) (*models.Profile, error)
	CreateUser(ctx context.Context, actor policy.Actor, req models.CreateUserRequest) (*models.Profile, error)
}

// Handler serves login, logout and staff account management.
type Handler struct {
	svc         Service
	logger      *slog.Logger
	requireAuth func(http.Handler) http.Handler
	loginGuard  func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithLoginGuard wraps the login route, typically with a rate limiter.
func WithLoginGuard(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.loginGuard = mw
	}
}

// New creates an auth Handler. requireAuth guards every route but login.
func New(svc Service, logger *slog.Logger, requireAuth func(http.Handler) http.Handler, opts ...Option) *Handler {
	h := &Handler{
		svc:         svc,
		logger:      logger,
		requireAuth: requireAuth,
		loginGuard:  func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the auth routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(h.loginGuard, request.ContentTypeJSON).Post("/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/auth/logout", h.handleLogout)
		r.Get("/auth/me", h.handleMe)
		r.With(request.ContentTypeJSON).Patch("/auth/me", h.handleUpdateProfile)
		r.With(request.ContentTypeJSON).Post("/api/v1/admin/users", h.handleCreateUser)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.svc.Login(ctx, req)
	if err != nil {
		h.logFailure(ctx, "login failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.svc.Logout(ctx); err != nil {
		h.logFailure(ctx, "logout failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.svc.Me(ctx)
	if err != nil {
		h.logFailure(ctx, "failed to load profile", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.UpdateProfileRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	profile, err := h.svc.UpdateProfile(ctx, req)
	if err != nil {
		h.logFailure(ctx, "failed to update profile", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.CreateUserRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	profile, err := h.svc.CreateUser(ctx, policy.ActorFrom(ctx), req)
	if err != nil {
		h.logFailure(ctx, "failed to create user", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, profile)
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", request.GetRequestID(ctx),
		"error", err,
	)
}
