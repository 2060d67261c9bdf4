package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intakehub/internal/org/models"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	"intakehub/pkg/platform/httputil"
	request "intakehub/pkg/platform/middleware/request"
)

// Service defines the organization operations exposed over HTTP.
type Service interface {
	ListActive(ctx context.Context) ([]models.DistrictWithSchools, error)
	CreateDistrict(ctx context.Context, actor policy.Actor, code, name, region string) (*models.District, error)
	CreateSchool(ctx context.Context, actor policy.Actor, code, districtCode, name string, gradeBands []string) (*models.School, error)
}

// Handler serves the organization directory.
type Handler struct {
	svc         Service
	logger      *slog.Logger
	requireAuth func(http.Handler) http.Handler
}

// New creates an organization Handler. requireAuth guards the admin routes.
func New(svc Service, logger *slog.Logger, requireAuth func(http.Handler) http.Handler) *Handler {
	return &Handler{svc: svc, logger: logger, requireAuth: requireAuth}
}

// Register registers the organization routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/v1/organizations", h.handleList)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(request.ContentTypeJSON)
		r.Post("/api/v1/admin/districts", h.handleCreateDistrict)
		r.Post("/api/v1/admin/schools", h.handleCreateSchool)
	})
}

type createDistrictRequest struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

type createSchoolRequest struct {
	Code         string   `json:"code"`
	DistrictCode string   `json:"district_code"`
	Name         string   `json:"name"`
	GradeBands   []string `json:"grade_bands"`
}

type listResponse struct {
	Districts []models.DistrictWithSchools `json:"districts"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	districts, err := h.svc.ListActive(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list organizations",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Districts: districts})
}

func (h *Handler) handleCreateDistrict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createDistrictRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.svc.CreateDistrict(ctx, policy.ActorFrom(ctx), req.Code, req.Name, req.Region)
	if err != nil {
		h.logFailure(ctx, "failed to create district", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleCreateSchool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createSchoolRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sc, err := h.svc.CreateSchool(ctx, policy.ActorFrom(ctx), req.Code, req.DistrictCode, req.Name, req.GradeBands)
	if err != nil {
		h.logFailure(ctx, "failed to create school", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sc)
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
