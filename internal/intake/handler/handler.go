package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"intakehub/internal/intake/models"
	"intakehub/internal/intake/service"
	dErrors "intakehub/pkg/domain-errors"
	"intakehub/pkg/platform/httputil"
	request "intakehub/pkg/platform/middleware/request"
)

// maxSubmitBytes leaves room for two base64 card images.
const maxSubmitBytes = 16 << 20

// Service defines the intake operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, payload *models.IntakePayload) (*service.SubmitResult, error)
	Status(ctx context.Context, caseID uuid.UUID) (*service.StatusView, error)
	ViewPHI(ctx context.Context, caseID uuid.UUID) (*service.PHIView, error)
	Document(ctx context.Context, caseID uuid.UUID, side string) ([]byte, string, error)
	MarkProcessed(ctx context.Context, caseID uuid.UUID, externalRef, notes string) (*service.ProcessResult, error)
	UpdateStatus(ctx context.Context, caseID uuid.UUID, next models.Status) (*models.AggregateRecord, error)
	AddSession(ctx context.Context, caseID uuid.UUID, date time.Time, sessionType string) (*models.Session, error)
	AddOutcome(ctx context.Context, caseID uuid.UUID, outcomeType, value string, measured time.Time) (*models.Outcome, error)
	ListQueue(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error)
	Summary(ctx context.Context, filter models.CaseFilter) (*models.Summary, error)
	ListCases(ctx context.Context, filter models.CaseFilter) (*service.CasePage, error)
	Export(ctx context.Context, filter models.CaseFilter) ([]byte, error)
}

// Handler serves the public intake form, the administrator intake queue and
// the aggregate dashboard.
type Handler struct {
	svc         Service
	logger      *slog.Logger
	requireAuth func(http.Handler) http.Handler
	submitGuard func(http.Handler) http.Handler
	debug       bool
}

type Option func(*Handler)

// WithSubmitGuard wraps the public submit route, typically with a rate limiter.
func WithSubmitGuard(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.submitGuard = mw
	}
}

// WithDebugErrors exposes internal error descriptions in responses.
func WithDebugErrors(debug bool) Option {
	return func(h *Handler) {
		h.debug = debug
	}
}

// New creates an intake Handler. requireAuth guards admin and dashboard routes.
func New(svc Service, logger *slog.Logger, requireAuth func(http.Handler) http.Handler, opts ...Option) *Handler {
	h := &Handler{
		svc:         svc,
		logger:      logger,
		requireAuth: requireAuth,
		submitGuard: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the intake routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.With(h.submitGuard).Post("/api/v1/intake/submit", h.handleSubmit)
		r.Get("/api/v1/intake/status/{caseID}", h.handleStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(request.ContentTypeJSON)

		r.Get("/api/v1/admin/intake/queue", h.handleQueue)
		r.Get("/api/v1/admin/intake/{caseID}/phi", h.handlePHI)
		r.Get("/api/v1/admin/intake/{caseID}/documents/{side}", h.handleDocument)
		r.Post("/api/v1/admin/intake/{caseID}/process", h.handleProcess)

		r.Patch("/api/v1/admin/cases/{caseID}/status", h.handleUpdateStatus)
		r.Post("/api/v1/admin/cases/{caseID}/sessions", h.handleAddSession)
		r.Post("/api/v1/admin/cases/{caseID}/outcomes", h.handleAddOutcome)

		r.Get("/api/v1/dashboard/summary", h.handleSummary)
		r.Get("/api/v1/dashboard/cases", h.handleCases)
		r.Get("/api/v1/dashboard/export.xlsx", h.handleExport)
	})
}

type submitResponse struct {
	CaseID  uuid.UUID     `json:"case_id"`
	Status  models.Status `json:"status"`
	Message string        `json:"message"`
}

type processRequest struct {
	ExternalRef string `json:"external_ref"`
	Notes       string `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type sessionRequest struct {
	SessionDate string `json:"session_date"`
	SessionType string `json:"session_type"`
}

type outcomeRequest struct {
	OutcomeType  string `json:"outcome_type"`
	OutcomeValue string `json:"outcome_value"`
	MeasuredDate string `json:"measured_date"`
}

type queueResponse struct {
	Items []models.QueueItem `json:"items"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)

	var payload models.IntakePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.svc.Submit(ctx, &payload)
	if err != nil {
		h.logFailure(ctx, "intake submission failed", err)
		h.writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "intake submitted",
		"case_id", res.CaseID,
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, submitResponse{
		CaseID:  res.CaseID,
		Status:  res.Status,
		Message: "Your referral has been received. Keep your case ID to check its status.",
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := service.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.svc.Status(ctx, id)
	if err != nil {
		h.logFailure(ctx, "status lookup failed", err)
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handlePHI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := service.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.svc.ViewPHI(ctx, id)
	if err != nil {
		h.logFailure(ctx, "sensitive record read failed", err)
		h.writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := service.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	body, contentType, err := h.svc.Document(ctx, id, chi.URLParam(r, "side"))
	if err != nil {
		h.logFailure(ctx, "document read failed", err)
		h.writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := service.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req processRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.svc.MarkProcessed(ctx, id, req.ExternalRef, req.Notes)
	if err != nil {
		h.logFailure(ctx, "failed to mark intake processed", err)
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var filter models.QueueFilter
	if v := q.Get("processed"); v != "" {
		processed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, dErrors.Validation("invalid filter", dErrors.FieldError{Field: "processed", Message: "must be true or false"}))
			return
		}
		filter.Processed = &processed
	}
	var err error
	if filter.Limit, filter.Offset, err = pagination(q.Get("limit"), q.Get("offset")); err != nil {
		h.writeError(w, err)
		return
	}
	items, err := h.svc.ListQueue(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "failed to list intake queue", err)
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, queueResponse{Items: items})
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := service.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req statusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.svc.UpdateStatus(ctx, id, models.Status(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		h.logFailure(ctx, "failed to update case status", err)
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAddSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := service.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req sessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	date, err := parseDate("session_date", req.SessionDate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	session, err := h.svc.AddSession(ctx, id, date, req.SessionType)
	if err != nil {
		h.logFailure(ctx, "failed to add session", err)
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleAddOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := service.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req outcomeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	measured, err := parseDate("measured_date", req.MeasuredDate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	outcome, err := h.svc.AddOutcome(ctx, id, req.OutcomeType, req.OutcomeValue, measured)
	if err != nil {
		h.logFailure(ctx, "failed to add outcome", err)
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, outcome)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := caseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sum, err := h.svc.Summary(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "failed to build dashboard summary", err)
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := caseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, err := h.svc.ListCases(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "failed to list cases", err)
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := caseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body, err := h.svc.Export(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "failed to export cases", err)
		h.writeError(w, err)
		return
	}
	name := "cases-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func caseFilter(r *http.Request) (models.CaseFilter, error) {
	q := r.URL.Query()
	filter := models.CaseFilter{
		DistrictCode: q.Get("district_code"),
		SchoolCode:   q.Get("school_code"),
		Status:       models.Status(strings.ToLower(q.Get("status"))),
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &filter.From},
		{"to", &filter.To},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := parseDate(p.name, raw)
		if err != nil {
			return filter, err
		}
		*p.dst = &d
	}
	var err error
	filter.Limit, filter.Offset, err = pagination(q.Get("limit"), q.Get("offset"))
	return filter, err
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, dErrors.Validation("invalid date", dErrors.FieldError{Field: field, Message: "must be in YYYY-MM-DD format"})
	}
	return d, nil
}

func pagination(limitRaw, offsetRaw string) (int, int, error) {
	var limit, offset int
	var fields []dErrors.FieldError
	if limitRaw != "" {
		n, err := strconv.Atoi(limitRaw)
		if err != nil || n < 0 {
			fields = append(fields, dErrors.FieldError{Field: "limit", Message: "must be a non-negative integer"})
		}
		limit = n
	}
	if offsetRaw != "" {
		n, err := strconv.Atoi(offsetRaw)
		if err != nil || n < 0 {
			fields = append(fields, dErrors.FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
		offset = n
	}
	if len(fields) > 0 {
		return 0, 0, dErrors.Validation("invalid pagination", fields...)
	}
	return limit, offset, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if h.debug {
		httputil.WriteErrorDebug(w, err)
		return
	}
	httputil.WriteError(w, err)
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeEncryption, dErrors.CodeDecryption:
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", request.GetRequestID(ctx),
		"error", err,
	)
}
