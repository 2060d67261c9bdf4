package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"intakehub/internal/intake/models"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
	"intakehub/pkg/platform/sentinel"
	"intakehub/pkg/requestcontext"
)

// StatusView is the public, non-sensitive view of a case.
type StatusView struct {
	CaseID        uuid.UUID     `json:"case_id"`
	Status        models.Status `json:"status"`
	SubmittedDate time.Time     `json:"submitted_date"`
	ProcessedDate *time.Time    `json:"processed_date"`
}

// PHIView is a fully decrypted sensitive record.
type PHIView struct {
	CaseID                 uuid.UUID      `json:"case_id"`
	DistrictCode           string         `json:"district_code"`
	SchoolCode             string         `json:"school_code"`
	Fields                 map[string]any `json:"fields"`
	ImmediateSafetyConcern bool           `json:"immediate_safety_concern"`
	AuthorizationConsent   bool           `json:"authorization_consent"`
	Processed              bool           `json:"processed"`
	ProcessedAt            *time.Time     `json:"processed_at"`
	ProcessedBy            string         `json:"processed_by,omitempty"`
	ExternalRef            string         `json:"external_ref,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	ExpiresAt              time.Time      `json:"expires_at"`
}

// listFields decrypt to JSON arrays.
var listFields = map[models.FieldName]bool{
	models.FieldServiceCategory:     true,
	models.FieldTypeOfServiceNeeded: true,
	models.FieldFamilyResources:     true,
	models.FieldReferralConcern:     true,
	models.FieldRace:                true,
	models.FieldEthnicity:           true,
}

// ParseCaseID parses an opaque case identifier. Malformed ids are reported
// as not found so callers cannot probe the id format.
func ParseCaseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	return id, nil
}

// Status returns the public processing status of a case. It reads only the
// aggregate record, so it keeps working after the sensitive record is purged.
func (s *Service) Status(ctx context.Context, caseID uuid.UUID) (*StatusView, error) {
	actor := policy.ActorFrom(ctx)
	if policy.Authorize(actor, policy.Resource{Kind: policy.KindCaseStatus}) == policy.Deny {
		return nil, dErrors.New(dErrors.CodeForbidden, "status check not permitted")
	}

	rec, err := s.store.FindAggregate(ctx, caseID)
	if err != nil {
		return nil, translate(err, "case not found")
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actorID(actor),
		ActorRole:    string(actor.Role),
		Action:       audit.ActionView,
		ResourceType: audit.ResourceCase,
		ResourceID:   caseID.String(),
		DistrictCode: rec.DistrictCode,
		Detail:       map[string]string{"view": "status"},
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit status check",
			"case_id", caseID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}

	return &StatusView{
		CaseID:        rec.CaseID,
		Status:        rec.Status,
		SubmittedDate: rec.CreatedAt,
		ProcessedDate: rec.ProcessedAt,
	}, nil
}

// ViewPHI returns every decrypted field of a case to a full-access
// administrator. The view_phi audit entry is persisted before anything is
// decrypted; if it cannot be written the read is refused. Decryption is all
// or nothing.
func (s *Service) ViewPHI(ctx context.Context, caseID uuid.UUID) (*PHIView, error) {
	ctx, span := s.tracer.Start(ctx, "intake.ViewPHI")
	defer span.End()
	span.SetAttributes(attribute.String("case_id", caseID.String()))

	view, err := s.viewPHI(ctx, caseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.IncSensitiveRead()
	return view, nil
}

func (s *Service) viewPHI(ctx context.Context, caseID uuid.UUID) (*PHIView, error) {
	actor := policy.ActorFrom(ctx)

	agg, err := s.store.FindAggregate(ctx, caseID)
	if err != nil {
		return nil, translate(err, "case not found")
	}
	if err := s.requireFull(ctx, actor, policy.KindSensitiveRead, agg); err != nil {
		return nil, err
	}

	rec, err := s.store.FindSensitive(ctx, caseID)
	if err != nil {
		return nil, translate(err, "intake record not found or already purged")
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actor.ID,
		ActorRole:    string(actor.Role),
		Action:       audit.ActionViewPHI,
		ResourceType: audit.ResourceIntake,
		ResourceID:   caseID.String(),
		DistrictCode: agg.DistrictCode,
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unable to record access; request refused")
	}

	fields := make(map[string]any, len(rec.Fields))
	for name, ct := range rec.Fields {
		plain, err := s.cipher.Decrypt(ctx, ct)
		if err != nil {
			s.logger.ErrorContext(ctx, "field decryption failed",
				"case_id", caseID,
				"field", name,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			return nil, dErrors.Wrap(err, dErrors.CodeDecryption, "failed to decrypt intake record")
		}
		fields[string(name)] = decodeField(name, plain)
	}

	return &PHIView{
		CaseID:                 caseID,
		DistrictCode:           agg.DistrictCode,
		SchoolCode:             agg.SchoolCode,
		Fields:                 fields,
		ImmediateSafetyConcern: rec.ImmediateSafetyConcern,
		AuthorizationConsent:   rec.AuthorizationConsent,
		Processed:              rec.Processed,
		ProcessedAt:            rec.ProcessedAt,
		ProcessedBy:            rec.ProcessedBy,
		ExternalRef:            rec.ExternalRef,
		CreatedAt:              rec.CreatedAt,
		ExpiresAt:              rec.ExpiresAt,
	}, nil
}

// Document returns one insurance card image for a case. It is audited the
// same way as ViewPHI.
func (s *Service) Document(ctx context.Context, caseID uuid.UUID, side string) ([]byte, string, error) {
	field := models.FieldInsuranceCardFront
	switch side {
	case "front":
	case "back":
		field = models.FieldInsuranceCardBack
	default:
		return nil, "", dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	if s.documents == nil {
		return nil, "", dErrors.New(dErrors.CodeNotFound, "document not found")
	}

	actor := policy.ActorFrom(ctx)
	agg, err := s.store.FindAggregate(ctx, caseID)
	if err != nil {
		return nil, "", translate(err, "case not found")
	}
	if err := s.requireFull(ctx, actor, policy.KindSensitiveRead, agg); err != nil {
		return nil, "", err
	}
	rec, err := s.store.FindSensitive(ctx, caseID)
	if err != nil {
		return nil, "", translate(err, "intake record not found or already purged")
	}
	ct, ok := rec.Fields[field]
	if !ok {
		return nil, "", dErrors.New(dErrors.CodeNotFound, "document not found")
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actor.ID,
		ActorRole:    string(actor.Role),
		Action:       audit.ActionViewPHI,
		ResourceType: audit.ResourceIntake,
		ResourceID:   caseID.String(),
		DistrictCode: agg.DistrictCode,
		Detail:       map[string]string{"document": string(field)},
	}); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "unable to record access; request refused")
	}

	key, err := s.cipher.Decrypt(ctx, ct)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeDecryption, "failed to decrypt document reference")
	}
	body, contentType, err := s.documents.Get(ctx, key)
	if err != nil {
		return nil, "", translate(err, "document not found")
	}
	s.metrics.IncSensitiveRead()
	return body, contentType, nil
}

// requireFull enforces a Full decision. Denials are audited best-effort.
func (s *Service) requireFull(ctx context.Context, actor policy.Actor, kind policy.Kind, agg *models.AggregateRecord) error {
	decision := policy.Authorize(actor, policy.Resource{
		Kind:         kind,
		DistrictCode: agg.DistrictCode,
		SchoolCode:   agg.SchoolCode,
	})
	if decision == policy.Full {
		return nil
	}
	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actorID(actor),
		ActorRole:    string(actor.Role),
		Action:       audit.ActionDenied,
		ResourceType: audit.ResourceIntake,
		ResourceID:   agg.CaseID.String(),
		DistrictCode: agg.DistrictCode,
		Detail:       map[string]string{"requested": kind.String(), "decision": decision.String()},
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit access denial",
			"case_id", agg.CaseID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	return dErrors.New(dErrors.CodeForbidden, "full-access administrator role required")
}

func decodeField(name models.FieldName, plain string) any {
	if !listFields[name] {
		return plain
	}
	var list []string
	if err := json.Unmarshal([]byte(plain), &list); err != nil {
		return plain
	}
	return list
}

// translate maps store sentinels onto domain errors.
func translate(err error, notFoundMsg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "conflicting change")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, "case is not in a state that allows this change")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "backing service unavailable")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
}
