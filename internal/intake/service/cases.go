package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"intakehub/internal/intake/models"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
	"intakehub/pkg/requestcontext"
)

const (
	maxExternalRefLen = 100
	maxNotesLen       = 1000
	maxOutcomeLen     = 255
)

// ProcessResult reports what MarkProcessed did.
type ProcessResult struct {
	CaseID      uuid.UUID `json:"case_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Purged      bool      `json:"purged"`
}

// MarkProcessed records that a case was transferred to the external system.
// A record can be processed once. With PurgeOnProcess the sensitive record
// is destroyed in the same transaction.
func (s *Service) MarkProcessed(ctx context.Context, caseID uuid.UUID, externalRef, notes string) (*ProcessResult, error) {
	externalRef = strings.TrimSpace(externalRef)
	var fields []dErrors.FieldError
	if externalRef == "" || len(externalRef) > maxExternalRefLen {
		fields = append(fields, dErrors.FieldError{Field: "external_ref", Message: "is required and must be at most 100 characters"})
	}
	if len(notes) > maxNotesLen {
		fields = append(fields, dErrors.FieldError{Field: "notes", Message: "must be at most 1000 characters"})
	}
	if len(fields) > 0 {
		return nil, dErrors.Validation("invalid processing request", fields...)
	}

	actor := policy.ActorFrom(ctx)
	agg, err := s.store.FindAggregate(ctx, caseID)
	if err != nil {
		return nil, translate(err, "case not found")
	}
	if err := s.requireFull(ctx, actor, policy.KindSensitiveWrite, agg); err != nil {
		return nil, err
	}

	var sealedNotes []byte
	if notes != "" {
		sealedNotes, err = s.cipher.Encrypt(ctx, notes)
		if err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx).UTC()
	purge := s.cfg.PurgeOnProcess
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.MarkProcessed(ctx, caseID, now, actor.ID, externalRef, sealedNotes); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Entry{
			ActorID:      actor.ID,
			ActorRole:    string(actor.Role),
			Action:       audit.ActionProcess,
			ResourceType: audit.ResourceIntake,
			ResourceID:   caseID.String(),
			DistrictCode: agg.DistrictCode,
			Detail:       map[string]string{"has_notes": strconv.FormatBool(notes != "")},
		}); err != nil {
			return err
		}
		if !purge {
			return nil
		}
		if err := s.store.DeleteSensitive(ctx, caseID); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:      actor.ID,
			ActorRole:    string(actor.Role),
			Action:       audit.ActionPurge,
			ResourceType: audit.ResourceIntake,
			ResourceID:   caseID.String(),
			DistrictCode: agg.DistrictCode,
			Detail:       map[string]string{"reason": "processed"},
		})
	})
	if err != nil {
		return nil, translate(err, "intake record not found or already purged")
	}

	if purge {
		s.deleteDocuments(ctx, caseID)
		s.metrics.AddPurged("processed", 1)
	}
	s.metrics.IncProcessed()
	s.logger.InfoContext(ctx, "intake processed",
		"case_id", caseID,
		"actor_id", actor.ID,
		"purged", purge,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &ProcessResult{CaseID: caseID, ProcessedAt: now, Purged: purge}, nil
}

// UpdateStatus moves a case along pending → active → completed, or to
// cancelled from either open state.
func (s *Service) UpdateStatus(ctx context.Context, caseID uuid.UUID, next models.Status) (*models.AggregateRecord, error) {
	if _, ok := models.ParseStatus(string(next)); !ok {
		return nil, dErrors.Validation("invalid status", dErrors.FieldError{Field: "status", Message: "must be one of: pending active completed cancelled"})
	}
	actor := policy.ActorFrom(ctx)
	agg, err := s.authorizeCaseWrite(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	if !agg.Status.CanTransitionTo(next) {
		return nil, dErrors.New(dErrors.CodeConflict, "cannot change status from "+string(agg.Status)+" to "+string(next))
	}

	now := requestcontext.Now(ctx).UTC()
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateStatus(ctx, caseID, agg.Status, next, now); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:      actor.ID,
			ActorRole:    string(actor.Role),
			Action:       audit.ActionUpdate,
			ResourceType: audit.ResourceCase,
			ResourceID:   caseID.String(),
			DistrictCode: agg.DistrictCode,
			Detail:       map[string]string{"from": string(agg.Status), "to": string(next)},
		})
	})
	if err != nil {
		return nil, translate(err, "case not found")
	}
	agg.Status = next
	agg.UpdatedAt = now
	return agg, nil
}

// AddSession appends a delivered session and bumps the case's session count.
func (s *Service) AddSession(ctx context.Context, caseID uuid.UUID, date time.Time, sessionType string) (*models.Session, error) {
	sessionType = strings.ToLower(strings.TrimSpace(sessionType))
	var fields []dErrors.FieldError
	if !models.ValidSessionType(sessionType) {
		fields = append(fields, dErrors.FieldError{Field: "session_type", Message: "must be one of: individual group family"})
	}
	if date.IsZero() {
		fields = append(fields, dErrors.FieldError{Field: "session_date", Message: "is required"})
	}
	if len(fields) > 0 {
		return nil, dErrors.Validation("invalid session", fields...)
	}

	actor := policy.ActorFrom(ctx)
	agg, err := s.authorizeCaseWrite(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	if agg.Status == models.StatusCancelled {
		return nil, dErrors.New(dErrors.CodeConflict, "case is cancelled")
	}

	session := &models.Session{
		ID:          uuid.New(),
		CaseID:      caseID,
		SessionDate: models.DateOnly(date),
		SessionType: sessionType,
		CreatedBy:   actor.ID,
		CreatedAt:   requestcontext.Now(ctx).UTC(),
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.AddSession(ctx, session); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:      actor.ID,
			ActorRole:    string(actor.Role),
			Action:       audit.ActionUpdate,
			ResourceType: audit.ResourceCase,
			ResourceID:   caseID.String(),
			DistrictCode: agg.DistrictCode,
			Detail:       map[string]string{"session_type": sessionType},
		})
	})
	if err != nil {
		return nil, translate(err, "case not found")
	}
	return session, nil
}

// AddOutcome appends an aggregate outcome measurement.
func (s *Service) AddOutcome(ctx context.Context, caseID uuid.UUID, outcomeType, value string, measured time.Time) (*models.Outcome, error) {
	outcomeType = strings.TrimSpace(outcomeType)
	value = strings.TrimSpace(value)
	var fields []dErrors.FieldError
	if outcomeType == "" || len(outcomeType) > 100 {
		fields = append(fields, dErrors.FieldError{Field: "outcome_type", Message: "is required and must be at most 100 characters"})
	}
	if value == "" || len(value) > maxOutcomeLen {
		fields = append(fields, dErrors.FieldError{Field: "outcome_value", Message: "is required and must be at most 255 characters"})
	}
	if measured.IsZero() {
		fields = append(fields, dErrors.FieldError{Field: "measured_date", Message: "is required"})
	}
	if len(fields) > 0 {
		return nil, dErrors.Validation("invalid outcome", fields...)
	}

	actor := policy.ActorFrom(ctx)
	agg, err := s.authorizeCaseWrite(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}

	outcome := &models.Outcome{
		ID:           uuid.New(),
		CaseID:       caseID,
		OutcomeType:  outcomeType,
		OutcomeValue: value,
		MeasuredDate: models.DateOnly(measured),
		CreatedBy:    actor.ID,
		CreatedAt:    requestcontext.Now(ctx).UTC(),
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.AddOutcome(ctx, outcome); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:      actor.ID,
			ActorRole:    string(actor.Role),
			Action:       audit.ActionUpdate,
			ResourceType: audit.ResourceCase,
			ResourceID:   caseID.String(),
			DistrictCode: agg.DistrictCode,
			Detail:       map[string]string{"outcome_type": outcomeType},
		})
	})
	if err != nil {
		return nil, translate(err, "case not found")
	}
	return outcome, nil
}

// ListQueue lists intake queue entries without decrypting anything.
func (s *Service) ListQueue(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error) {
	actor := policy.ActorFrom(ctx)
	if policy.Authorize(actor, policy.Resource{Kind: policy.KindSensitiveRead}) != policy.Full {
		return nil, dErrors.New(dErrors.CodeForbidden, "full-access administrator role required")
	}
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	items, err := s.store.ListQueue(ctx, filter)
	if err != nil {
		return nil, translate(err, "queue unavailable")
	}

	processed := "any"
	if filter.Processed != nil {
		processed = strconv.FormatBool(*filter.Processed)
	}
	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actor.ID,
		ActorRole:    string(actor.Role),
		Action:       audit.ActionView,
		ResourceType: audit.ResourceIntake,
		ResourceID:   "queue",
		Detail: map[string]string{
			"processed": processed,
			"offset":    strconv.Itoa(filter.Offset),
			"limit":     strconv.Itoa(filter.Limit),
			"count":     strconv.Itoa(len(items)),
		},
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unable to record queue access; request refused")
	}
	return items, nil
}

func (s *Service) authorizeCaseWrite(ctx context.Context, actor policy.Actor, caseID uuid.UUID) (*models.AggregateRecord, error) {
	agg, err := s.store.FindAggregate(ctx, caseID)
	if err != nil {
		return nil, translate(err, "case not found")
	}
	decision := policy.Authorize(actor, policy.Resource{
		Kind:         policy.KindAggregateWrite,
		DistrictCode: agg.DistrictCode,
		SchoolCode:   agg.SchoolCode,
	})
	if decision == policy.Deny {
		return nil, dErrors.New(dErrors.CodeForbidden, "case updates require a full-access administrator")
	}
	return agg, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}
