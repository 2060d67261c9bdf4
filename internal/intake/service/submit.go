package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"intakehub/internal/intake/documents"
	"intakehub/internal/intake/models"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
	"intakehub/pkg/requestcontext"
)

// SubmitResult is returned to the public caller.
type SubmitResult struct {
	CaseID uuid.UUID     `json:"case_id"`
	Status models.Status `json:"status"`
}

type cardUpload struct {
	field       models.FieldName
	side        string
	contentType string
	body        []byte
}

// Submit validates a public intake, then writes the aggregate record, the
// encrypted sensitive record and the create audit entry in one transaction.
// Operator notification runs after commit and never fails the submission.
func (s *Service) Submit(ctx context.Context, payload *models.IntakePayload) (*SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "intake.Submit")
	defer span.End()

	res, err := s.submit(ctx, payload)
	if err != nil {
		s.metrics.IncSubmission(submissionOutcome(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.IncSubmission("accepted")
	span.SetAttributes(attribute.String("case_id", res.CaseID.String()))
	return res, nil
}

func (s *Service) submit(ctx context.Context, payload *models.IntakePayload) (*SubmitResult, error) {
	actor := policy.ActorFrom(ctx)
	if policy.Authorize(actor, policy.Resource{Kind: policy.KindSubmission}) == policy.Deny {
		return nil, dErrors.New(dErrors.CodeForbidden, "submission not permitted")
	}

	payload.Normalize()
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	cards, err := s.decodeCards(payload)
	if err != nil {
		return nil, err
	}

	if s.captcha != nil {
		if err := s.captcha.Verify(ctx, payload.CaptchaToken, requestcontext.ClientIP(ctx)); err != nil {
			return nil, err
		}
	}

	district, school, err := s.orgs.Resolve(ctx, payload.DistrictCode, payload.SchoolCode)
	if err != nil {
		return nil, err
	}

	fingerprint, err := s.claimFingerprint(ctx, payload)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	caseID := uuid.New()

	aggregate := &models.AggregateRecord{
		CaseID:           caseID,
		DistrictCode:     district.Code,
		SchoolCode:       school.Code,
		GradeBand:        models.GradeBand(payload.Student.Grade),
		ReferralSource:   payload.ReferralSource,
		OptInType:        payload.OptInType(),
		ReferralDate:     models.DateOnly(now),
		FiscalPeriod:     models.FiscalPeriod(now),
		InsurancePresent: payload.HasInsurance(),
		Status:           models.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	committed := false
	var uploaded bool
	defer func() {
		if committed {
			return
		}
		if uploaded {
			s.deleteDocuments(ctx, caseID)
		}
		if fingerprint != "" && s.dedupe != nil {
			if err := s.dedupe.Release(ctx, fingerprint); err != nil {
				s.logger.WarnContext(ctx, "failed to release duplicate fingerprint",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
			}
		}
	}()

	plain := sensitiveValues(payload)
	if len(cards) > 0 {
		uploaded = true
		for _, c := range cards {
			key := documentKey(caseID, c.side, c.contentType)
			if err := s.documents.Put(ctx, key, c.contentType, c.body); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store insurance card")
			}
			plain[c.field] = key
		}
	}

	fields, err := s.encryptAll(ctx, plain)
	if err != nil {
		return nil, err
	}

	sensitive := &models.SensitiveRecord{
		CaseID:                 caseID,
		Fields:                 fields,
		ImmediateSafetyConcern: payload.SafetyConcern(),
		AuthorizationConsent:   payload.AuthorizationConsent,
		CreatedAt:              now,
		ExpiresAt:              now.Add(s.cfg.RetentionWindow),
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateAggregate(ctx, aggregate); err != nil {
			return err
		}
		if err := s.store.CreateSensitive(ctx, sensitive); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Entry{
			ActorID:      actorID(actor),
			ActorRole:    string(actor.Role),
			Action:       audit.ActionCreate,
			ResourceType: audit.ResourceIntake,
			ResourceID:   caseID.String(),
			DistrictCode: district.Code,
			Detail: map[string]string{
				"school_code":   school.Code,
				"opt_in_type":   string(aggregate.OptInType),
				"has_insurance": strconv.FormatBool(aggregate.InsurancePresent),
			},
		})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist intake submission",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save submission")
	}
	committed = true

	s.notify(ctx, NewIntakeEvent{
		CaseID:        caseID,
		DistrictCode:  district.Code,
		SchoolCode:    school.Code,
		OptInType:     string(aggregate.OptInType),
		SafetyConcern: sensitive.ImmediateSafetyConcern,
		SubmittedAt:   now,
	})

	return &SubmitResult{CaseID: caseID, Status: models.StatusPending}, nil
}

func (s *Service) claimFingerprint(ctx context.Context, p *models.IntakePayload) (string, error) {
	if s.dedupe == nil {
		return "", nil
	}
	fp, err := s.cipher.Fingerprint(ctx,
		strings.ToLower(strings.TrimSpace(p.Student.FirstName)),
		strings.ToLower(strings.TrimSpace(p.Student.LastName)),
		strings.TrimSpace(p.Student.DateOfBirth),
		strings.ToLower(strings.TrimSpace(p.Parent.Email)),
	)
	if err != nil {
		return "", err
	}
	fresh, err := s.dedupe.Claim(ctx, fp, s.cfg.DuplicateWindow)
	if err != nil {
		// An unreachable cache skips duplicate detection.
		s.logger.WarnContext(ctx, "duplicate check unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return "", nil
	}
	if !fresh {
		return "", dErrors.New(dErrors.CodeConflict, "a similar submission was received recently; please wait before submitting again")
	}
	return fp, nil
}

func (s *Service) notify(ctx context.Context, event NewIntakeEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyNewIntake(ctx, event); err != nil {
		s.metrics.IncNotificationFailure()
		s.logger.WarnContext(ctx, "operator notification failed",
			"case_id", event.CaseID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

// encryptAll encrypts every value independently. Absent optional fields are
// simply not stored.
func (s *Service) encryptAll(ctx context.Context, plain map[models.FieldName]string) (map[models.FieldName][]byte, error) {
	out := make(map[models.FieldName][]byte, len(plain))
	for name, value := range plain {
		ct, err := s.cipher.Encrypt(ctx, value)
		if err != nil {
			s.logger.ErrorContext(ctx, "field encryption failed",
				"field", name,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			if dErrors.HasCode(err, dErrors.CodeEncryption) {
				return nil, err
			}
			return nil, dErrors.Wrap(err, dErrors.CodeEncryption, "failed to protect submission")
		}
		out[name] = ct
	}
	return out, nil
}

func sensitiveValues(p *models.IntakePayload) map[models.FieldName]string {
	out := map[models.FieldName]string{
		models.FieldStudentFirstName:    p.Student.FirstName,
		models.FieldStudentLastName:     p.Student.LastName,
		models.FieldStudentFullName:     p.Student.FullName,
		models.FieldDateOfBirth:         strings.TrimSpace(p.Student.DateOfBirth),
		models.FieldParentName:          p.Parent.Name,
		models.FieldParentEmail:         p.Parent.Email,
		models.FieldParentPhone:         p.Parent.Phone,
		models.FieldSeverityOfConcern:   p.ServiceNeeds.SeverityOfConcern,
		models.FieldServiceCategory:     jsonList(p.ServiceNeeds.ServiceCategory),
		models.FieldTypeOfServiceNeeded: jsonList(p.ServiceNeeds.TypeOfServiceNeeded),
	}
	optional := map[models.FieldName]string{
		models.FieldStudentID:            p.Student.StudentID,
		models.FieldServiceCategoryOther: p.ServiceNeeds.ServiceCategoryOther,
		models.FieldSexAtBirth:           p.Demographics.SexAtBirth,
		models.FieldRaceOther:            p.Demographics.RaceOther,
	}
	if p.HasInsurance() {
		optional[models.FieldInsuranceCompany] = p.Insurance.InsuranceCompany
		optional[models.FieldPolicyholderName] = p.Insurance.PolicyholderName
		optional[models.FieldRelationshipToStudent] = p.Insurance.RelationshipToStudent
		optional[models.FieldMemberID] = p.Insurance.MemberID
		optional[models.FieldGroupNumber] = p.Insurance.GroupNumber
	}
	for name, v := range optional {
		if strings.TrimSpace(v) != "" {
			out[name] = v
		}
	}
	lists := map[models.FieldName][]string{
		models.FieldFamilyResources: p.ServiceNeeds.FamilyResources,
		models.FieldReferralConcern: p.ServiceNeeds.ReferralConcern,
		models.FieldRace:            p.Demographics.Race,
		models.FieldEthnicity:       p.Demographics.Ethnicity,
	}
	for name, v := range lists {
		if len(v) > 0 {
			out[name] = jsonList(v)
		}
	}
	return out
}

func jsonList(v []string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

var allowedCardTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// decodeCards turns the optional base64 card images into uploads, checking
// size and content type before anything is written.
func (s *Service) decodeCards(p *models.IntakePayload) ([]cardUpload, error) {
	var (
		out    []cardUpload
		fields []dErrors.FieldError
	)
	for _, c := range []struct {
		raw   string
		field models.FieldName
		side  string
	}{
		{p.Insurance.CardFront, models.FieldInsuranceCardFront, "front"},
		{p.Insurance.CardBack, models.FieldInsuranceCardBack, "back"},
	} {
		if strings.TrimSpace(c.raw) == "" {
			continue
		}
		path := "insurance_information." + string(c.field)
		body, err := decodeImage(c.raw)
		if err != nil {
			fields = append(fields, dErrors.FieldError{Field: path, Message: "must be a base64 encoded image"})
			continue
		}
		if len(body) > s.cfg.MaxCardBytes {
			fields = append(fields, dErrors.FieldError{Field: path, Message: fmt.Sprintf("must be at most %d bytes", s.cfg.MaxCardBytes)})
			continue
		}
		ct := http.DetectContentType(body)
		if _, ok := allowedCardTypes[ct]; !ok {
			fields = append(fields, dErrors.FieldError{Field: path, Message: "must be a JPEG or PNG image"})
			continue
		}
		out = append(out, cardUpload{field: c.field, side: c.side, contentType: ct, body: body})
	}
	if len(fields) > 0 {
		return nil, dErrors.Validation("submission failed validation", fields...)
	}
	if len(out) > 0 && s.documents == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "document uploads are not available")
	}
	return out, nil
}

func decodeImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		_, data, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, errors.New("malformed data url")
		}
		raw = data
	}
	return base64.StdEncoding.DecodeString(raw)
}

func documentKey(caseID uuid.UUID, side, contentType string) string {
	return documentPrefix(caseID) + "insurance_card_" + side + allowedCardTypes[contentType]
}

func documentPrefix(caseID uuid.UUID) string {
	return documents.CasePrefix(caseID)
}

func (s *Service) deleteDocuments(ctx context.Context, caseID uuid.UUID) {
	if s.documents == nil {
		return
	}
	if err := s.documents.DeletePrefix(ctx, documentPrefix(caseID)); err != nil {
		s.logger.WarnContext(ctx, "failed to delete case documents",
			"case_id", caseID,
			"error", err,
		)
	}
}

func actorID(a policy.Actor) string {
	if a.ID == "" {
		return policy.Public.ID
	}
	return a.ID
}

func submissionOutcome(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeBadRequest:
		return "invalid"
	case dErrors.CodeConflict:
		return "duplicate"
	case dErrors.CodeForbidden, dErrors.CodeUnauthorized:
		return "rejected"
	}
	return "error"
}
