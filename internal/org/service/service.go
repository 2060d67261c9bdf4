package service

import (
	"context"
	"errors"
	"log/slog"

	"intakehub/internal/org/models"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
	"intakehub/pkg/platform/sentinel"
	"intakehub/pkg/requestcontext"
)

// Store persists organization units.
type Store interface {
	CreateDistrict(ctx context.Context, d *models.District) error
	CreateSchool(ctx context.Context, s *models.School) error
	FindDistrict(ctx context.Context, code string) (*models.District, error)
	FindSchool(ctx context.Context, code string) (*models.School, error)
	ListDistricts(ctx context.Context) ([]models.District, error)
	ListSchools(ctx context.Context, districtCode string) ([]models.School, error)
	SetDistrictActive(ctx context.Context, code string, active bool) error
	SetSchoolActive(ctx context.Context, code string, active bool) error
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service resolves and manages districts and schools.
type Service struct {
	store  Store
	audit  AuditRecorder
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditRecorder(r AuditRecorder) Option {
	return func(s *Service) {
		s.audit = r
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the active district and school for a submission. Unknown,
// inactive or mismatched codes are validation failures on the named field.
func (s *Service) Resolve(ctx context.Context, districtCode, schoolCode string) (*models.District, *models.School, error) {
	districtCode = models.NormalizeCode(districtCode)
	schoolCode = models.NormalizeCode(schoolCode)

	district, err := s.store.FindDistrict(ctx, districtCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.Validation("invalid organization",
				dErrors.FieldError{Field: "district_code", Message: "unknown district"})
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load district")
	}
	if !district.Active {
		return nil, nil, dErrors.Validation("invalid organization",
			dErrors.FieldError{Field: "district_code", Message: "district is not accepting referrals"})
	}

	school, err := s.store.FindSchool(ctx, schoolCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.Validation("invalid organization",
				dErrors.FieldError{Field: "school_code", Message: "unknown school"})
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load school")
	}
	if school.DistrictCode != district.Code {
		return nil, nil, dErrors.Validation("invalid organization",
			dErrors.FieldError{Field: "school_code", Message: "school does not belong to district"})
	}
	if !school.Active {
		return nil, nil, dErrors.Validation("invalid organization",
			dErrors.FieldError{Field: "school_code", Message: "school is not accepting referrals"})
	}
	return district, school, nil
}

// ValidateScope checks a staff account's organization binding: the district
// must exist and a school, when given, must belong to it.
func (s *Service) ValidateScope(ctx context.Context, districtCode, schoolCode string) error {
	district, err := s.store.FindDistrict(ctx, models.NormalizeCode(districtCode))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Validation("invalid organization",
				dErrors.FieldError{Field: "district_code", Message: "unknown district"})
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load district")
	}
	if schoolCode == "" {
		return nil
	}
	school, err := s.store.FindSchool(ctx, models.NormalizeCode(schoolCode))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Validation("invalid organization",
				dErrors.FieldError{Field: "school_code", Message: "unknown school"})
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load school")
	}
	if school.DistrictCode != district.Code {
		return dErrors.Validation("invalid organization",
			dErrors.FieldError{Field: "school_code", Message: "school does not belong to district"})
	}
	return nil
}

// ListActive returns active districts with their active schools.
func (s *Service) ListActive(ctx context.Context) ([]models.DistrictWithSchools, error) {
	districts, err := s.store.ListDistricts(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list districts")
	}
	schools, err := s.store.ListSchools(ctx, "")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list schools")
	}
	byDistrict := make(map[string][]models.School)
	for _, sc := range schools {
		if sc.Active {
			byDistrict[sc.DistrictCode] = append(byDistrict[sc.DistrictCode], sc)
		}
	}

	out := make([]models.DistrictWithSchools, 0, len(districts))
	for _, d := range districts {
		if !d.Active {
			continue
		}
		list := byDistrict[d.Code]
		if list == nil {
			list = []models.School{}
		}
		out = append(out, models.DistrictWithSchools{District: d, Schools: list})
	}
	return out, nil
}

// CreateDistrict adds a district. Full administrators only.
func (s *Service) CreateDistrict(ctx context.Context, actor policy.Actor, code, name, region string) (*models.District, error) {
	if err := requireWrite(actor); err != nil {
		return nil, err
	}
	d, err := models.NewDistrict(code, name, region, requestcontext.Now(ctx))
	if err != nil {
		return nil, asValidation(err)
	}
	if err := s.store.CreateDistrict(ctx, d); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "district code already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create district")
	}
	s.recordCreate(ctx, actor, d.Code, d.Code)
	return d, nil
}

// CreateSchool adds a school to an existing district. Full administrators only.
func (s *Service) CreateSchool(ctx context.Context, actor policy.Actor, code, districtCode, name string, gradeBands []string) (*models.School, error) {
	if err := requireWrite(actor); err != nil {
		return nil, err
	}
	sc, err := models.NewSchool(code, districtCode, name, gradeBands, requestcontext.Now(ctx))
	if err != nil {
		return nil, asValidation(err)
	}
	if err := s.store.CreateSchool(ctx, sc); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "school code already exists")
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "district not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create school")
	}
	s.recordCreate(ctx, actor, sc.Code, sc.DistrictCode)
	return sc, nil
}

func requireWrite(actor policy.Actor) error {
	if policy.Authorize(actor, policy.Resource{Kind: policy.KindAggregateWrite}) == policy.Deny {
		return dErrors.New(dErrors.CodeForbidden, "organization management requires a full-access administrator")
	}
	return nil
}

func asValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return dErrors.New(dErrors.CodeValidation, de.Message)
		}
	}
	return err
}

// recordCreate is best-effort: organization metadata is not sensitive.
func (s *Service) recordCreate(ctx context.Context, actor policy.Actor, code, districtCode string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actor.ID,
		ActorRole:    string(actor.Role),
		Action:       audit.ActionCreate,
		ResourceType: audit.ResourceOrganization,
		ResourceID:   code,
		DistrictCode: districtCode,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit organization change",
			"code", code,
			"error", err,
		)
	}
}
