package service

import (
	"context"
	"strconv"

	"intakehub/internal/intake/models"
	orgmodels "intakehub/internal/org/models"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
)

const maxExportRows = 10000

// CasePage is one page of aggregate rows.
type CasePage struct {
	Records []models.AggregateRecord `json:"records"`
	Total   int                      `json:"total"`
	Limit   int                      `json:"limit"`
	Offset  int                      `json:"offset"`
}

// Summary returns dashboard counts. Scoped callers are narrowed to their own
// organization and denied anything outside it.
func (s *Service) Summary(ctx context.Context, filter models.CaseFilter) (*models.Summary, error) {
	filter, err := s.scopeFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	sum, err := s.store.Summarize(ctx, filter)
	if err != nil {
		return nil, translate(err, "no data")
	}
	return sum, nil
}

// ListCases pages through aggregate rows matching filter.
func (s *Service) ListCases(ctx context.Context, filter models.CaseFilter) (*CasePage, error) {
	filter, err := s.scopeFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	rows, total, err := s.store.ListAggregates(ctx, filter)
	if err != nil {
		return nil, translate(err, "no data")
	}
	if rows == nil {
		rows = []models.AggregateRecord{}
	}
	return &CasePage{Records: rows, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Export renders the matching aggregate rows as a spreadsheet. The export is
// audited before the file is returned.
func (s *Service) Export(ctx context.Context, filter models.CaseFilter) ([]byte, error) {
	if s.sheets == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "export is not available")
	}
	filter, err := s.scopeFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit = maxExportRows
	filter.Offset = 0
	rows, _, err := s.store.ListAggregates(ctx, filter)
	if err != nil {
		return nil, translate(err, "no data")
	}

	actor := policy.ActorFrom(ctx)
	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actor.ID,
		ActorRole:    string(actor.Role),
		Action:       audit.ActionExport,
		ResourceType: audit.ResourceDashboard,
		DistrictCode: filter.DistrictCode,
		Detail: map[string]string{
			"school_code": filter.SchoolCode,
			"status":      string(filter.Status),
			"rows":        strconv.Itoa(len(rows)),
		},
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unable to record export; request refused")
	}

	out, err := s.sheets.WriteCases(rows)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render export")
	}
	s.metrics.IncExport()
	return out, nil
}

func (s *Service) scopeFilter(ctx context.Context, filter models.CaseFilter) (models.CaseFilter, error) {
	actor := policy.ActorFrom(ctx)
	if filter.Status != "" {
		if _, ok := models.ParseStatus(string(filter.Status)); !ok {
			return filter, dErrors.Validation("invalid filter", dErrors.FieldError{Field: "status", Message: "must be one of: pending active completed cancelled"})
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, dErrors.Validation("invalid filter", dErrors.FieldError{Field: "to", Message: "must not be before from"})
	}
	filter.DistrictCode, filter.SchoolCode = policy.Narrow(actor,
		orgmodels.NormalizeCode(filter.DistrictCode),
		orgmodels.NormalizeCode(filter.SchoolCode))
	decision := policy.Authorize(actor, policy.Resource{
		Kind:         policy.KindAggregateRead,
		DistrictCode: filter.DistrictCode,
		SchoolCode:   filter.SchoolCode,
	})
	if decision == policy.Deny {
		return filter, dErrors.New(dErrors.CodeForbidden, "not permitted to view this organization")
	}
	return filter, nil
}
