package service_test

import (
	"errors"
	"time"

	"intakehub/internal/intake/models"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
)

func (s *IntakeServiceSuite) seedDashboard() {
	s.submit("CHESAPEAKE", "CHES_001")
	s.submit("CHESAPEAKE", "CHES_001")
	s.submit("CHESAPEAKE", "CHES_002")
	s.submit("NORFOLK", "NORF_001")
}

func (s *IntakeServiceSuite) TestDashboardScoping() {
	s.seedDashboard()

	s.Run("full admin sees every organization", func() {
		sum, err := s.svc.Summary(s.adminCtx(), models.CaseFilter{})
		s.Require().NoError(err)
		s.Equal(4, sum.TotalReferrals)
	})

	s.Run("district viewer is narrowed to the district", func() {
		ctx := s.principalCtx("v", "org_viewer", "CHESAPEAKE", "")
		sum, err := s.svc.Summary(ctx, models.CaseFilter{})
		s.Require().NoError(err)
		s.Equal(3, sum.TotalReferrals)
		s.Equal([]models.Count{{Key: "CHESAPEAKE", Count: 3}}, sum.ByDistrict)
	})

	s.Run("school admin sees only the school", func() {
		ctx := s.principalCtx("a", "org_admin", "CHESAPEAKE", "CHES_001")
		page, err := s.svc.ListCases(ctx, models.CaseFilter{})
		s.Require().NoError(err)
		s.Equal(2, page.Total)
		for _, r := range page.Records {
			s.Equal("CHES_001", r.SchoolCode)
		}
	})

	s.Run("requests outside the scope are denied", func() {
		ctx := s.principalCtx("a", "org_admin", "CHESAPEAKE", "CHES_001")
		_, err := s.svc.Summary(ctx, models.CaseFilter{DistrictCode: "NORFOLK"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		_, err = s.svc.ListCases(ctx, models.CaseFilter{DistrictCode: "chesapeake", SchoolCode: "ches_002"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("anonymous callers are denied", func() {
		_, err := s.svc.Summary(s.publicCtx(), models.CaseFilter{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *IntakeServiceSuite) TestDistrictViewerNeverSeesAnotherDistrict() {
	s.seedDashboard()
	norfolk := s.submit("NORFOLK", "NORF_001")
	_, err := s.svc.UpdateStatus(s.adminCtx(), norfolk.CaseID, models.StatusActive)
	s.Require().NoError(err)

	ctx := s.principalCtx("v", "org_viewer", "CHESAPEAKE", "")
	districts := []string{"", "CHESAPEAKE", "chesapeake", "NORFOLK"}
	schools := []string{"", "CHES_001", "CHES_002", "NORF_001", "UNKNOWN"}
	statuses := []models.Status{"", models.StatusPending, models.StatusActive}

	for _, d := range districts {
		for _, sc := range schools {
			for _, st := range statuses {
				filter := models.CaseFilter{DistrictCode: d, SchoolCode: sc, Status: st}

				page, err := s.svc.ListCases(ctx, filter)
				if err != nil {
					s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "%+v", filter)
					continue
				}
				for _, r := range page.Records {
					s.Equal("CHESAPEAKE", r.DistrictCode, "%+v", filter)
				}

				sum, err := s.svc.Summary(ctx, filter)
				s.Require().NoError(err, "%+v", filter)
				for _, c := range sum.ByDistrict {
					s.Equal("CHESAPEAKE", c.Key, "%+v", filter)
				}
				s.LessOrEqual(sum.TotalReferrals, 3, "%+v", filter)
			}
		}
	}

	s.Run("a foreign school under the own district matches nothing", func() {
		page, err := s.svc.ListCases(ctx, models.CaseFilter{SchoolCode: "NORF_001"})
		s.Require().NoError(err)
		s.Zero(page.Total)
	})

	s.Run("a foreign district is denied outright", func() {
		_, err := s.svc.ListCases(ctx, models.CaseFilter{DistrictCode: "NORFOLK", SchoolCode: "NORF_001"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *IntakeServiceSuite) TestDashboardFilters() {
	s.seedDashboard()

	_, err := s.svc.ListCases(s.adminCtx(), models.CaseFilter{Status: models.Status("lost")})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	from := s.now
	to := s.now.Add(-24 * time.Hour)
	_, err = s.svc.ListCases(s.adminCtx(), models.CaseFilter{From: &from, To: &to})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	to = s.now
	page, err := s.svc.ListCases(s.adminCtx(), models.CaseFilter{From: &from, To: &to, Limit: 2})
	s.Require().NoError(err)
	s.Equal(4, page.Total)
	s.Len(page.Records, 2)
	s.Equal(2, page.Limit)
}

func (s *IntakeServiceSuite) TestExport() {
	s.seedDashboard()

	ctx := s.principalCtx("v", "org_viewer", "NORFOLK", "")
	out, err := s.svc.Export(ctx, models.CaseFilter{})
	s.Require().NoError(err)
	s.Equal([]byte("xlsx"), out)
	s.Require().Len(s.sheets.rows, 1)
	s.Equal("NORFOLK", s.sheets.rows[0].DistrictCode)

	entries := s.audits.All()
	last := entries[len(entries)-1]
	s.Equal(audit.ActionExport, last.Action)
	s.Equal(audit.ResourceDashboard, last.ResourceType)
	s.Equal("NORFOLK", last.DistrictCode)
	s.Equal("1", last.Detail["rows"])

	s.Run("export is refused when it cannot be audited", func() {
		svc := s.buildWith(failingAudit{})
		_, err := svc.Export(ctx, models.CaseFilter{})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("render failures are internal errors", func() {
		s.sheets.err = errors.New("disk full")
		_, err := s.svc.Export(ctx, models.CaseFilter{})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
