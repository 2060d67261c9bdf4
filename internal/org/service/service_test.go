package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"intakehub/internal/org/store"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
	auditmemory "intakehub/pkg/platform/audit/store/memory"
)

type ServiceSuite struct {
	suite.Suite
	store  *store.InMemory
	audits *auditmemory.InMemoryStore
	svc    *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.audits = auditmemory.NewInMemoryStore()
	s.svc = New(s.store, WithAuditRecorder(audit.NewRecorder(s.audits)))
	s.Require().NoError(store.SeedDevelopment(context.Background(), s.store))
}

func (s *ServiceSuite) TestResolve() {
	ctx := context.Background()

	s.Run("resolves active codes case-insensitively", func() {
		d, sc, err := s.svc.Resolve(ctx, " chesapeake ", "ches_001")
		s.Require().NoError(err)
		s.Equal("CHESAPEAKE", d.Code)
		s.Equal("CHES_001", sc.Code)
	})

	s.Run("unknown district is a field validation error", func() {
		_, _, err := s.svc.Resolve(ctx, "NOWHERE", "CHES_001")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		fields := dErrors.FieldsOf(err)
		s.Require().Len(fields, 1)
		s.Equal("district_code", fields[0].Field)
	})

	s.Run("school from another district is rejected", func() {
		_, _, err := s.svc.Resolve(ctx, "NORFOLK", "CHES_001")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("school_code", dErrors.FieldsOf(err)[0].Field)
	})

	s.Run("inactive school is rejected", func() {
		s.Require().NoError(s.store.SetSchoolActive(ctx, "CHES_002", false))
		_, _, err := s.svc.Resolve(ctx, "CHESAPEAKE", "CHES_002")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("inactive district is rejected", func() {
		s.Require().NoError(s.store.SetDistrictActive(ctx, "NORFOLK", false))
		_, _, err := s.svc.Resolve(ctx, "NORFOLK", "NORF_001")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("district_code", dErrors.FieldsOf(err)[0].Field)
	})
}

func (s *ServiceSuite) TestListActiveHidesInactiveUnits() {
	ctx := context.Background()
	s.Require().NoError(s.store.SetSchoolActive(ctx, "CHES_002", false))
	s.Require().NoError(s.store.SetDistrictActive(ctx, "NORFOLK", false))

	list, err := s.svc.ListActive(ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("CHESAPEAKE", list[0].Code)
	s.Require().Len(list[0].Schools, 1)
	s.Equal("CHES_001", list[0].Schools[0].Code)
}

func (s *ServiceSuite) TestCreateRequiresFullAdmin() {
	ctx := context.Background()
	viewer := policy.Actor{ID: "v", Role: policy.RoleOrgAdmin, Scope: policy.Scope{DistrictCode: "CHESAPEAKE"}}

	_, err := s.svc.CreateDistrict(ctx, viewer, "VB", "Virginia Beach", "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.CreateSchool(ctx, policy.Public, "VB_001", "CHESAPEAKE", "X", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestCreateDistrictAndSchool() {
	ctx := context.Background()
	admin := policy.Actor{ID: "admin-1", Role: policy.RoleFullAdmin}

	d, err := s.svc.CreateDistrict(ctx, admin, "vb", "Virginia Beach", "Hampton Roads")
	s.Require().NoError(err)
	s.Equal("VB", d.Code)

	sc, err := s.svc.CreateSchool(ctx, admin, "VB_001", "VB", "Ocean Lakes", []string{"9-12"})
	s.Require().NoError(err)
	s.Equal("VB", sc.DistrictCode)

	_, err = s.svc.CreateDistrict(ctx, admin, "VB", "Duplicate", "")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.svc.CreateSchool(ctx, admin, "XX_001", "MISSING", "Orphan", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.svc.CreateSchool(ctx, admin, "VB_002", "VB", "Bad Band", []string{"13"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	entries, err := s.audits.ListByResource(ctx, audit.ResourceOrganization, "VB_001")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionCreate, entries[0].Action)
	s.Equal("admin-1", entries[0].ActorID)
}

func (s *ServiceSuite) TestValidateScope() {
	ctx := context.Background()

	s.NoError(s.svc.ValidateScope(ctx, "CHESAPEAKE", ""))
	s.NoError(s.svc.ValidateScope(ctx, "chesapeake", "ches_001"))

	err := s.svc.ValidateScope(ctx, "NOWHERE", "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal("district_code", dErrors.FieldsOf(err)[0].Field)

	err = s.svc.ValidateScope(ctx, "NORFOLK", "CHES_001")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal("school_code", dErrors.FieldsOf(err)[0].Field)
}
