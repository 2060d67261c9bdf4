package service_test

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"intakehub/internal/intake/models"
	"intakehub/internal/intake/service"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
)

func (s *IntakeServiceSuite) TestViewPHI() {
	res := s.submit("CHESAPEAKE", "CHES_001")
	p := validPayload()

	s.Run("full admin reads every decrypted field after the audit write", func() {
		view, err := s.svc.ViewPHI(s.adminCtx(), res.CaseID)
		s.Require().NoError(err)
		s.Equal(p.Student.FirstName, view.Fields["student_first_name"])
		s.Equal(p.Parent.Phone, view.Fields["parent_phone"])
		s.Equal(p.ServiceNeeds.ServiceCategory, view.Fields["service_category"])
		s.Equal(p.Demographics.Race, view.Fields["race"])
		s.Equal("CHES_001", view.SchoolCode)
		s.True(view.ImmediateSafetyConcern)

		s.Equal([]audit.Action{audit.ActionCreate, audit.ActionViewPHI}, s.auditActions(res.CaseID.String()))
		last := s.audits.All()[len(s.audits.All())-1]
		s.Equal("admin-1", last.ActorID)
		s.Equal("full_admin", last.ActorRole)
	})

	s.Run("audit failure refuses the read", func() {
		svc := s.buildWith(failingAudit{})
		view, err := svc.ViewPHI(s.adminCtx(), res.CaseID)
		s.Nil(view)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("scoped roles are denied even inside their scope", func() {
		for _, role := range []string{"org_admin", "org_viewer"} {
			ctx := s.principalCtx("viewer-1", role, "CHESAPEAKE", "CHES_001")
			view, err := s.svc.ViewPHI(ctx, res.CaseID)
			s.Nil(view)
			s.True(dErrors.HasCode(err, dErrors.CodeForbidden), role)
		}
		last := s.audits.All()[len(s.audits.All())-1]
		s.Equal(audit.ActionDenied, last.Action)
		s.Equal("sensitive_read", last.Detail["requested"])
	})

	s.Run("public callers are denied", func() {
		_, err := s.svc.ViewPHI(s.publicCtx(), res.CaseID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown case is not found", func() {
		_, err := s.svc.ViewPHI(s.adminCtx(), uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *IntakeServiceSuite) TestViewPHIIsAllOrNothing() {
	res := s.submit("CHESAPEAKE", "CHES_001")
	ctx := context.Background()

	sens, err := s.store.FindSensitive(ctx, res.CaseID)
	s.Require().NoError(err)
	tampered := *sens
	tampered.Fields[models.FieldParentEmail][len(tampered.Fields[models.FieldParentEmail])-1] ^= 0xff
	s.Require().NoError(s.store.DeleteSensitive(ctx, res.CaseID))
	s.Require().NoError(s.store.CreateSensitive(ctx, &tampered))

	view, err := s.svc.ViewPHI(s.adminCtx(), res.CaseID)
	s.Nil(view)
	s.True(dErrors.HasCode(err, dErrors.CodeDecryption))
}

func (s *IntakeServiceSuite) TestStatus() {
	res := s.submit("NORFOLK", "NORF_001")

	view, err := s.svc.Status(s.publicCtx(), res.CaseID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, view.Status)
	s.Nil(view.ProcessedDate)
	s.True(view.SubmittedDate.Equal(s.now))
	s.Contains(s.auditActions(res.CaseID.String()), audit.ActionView)

	s.Run("still answers after the sensitive record is gone", func() {
		_, err := s.svc.MarkProcessed(s.adminCtx(), res.CaseID, "EHR-100", "")
		s.Require().NoError(err)
		s.Require().NoError(s.store.DeleteSensitive(context.Background(), res.CaseID))

		view, err := s.svc.Status(s.publicCtx(), res.CaseID)
		s.Require().NoError(err)
		s.Require().NotNil(view.ProcessedDate)
		s.True(view.ProcessedDate.Equal(s.now))
	})

	s.Run("unknown and malformed ids are not found", func() {
		_, err := s.svc.Status(s.publicCtx(), uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = service.ParseCaseID("../../etc/passwd")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("an audit failure does not hide the status", func() {
		svc := s.buildWith(failingAudit{})
		_, err := svc.Status(s.publicCtx(), res.CaseID)
		s.NoError(err)
	})
}

func (s *IntakeServiceSuite) TestDocument() {
	svc := s.build(service.WithDocumentStore(s.documents))
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	s.documents.EXPECT().Put(gomock.Any(), gomock.Any(), "image/png", png).Return(nil)

	p := validPayload()
	p.Insurance.CardFront = encodeBase64(png)
	res, err := svc.Submit(s.publicCtx(), &p)
	s.Require().NoError(err)
	key := "cases/" + res.CaseID.String() + "/insurance_card_front.png"

	s.documents.EXPECT().Get(gomock.Any(), key).Return(png, "image/png", nil)
	body, ct, err := svc.Document(s.adminCtx(), res.CaseID, "front")
	s.Require().NoError(err)
	s.Equal(png, body)
	s.Equal("image/png", ct)
	s.Contains(s.auditActions(res.CaseID.String()), audit.ActionViewPHI)

	_, _, err = svc.Document(s.adminCtx(), res.CaseID, "back")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, _, err = svc.Document(s.principalCtx("v", "org_admin", "CHESAPEAKE", ""), res.CaseID, "front")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}
