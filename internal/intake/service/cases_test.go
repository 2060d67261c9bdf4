package service_test

import (
	"context"
	"time"

	"go.uber.org/mock/gomock"

	"intakehub/internal/intake/models"
	"intakehub/internal/intake/service"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
	"intakehub/pkg/platform/sentinel"
)

func (s *IntakeServiceSuite) TestMarkProcessed() {
	res := s.submit("CHESAPEAKE", "CHES_002")

	s.Run("validates the request", func() {
		_, err := s.svc.MarkProcessed(s.adminCtx(), res.CaseID, "  ", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("scoped admins cannot process", func() {
		_, err := s.svc.MarkProcessed(s.principalCtx("o", "org_admin", "CHESAPEAKE", ""), res.CaseID, "EHR-1", "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("records processing once and encrypts notes", func() {
		out, err := s.svc.MarkProcessed(s.adminCtx(), res.CaseID, "EHR-1", "called family")
		s.Require().NoError(err)
		s.False(out.Purged)

		sens, err := s.store.FindSensitive(context.Background(), res.CaseID)
		s.Require().NoError(err)
		s.True(sens.Processed)
		s.Equal("admin-1", sens.ProcessedBy)
		s.NotContains(string(sens.Fields[models.FieldProcessingNotes]), "called family")

		view, err := s.svc.ViewPHI(s.adminCtx(), res.CaseID)
		s.Require().NoError(err)
		s.Equal("called family", view.Fields["processing_notes"])

		_, err = s.svc.MarkProcessed(s.adminCtx(), res.CaseID, "EHR-2", "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Contains(s.auditActions(res.CaseID.String()), audit.ActionProcess)
}

func (s *IntakeServiceSuite) TestMarkProcessedWithPurgeOnProcess() {
	svc := s.build(
		service.WithConfig(service.Config{PurgeOnProcess: true}),
		service.WithDocumentStore(s.documents),
	)
	p := validPayload()
	res, err := svc.Submit(s.publicCtx(), &p)
	s.Require().NoError(err)

	s.documents.EXPECT().DeletePrefix(gomock.Any(), "cases/"+res.CaseID.String()+"/").Return(nil)
	out, err := svc.MarkProcessed(s.adminCtx(), res.CaseID, "EHR-7", "")
	s.Require().NoError(err)
	s.True(out.Purged)

	_, err = s.store.FindSensitive(context.Background(), res.CaseID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	agg, err := s.store.FindAggregate(context.Background(), res.CaseID)
	s.Require().NoError(err)
	s.NotNil(agg.ProcessedAt)

	actions := s.auditActions(res.CaseID.String())
	s.Equal([]audit.Action{audit.ActionCreate, audit.ActionProcess, audit.ActionPurge}, actions)
}

func (s *IntakeServiceSuite) TestUpdateStatus() {
	res := s.submit("CHESAPEAKE", "CHES_001")

	agg, err := s.svc.UpdateStatus(s.adminCtx(), res.CaseID, models.StatusActive)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, agg.Status)

	_, err = s.svc.UpdateStatus(s.adminCtx(), res.CaseID, models.StatusPending)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "no way back to pending")

	_, err = s.svc.UpdateStatus(s.adminCtx(), res.CaseID, models.StatusCompleted)
	s.Require().NoError(err)
	_, err = s.svc.UpdateStatus(s.adminCtx(), res.CaseID, models.StatusCancelled)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "completed is terminal")

	_, err = s.svc.UpdateStatus(s.adminCtx(), res.CaseID, models.Status("archived"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.UpdateStatus(s.principalCtx("v", "org_viewer", "CHESAPEAKE", ""), res.CaseID, models.StatusCancelled)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *IntakeServiceSuite) TestSessionsAndOutcomes() {
	res := s.submit("CHESAPEAKE", "CHES_001")
	day := time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)

	session, err := s.svc.AddSession(s.adminCtx(), res.CaseID, day, "Individual")
	s.Require().NoError(err)
	s.Equal(models.SessionIndividual, session.SessionType)
	s.Equal("admin-1", session.CreatedBy)

	_, err = s.svc.AddSession(s.adminCtx(), res.CaseID, day, "telepathy")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.AddOutcome(s.adminCtx(), res.CaseID, "attendance", "improved", day)
	s.Require().NoError(err)

	agg, err := s.store.FindAggregate(context.Background(), res.CaseID)
	s.Require().NoError(err)
	s.Equal(1, agg.SessionCount)
	s.True(agg.OutcomeCollected)

	_, err = s.svc.UpdateStatus(s.adminCtx(), res.CaseID, models.StatusCancelled)
	s.Require().NoError(err)
	_, err = s.svc.AddSession(s.adminCtx(), res.CaseID, day, "group")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *IntakeServiceSuite) TestListQueue() {
	first := s.submit("CHESAPEAKE", "CHES_001")
	s.submit("NORFOLK", "NORF_001")
	_, err := s.svc.MarkProcessed(s.adminCtx(), first.CaseID, "EHR-1", "")
	s.Require().NoError(err)

	items, err := s.svc.ListQueue(s.adminCtx(), models.QueueFilter{})
	s.Require().NoError(err)
	s.Len(items, 2)

	pending := false
	items, err = s.svc.ListQueue(s.adminCtx(), models.QueueFilter{Processed: &pending})
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal("NORFOLK", items[0].DistrictCode)
	s.True(items[0].HasInsurance)

	_, err = s.svc.ListQueue(s.principalCtx("v", "org_viewer", "NORFOLK", ""), models.QueueFilter{})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	s.Run("each released listing is audited", func() {
		var views []audit.Entry
		for _, e := range s.audits.All() {
			if e.Action == audit.ActionView && e.ResourceID == "queue" {
				views = append(views, e)
			}
		}
		s.Require().Len(views, 2, "the denied call writes no view entry")
		s.Equal(audit.ResourceIntake, views[0].ResourceType)
		s.Equal("admin-1", views[0].ActorID)
		s.Equal("any", views[0].Detail["processed"])
		s.Equal("2", views[0].Detail["count"])
		s.Equal("false", views[1].Detail["processed"])
		s.Equal("1", views[1].Detail["count"])
	})
}

func (s *IntakeServiceSuite) TestListQueueRefusedWhenAuditFails() {
	s.submit("CHESAPEAKE", "CHES_001")
	svc := s.buildWith(failingAudit{})

	items, err := svc.ListQueue(s.adminCtx(), models.QueueFilter{})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Nil(items)
}
