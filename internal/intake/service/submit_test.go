package service_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/mock/gomock"

	"intakehub/internal/intake/models"
	"intakehub/internal/intake/service"
	"intakehub/internal/phicrypto"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
)

func (s *IntakeServiceSuite) TestSubmitWritesLinkedRecordPair() {
	p := validPayload()
	res, err := s.svc.Submit(s.publicCtx(), &p)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, res.Status)

	agg, err := s.store.FindAggregate(context.Background(), res.CaseID)
	s.Require().NoError(err)
	sens, err := s.store.FindSensitive(context.Background(), res.CaseID)
	s.Require().NoError(err)

	s.Run("both halves share the case id", func() {
		s.Equal(res.CaseID, agg.CaseID)
		s.Equal(res.CaseID, sens.CaseID)
	})

	s.Run("aggregate carries only derived facts", func() {
		s.Equal("CHESAPEAKE", agg.DistrictCode)
		s.Equal("CHES_001", agg.SchoolCode)
		s.Equal(models.GradeBandElementary, agg.GradeBand)
		s.Equal("parent", agg.ReferralSource)
		s.Equal(models.OptInImmediate, agg.OptInType)
		s.Equal("FY2026-Q1", agg.FiscalPeriod)
		s.True(agg.InsurancePresent)
		s.Equal(models.DateOnly(s.now), agg.ReferralDate)
	})

	s.Run("no sensitive value is a substring of the aggregate", func() {
		raw, err := json.Marshal(agg)
		s.Require().NoError(err)
		for _, v := range []string{
			p.Student.FirstName, p.Student.LastName, p.Student.DateOfBirth, p.Student.StudentID,
			p.Parent.Name, p.Parent.Email, p.Parent.Phone,
			p.Insurance.InsuranceCompany, p.Insurance.MemberID, p.Insurance.GroupNumber,
			p.ServiceNeeds.ServiceCategoryOther, p.Demographics.RaceOther,
		} {
			s.NotContains(string(raw), v)
		}
	})

	s.Run("expiry is exactly the retention window", func() {
		s.Equal(45*24*time.Hour, sens.ExpiresAt.Sub(sens.CreatedAt))
	})

	s.Run("every stored field is ciphertext that decrypts to the input", func() {
		for name, ct := range sens.Fields {
			s.NotContains(string(ct), p.Student.FirstName, name)
		}
		plain, err := s.cipher.Decrypt(context.Background(), sens.Fields[models.FieldParentEmail])
		s.Require().NoError(err)
		s.Equal(p.Parent.Email, plain)
		s.True(sens.ImmediateSafetyConcern)
		s.True(sens.AuthorizationConsent)
		s.NotContains(sens.Fields, models.FieldEthnicity, "absent lists are not stored")
	})

	s.Run("creation is audited without PHI", func() {
		entries := s.audits.All()
		s.Require().Len(entries, 1)
		e := entries[0]
		s.Equal(audit.ActionCreate, e.Action)
		s.Equal(audit.ResourceIntake, e.ResourceType)
		s.Equal(res.CaseID.String(), e.ResourceID)
		s.Equal("anonymous", e.ActorID)
		s.Equal("CHESAPEAKE", e.DistrictCode)
		s.Equal("203.0.113.7", e.ClientIP)
		s.Equal("req-test", e.RequestID)
		s.Equal("true", e.Detail["has_insurance"])
	})
}

func (s *IntakeServiceSuite) TestSubmitRetentionWindowIsConfigurable() {
	svc := s.build(service.WithConfig(service.Config{RetentionWindow: 30 * 24 * time.Hour}))
	p := validPayload()
	res, err := svc.Submit(s.publicCtx(), &p)
	s.Require().NoError(err)

	sens, err := s.store.FindSensitive(context.Background(), res.CaseID)
	s.Require().NoError(err)
	s.Equal(30*24*time.Hour, sens.ExpiresAt.Sub(sens.CreatedAt))
}

func (s *IntakeServiceSuite) TestSubmitRejections() {
	s.Run("validation errors carry field detail", func() {
		p := validPayload()
		p.AuthorizationConsent = false
		p.Parent.Email = "not-an-email"
		_, err := s.svc.Submit(s.publicCtx(), &p)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		var names []string
		for _, f := range dErrors.FieldsOf(err) {
			names = append(names, f.Field)
		}
		s.Contains(names, "authorization_consent")
		s.Contains(names, "parent_guardian_contact.email")
	})

	s.Run("unknown organization is a validation error", func() {
		p := validPayload()
		p.SchoolCode = "NORF_001"
		_, err := s.svc.Submit(s.publicCtx(), &p)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("school_code", dErrors.FieldsOf(err)[0].Field)
	})

	s.Run("failed captcha stops before anything is written", func() {
		svc := s.build(service.WithCaptcha(s.captcha))
		s.captcha.EXPECT().Verify(gomock.Any(), "bad-token", "203.0.113.7").
			Return(dErrors.New(dErrors.CodeForbidden, "captcha verification failed"))
		p := validPayload()
		p.CaptchaToken = "bad-token"
		_, err := svc.Submit(s.publicCtx(), &p)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	_, total, err := s.store.ListAggregates(context.Background(), models.CaseFilter{})
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(s.audits.All())
}

func (s *IntakeServiceSuite) TestSubmitDuplicateDetection() {
	svc := s.build(service.WithDuplicateGuard(s.dedupe))

	s.Run("a repeated fingerprint conflicts", func() {
		s.dedupe.EXPECT().Claim(gomock.Any(), gomock.Any(), 5*time.Minute).Return(false, nil)
		p := validPayload()
		_, err := svc.Submit(s.publicCtx(), &p)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("fingerprint hides the identifying values", func() {
		s.dedupe.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, fp string, _ time.Duration) (bool, error) {
				s.NotContains(fp, "wilhelmina")
				s.Len(fp, 64)
				return true, nil
			})
		p := validPayload()
		_, err := svc.Submit(s.publicCtx(), &p)
		s.NoError(err)
	})

	s.Run("an unreachable cache does not block submissions", func() {
		s.dedupe.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))
		p := validPayload()
		_, err := svc.Submit(s.publicCtx(), &p)
		s.NoError(err)
	})
}

func (s *IntakeServiceSuite) TestSubmitEncryptionKeyUnavailable() {
	keys, err := phicrypto.NewStaticKeyProvider(map[string]string{"k1": testKey(1)}, "")
	s.Require().NoError(err)
	svc := service.New(s.store, s.orgs, phicrypto.New(keys), audit.NewRecorder(s.audits))

	p := validPayload()
	_, err = svc.Submit(s.publicCtx(), &p)
	s.True(dErrors.HasCode(err, dErrors.CodeEncryption))

	_, total, err := s.store.ListAggregates(context.Background(), models.CaseFilter{})
	s.Require().NoError(err)
	s.Zero(total, "nothing is persisted when encryption fails")
}

func (s *IntakeServiceSuite) TestSubmitRollsBackWhenAuditFails() {
	svc := s.buildWith(failingAudit{}, service.WithDuplicateGuard(s.dedupe))
	s.dedupe.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	s.dedupe.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil)

	p := validPayload()
	_, err := svc.Submit(s.publicCtx(), &p)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, total, err := s.store.ListAggregates(context.Background(), models.CaseFilter{})
	s.Require().NoError(err)
	s.Zero(total)
}

func (s *IntakeServiceSuite) TestSubmitNotificationFailureDoesNotRollBack() {
	svc := s.build(service.WithNotifier(s.notifier))
	s.notifier.EXPECT().NotifyNewIntake(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev service.NewIntakeEvent) error {
			s.Equal("CHESAPEAKE", ev.DistrictCode)
			s.True(ev.SafetyConcern)
			return errors.New("broker unavailable")
		})

	p := validPayload()
	res, err := svc.Submit(s.publicCtx(), &p)
	s.Require().NoError(err)

	_, err = s.store.FindSensitive(context.Background(), res.CaseID)
	s.NoError(err)
}

func (s *IntakeServiceSuite) TestSubmitInsuranceCards() {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

	s.Run("cards are stored under the case prefix and referenced encrypted", func() {
		svc := s.build(service.WithDocumentStore(s.documents))
		var key string
		s.documents.EXPECT().Put(gomock.Any(), gomock.Any(), "image/png", png).
			DoAndReturn(func(_ context.Context, k, _ string, _ []byte) error {
				key = k
				return nil
			})

		p := validPayload()
		p.Insurance.CardFront = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		res, err := svc.Submit(s.publicCtx(), &p)
		s.Require().NoError(err)
		s.Equal("cases/"+res.CaseID.String()+"/insurance_card_front.png", key)

		sens, err := s.store.FindSensitive(context.Background(), res.CaseID)
		s.Require().NoError(err)
		ref, err := s.cipher.Decrypt(context.Background(), sens.Fields[models.FieldInsuranceCardFront])
		s.Require().NoError(err)
		s.Equal(key, ref)
	})

	s.Run("uploads are removed when the transaction fails", func() {
		svc := s.buildWith(failingAudit{}, service.WithDocumentStore(s.documents))
		s.documents.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		s.documents.EXPECT().DeletePrefix(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, prefix string) error {
				s.True(strings.HasPrefix(prefix, "cases/"))
				return nil
			})

		p := validPayload()
		p.Insurance.CardBack = base64.StdEncoding.EncodeToString(png)
		_, err := svc.Submit(s.publicCtx(), &p)
		s.Error(err)
	})

	s.Run("non-image uploads are rejected", func() {
		svc := s.build(service.WithDocumentStore(s.documents))
		p := validPayload()
		p.Insurance.CardFront = base64.StdEncoding.EncodeToString([]byte("#!/bin/sh\necho hi\n"))
		_, err := svc.Submit(s.publicCtx(), &p)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("insurance_information.insurance_card_front", dErrors.FieldsOf(err)[0].Field)
	})
}

func (s *IntakeServiceSuite) TestSubmitReferralSourceIsAClosedSet() {
	s.Run("free text is rejected before anything is stored", func() {
		p := validPayload()
		p.ReferralSource = p.Parent.Email
		_, err := s.svc.Submit(s.publicCtx(), &p)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(fieldNames(err), "referral_source")

		_, total, err := s.store.ListAggregates(context.Background(), models.CaseFilter{})
		s.Require().NoError(err)
		s.Zero(total)
	})

	s.Run("missing source defaults to parent", func() {
		p := validPayload()
		p.ReferralSource = ""
		res, err := s.svc.Submit(s.publicCtx(), &p)
		s.Require().NoError(err)

		agg, err := s.store.FindAggregate(context.Background(), res.CaseID)
		s.Require().NoError(err)
		s.Equal(models.ReferralParent, agg.ReferralSource)
		raw, err := json.Marshal(agg)
		s.Require().NoError(err)
		s.NotContains(string(raw), p.Parent.Email)
	})
}
