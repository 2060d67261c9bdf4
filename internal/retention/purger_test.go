package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"intakehub/internal/intake/documents"
	"intakehub/internal/intake/models"
	"intakehub/internal/intake/store"
	"intakehub/internal/retention"
	audit "intakehub/pkg/platform/audit"
	auditmemory "intakehub/pkg/platform/audit/store/memory"
	"intakehub/pkg/platform/sentinel"
	"intakehub/pkg/requestcontext"
)

type failingAudit struct{}

func (failingAudit) Record(context.Context, audit.Entry) error {
	return errors.New("audit store down")
}

type countingMetrics map[string]int

func (m countingMetrics) AddPurged(reason string, n int) { m[reason] += n }

type PurgerSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *store.InMemory
	audits  *auditmemory.InMemoryStore
	docs    *documents.InMemoryStore
	metrics countingMetrics
}

func TestPurgerSuite(t *testing.T) {
	suite.Run(t, new(PurgerSuite))
}

func (s *PurgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 10, 30, 12, 0, 0, 0, time.UTC)
	s.store = store.NewInMemory()
	s.audits = auditmemory.NewInMemoryStore()
	s.docs = documents.NewInMemory()
	s.metrics = countingMetrics{}
}

func (s *PurgerSuite) purger(recorder retention.AuditRecorder, opts ...retention.Option) *retention.Purger {
	opts = append([]retention.Option{
		retention.WithDocumentStore(s.docs),
		retention.WithMetrics(s.metrics),
	}, opts...)
	return retention.NewPurger(s.store, recorder, opts...)
}

// seed inserts a case created `age` before now with the standard 45-day expiry.
func (s *PurgerSuite) seed(age time.Duration) uuid.UUID {
	created := s.now.Add(-age)
	id := uuid.New()
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		if err := s.store.CreateAggregate(ctx, &models.AggregateRecord{
			CaseID:       id,
			DistrictCode: "CHESAPEAKE",
			SchoolCode:   "CHES_001",
			Status:       models.StatusPending,
			ReferralDate: created,
			CreatedAt:    created,
			UpdatedAt:    created,
		}); err != nil {
			return err
		}
		return s.store.CreateSensitive(ctx, &models.SensitiveRecord{
			CaseID:    id,
			Fields:    map[models.FieldName][]byte{models.FieldStudentFirstName: []byte("sealed")},
			CreatedAt: created,
			ExpiresAt: created.Add(45 * 24 * time.Hour),
		})
	}))
	s.Require().NoError(s.docs.Put(s.ctx, documents.CasePrefix(id)+"insurance_card_front.png", "image/png", []byte("png")))
	return id
}

func (s *PurgerSuite) sensitiveExists(id uuid.UUID) bool {
	_, err := s.store.FindSensitive(s.ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false
	}
	s.Require().NoError(err)
	return true
}

func (s *PurgerSuite) purgeEntries(id uuid.UUID) []audit.Entry {
	var out []audit.Entry
	for _, e := range s.audits.All() {
		if e.ResourceID == id.String() && e.Action == audit.ActionPurge {
			out = append(out, e)
		}
	}
	return out
}

func (s *PurgerSuite) TestSweepDeletesOnlyExpiredSensitiveRecords() {
	expired := s.seed(45 * 24 * time.Hour)
	fresh := s.seed(44 * 24 * time.Hour)

	res, err := s.purger(audit.NewRecorder(s.audits)).Sweep(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, res.Purged)
	s.Equal(1, res.ByReason[retention.ReasonExpired])

	s.False(s.sensitiveExists(expired))
	s.True(s.sensitiveExists(fresh))

	_, err = s.store.FindAggregate(s.ctx, expired)
	s.NoError(err, "aggregate record survives the purge")

	entries := s.purgeEntries(expired)
	s.Require().Len(entries, 1)
	s.Equal(audit.SystemActor, entries[0].ActorID)
	s.Equal("expired", entries[0].Detail["reason"])

	_, _, err = s.docs.Get(s.ctx, documents.CasePrefix(expired)+"insurance_card_front.png")
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, _, err = s.docs.Get(s.ctx, documents.CasePrefix(fresh)+"insurance_card_front.png")
	s.NoError(err)

	s.Equal(1, s.metrics["expired"])
}

func (s *PurgerSuite) TestSweepIsIdempotent() {
	id := s.seed(50 * 24 * time.Hour)
	p := s.purger(audit.NewRecorder(s.audits))

	first, err := p.Sweep(s.ctx, s.now)
	s.Require().NoError(err)
	second, err := p.Sweep(s.ctx, s.now)
	s.Require().NoError(err)

	s.Equal(1, first.Purged)
	s.Zero(second.Purged)
	s.Len(s.purgeEntries(id), 1)
}

func (s *PurgerSuite) TestSweepWalksEveryBatch() {
	var ids []uuid.UUID
	for range 7 {
		ids = append(ids, s.seed(60*24*time.Hour))
	}

	res, err := s.purger(audit.NewRecorder(s.audits), retention.WithBatchSize(3)).Sweep(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(7, res.Purged)
	for _, id := range ids {
		s.False(s.sensitiveExists(id))
	}
}

func (s *PurgerSuite) TestSweepHonorsProcessedGrace() {
	id := s.seed(10 * 24 * time.Hour)
	s.Require().NoError(s.store.MarkProcessed(s.ctx, id, s.now.Add(-8*24*time.Hour), "admin-1", "EHR-1", nil))

	withoutGrace, err := s.purger(audit.NewRecorder(s.audits)).Sweep(s.ctx, s.now)
	s.Require().NoError(err)
	s.Zero(withoutGrace.Purged)

	res, err := s.purger(audit.NewRecorder(s.audits),
		retention.WithPolicy(retention.Policy{ProcessedGrace: 7 * 24 * time.Hour}),
	).Sweep(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, res.ByReason[retention.ReasonProcessed])
	s.False(s.sensitiveExists(id))

	entries := s.purgeEntries(id)
	s.Require().Len(entries, 1)
	s.Equal("processed", entries[0].Detail["reason"])
}

func (s *PurgerSuite) TestAuditFailureKeepsRecord() {
	id := s.seed(50 * 24 * time.Hour)

	res, err := s.purger(failingAudit{}).Sweep(s.ctx, s.now)
	s.Error(err)
	s.Equal(1, res.Failed)
	s.Zero(res.Purged)
	s.True(s.sensitiveExists(id), "deletion rolls back with its audit entry")

	_, _, err = s.docs.Get(s.ctx, documents.CasePrefix(id)+"insurance_card_front.png")
	s.NoError(err, "documents stay until the record is gone")
}

func (s *PurgerSuite) TestRequestSweepRequiresFullAdmin() {
	s.seed(50 * 24 * time.Hour)
	p := s.purger(audit.NewRecorder(s.audits))

	viewer := requestcontext.WithPrincipal(s.ctx, requestcontext.Principal{
		UserID: "viewer-1", Role: "org_viewer", DistrictCode: "CHESAPEAKE",
	})
	_, err := p.RequestSweep(viewer)
	s.Error(err)

	admin := requestcontext.WithPrincipal(s.ctx, requestcontext.Principal{UserID: "admin-1", Role: "full_admin"})
	admin = requestcontext.WithTime(admin, s.now)
	res, err := p.RequestSweep(admin)
	s.Require().NoError(err)
	s.Equal(1, res.Purged)

	for _, e := range s.audits.All() {
		if e.Action == audit.ActionPurge {
			s.Equal("admin-1", e.ActorID)
		}
	}
}
