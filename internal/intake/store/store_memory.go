package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"intakehub/internal/intake/models"
	"intakehub/pkg/platform/sentinel"
)

type memTxKey struct{}

// InMemory keeps both record halves in maps. RunInTx serializes writers and
// restores a snapshot when the callback fails, so a failed submission leaves
// neither record behind.
type InMemory struct {
	txMu       sync.Mutex
	mu         sync.RWMutex
	aggregates map[uuid.UUID]models.AggregateRecord
	sensitive  map[uuid.UUID]models.SensitiveRecord
	sessions   []models.Session
	outcomes   []models.Outcome
}

func NewInMemory() *InMemory {
	return &InMemory{
		aggregates: make(map[uuid.UUID]models.AggregateRecord),
		sensitive:  make(map[uuid.UUID]models.SensitiveRecord),
	}
}

type memSnapshot struct {
	aggregates map[uuid.UUID]models.AggregateRecord
	sensitive  map[uuid.UUID]models.SensitiveRecord
	sessions   []models.Session
	outcomes   []models.Outcome
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snap := memSnapshot{
		aggregates: maps.Clone(s.aggregates),
		sensitive:  maps.Clone(s.sensitive),
		sessions:   slices.Clone(s.sessions),
		outcomes:   slices.Clone(s.outcomes),
	}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.aggregates = snap.aggregates
		s.sensitive = snap.sensitive
		s.sessions = snap.sessions
		s.outcomes = snap.outcomes
		s.mu.Unlock()
		return err
	}
	return nil
}

func inMemTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

// write runs fn under the data lock, also taking the writer lock when the
// caller is not already inside RunInTx.
func (s *InMemory) write(ctx context.Context, fn func() error) error {
	if !inMemTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *InMemory) CreateAggregate(ctx context.Context, rec *models.AggregateRecord) error {
	return s.write(ctx, func() error {
		if _, ok := s.aggregates[rec.CaseID]; ok {
			return fmt.Errorf("case %s: %w", rec.CaseID, sentinel.ErrConflict)
		}
		s.aggregates[rec.CaseID] = *rec
		return nil
	})
}

func (s *InMemory) CreateSensitive(ctx context.Context, rec *models.SensitiveRecord) error {
	return s.write(ctx, func() error {
		if _, ok := s.aggregates[rec.CaseID]; !ok {
			return fmt.Errorf("case %s: %w", rec.CaseID, sentinel.ErrNotFound)
		}
		if _, ok := s.sensitive[rec.CaseID]; ok {
			return fmt.Errorf("intake %s: %w", rec.CaseID, sentinel.ErrConflict)
		}
		if !rec.ExpiresAt.After(rec.CreatedAt) {
			return fmt.Errorf("intake %s: expiry must follow creation: %w", rec.CaseID, sentinel.ErrInvalidState)
		}
		s.sensitive[rec.CaseID] = cloneSensitive(*rec)
		return nil
	})
}

func (s *InMemory) FindAggregate(_ context.Context, caseID uuid.UUID) (*models.AggregateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.aggregates[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &rec, nil
}

func (s *InMemory) FindSensitive(_ context.Context, caseID uuid.UUID) (*models.SensitiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sensitive[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneSensitive(rec)
	return &out, nil
}

func (s *InMemory) MarkProcessed(ctx context.Context, caseID uuid.UUID, at time.Time, by, externalRef string, notes []byte) error {
	return s.write(ctx, func() error {
		rec, ok := s.sensitive[caseID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if rec.Processed {
			return fmt.Errorf("intake %s already processed: %w", caseID, sentinel.ErrInvalidState)
		}
		rec = cloneSensitive(rec)
		rec.Processed = true
		rec.ProcessedAt = &at
		rec.ProcessedBy = by
		rec.ExternalRef = externalRef
		if notes != nil {
			rec.Fields[models.FieldProcessingNotes] = slices.Clone(notes)
		}
		s.sensitive[caseID] = rec

		agg := s.aggregates[caseID]
		agg.ProcessedAt = &at
		agg.UpdatedAt = at
		s.aggregates[caseID] = agg
		return nil
	})
}

func (s *InMemory) DeleteSensitive(ctx context.Context, caseID uuid.UUID) error {
	return s.write(ctx, func() error {
		if _, ok := s.sensitive[caseID]; !ok {
			return sentinel.ErrNotFound
		}
		delete(s.sensitive, caseID)
		return nil
	})
}

func (s *InMemory) UpdateStatus(ctx context.Context, caseID uuid.UUID, from, to models.Status, at time.Time) error {
	return s.write(ctx, func() error {
		agg, ok := s.aggregates[caseID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if agg.Status != from {
			return fmt.Errorf("case %s is %s: %w", caseID, agg.Status, sentinel.ErrInvalidState)
		}
		agg.Status = to
		agg.UpdatedAt = at
		s.aggregates[caseID] = agg
		return nil
	})
}

func (s *InMemory) AddSession(ctx context.Context, session *models.Session) error {
	return s.write(ctx, func() error {
		agg, ok := s.aggregates[session.CaseID]
		if !ok {
			return sentinel.ErrNotFound
		}
		s.sessions = append(s.sessions, *session)
		agg.SessionCount++
		agg.UpdatedAt = session.CreatedAt
		s.aggregates[session.CaseID] = agg
		return nil
	})
}

func (s *InMemory) AddOutcome(ctx context.Context, outcome *models.Outcome) error {
	return s.write(ctx, func() error {
		agg, ok := s.aggregates[outcome.CaseID]
		if !ok {
			return sentinel.ErrNotFound
		}
		s.outcomes = append(s.outcomes, *outcome)
		agg.OutcomeCollected = true
		agg.UpdatedAt = outcome.CreatedAt
		s.aggregates[outcome.CaseID] = agg
		return nil
	})
}

func (s *InMemory) ListQueue(_ context.Context, filter models.QueueFilter) ([]models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]models.QueueItem, 0, len(s.sensitive))
	for id, rec := range s.sensitive {
		if filter.Processed != nil && rec.Processed != *filter.Processed {
			continue
		}
		agg := s.aggregates[id]
		items = append(items, models.QueueItem{
			CaseID:       id,
			DistrictCode: agg.DistrictCode,
			SchoolCode:   agg.SchoolCode,
			HasInsurance: agg.InsurancePresent,
			SafetyFlag:   rec.ImmediateSafetyConcern,
			Processed:    rec.Processed,
			ProcessedAt:  rec.ProcessedAt,
			CreatedAt:    rec.CreatedAt,
			ExpiresAt:    rec.ExpiresAt,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].CaseID.String() < items[j].CaseID.String()
	})
	return page(items, filter.Offset, filter.Limit), nil
}

func (s *InMemory) ListAggregates(_ context.Context, filter models.CaseFilter) ([]models.AggregateRecord, int, error) {
	rows := s.matching(filter)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].CaseID.String() < rows[j].CaseID.String()
	})
	return page(rows, filter.Offset, filter.Limit), len(rows), nil
}

func (s *InMemory) Summarize(_ context.Context, filter models.CaseFilter) (*models.Summary, error) {
	return summarize(s.matching(filter)), nil
}

// ListPurgeCandidates returns sensitive records whose expiry or processed
// time has passed the given cutoffs, ordered by case id after the cursor.
func (s *InMemory) ListPurgeCandidates(_ context.Context, q models.PurgeQuery) ([]models.PurgeCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PurgeCandidate
	for id, rec := range s.sensitive {
		if q.After != uuid.Nil && id.String() <= q.After.String() {
			continue
		}
		expired := !rec.ExpiresAt.After(q.ExpiredBy)
		processed := q.ProcessedBefore != nil && rec.Processed && rec.ProcessedAt != nil && !rec.ProcessedAt.After(*q.ProcessedBefore)
		if !expired && !processed {
			continue
		}
		out = append(out, models.PurgeCandidate{
			CaseID:       id,
			DistrictCode: s.aggregates[id].DistrictCode,
			Processed:    rec.Processed,
			ProcessedAt:  rec.ProcessedAt,
			CreatedAt:    rec.CreatedAt,
			ExpiresAt:    rec.ExpiresAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CaseID.String() < out[j].CaseID.String() })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Sessions returns the session log for a case.
func (s *InMemory) Sessions(caseID uuid.UUID) []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.CaseID == caseID {
			out = append(out, sess)
		}
	}
	return out
}

func (s *InMemory) matching(f models.CaseFilter) []models.AggregateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AggregateRecord
	for _, rec := range s.aggregates {
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	return out
}

func matches(rec models.AggregateRecord, f models.CaseFilter) bool {
	if f.DistrictCode != "" && rec.DistrictCode != f.DistrictCode {
		return false
	}
	if f.SchoolCode != "" && rec.SchoolCode != f.SchoolCode {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.From != nil && rec.ReferralDate.Before(models.DateOnly(*f.From)) {
		return false
	}
	if f.To != nil && rec.ReferralDate.After(models.DateOnly(*f.To)) {
		return false
	}
	return true
}

func summarize(rows []models.AggregateRecord) *models.Summary {
	sum := &models.Summary{}
	byStatus := map[string]int{}
	byDistrict := map[string]int{}
	bySchool := map[string]int{}
	byBand := map[string]int{}
	for _, r := range rows {
		sum.TotalReferrals++
		if r.OptInType == models.OptInFuture {
			sum.TotalOptIns++
		}
		switch r.Status {
		case models.StatusActive:
			sum.ActiveCases++
		case models.StatusPending:
			sum.PendingIntakes++
		}
		sum.CompletedSessions += r.SessionCount
		if r.OutcomeCollected {
			sum.OutcomesCollected++
		}
		byStatus[string(r.Status)]++
		byDistrict[r.DistrictCode]++
		bySchool[r.SchoolCode]++
		byBand[r.GradeBand]++
	}
	sum.ByStatus = counts(byStatus)
	sum.ByDistrict = counts(byDistrict)
	sum.BySchool = counts(bySchool)
	sum.ByGradeBand = counts(byBand)
	return sum
}

func counts(m map[string]int) []models.Count {
	out := make([]models.Count, 0, len(m))
	for k, v := range m {
		out = append(out, models.Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneSensitive(rec models.SensitiveRecord) models.SensitiveRecord {
	fields := make(map[models.FieldName][]byte, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = slices.Clone(v)
	}
	rec.Fields = fields
	return rec
}
