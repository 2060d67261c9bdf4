package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"intakehub/internal/intake/documents"
	"intakehub/internal/intake/models"
	"intakehub/internal/policy"
	dErrors "intakehub/pkg/domain-errors"
	audit "intakehub/pkg/platform/audit"
	"intakehub/pkg/platform/sentinel"
	"intakehub/pkg/requestcontext"
)

const defaultBatchSize = 500

// Store is the slice of the intake store the sweep needs.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListPurgeCandidates(ctx context.Context, q models.PurgeQuery) ([]models.PurgeCandidate, error)
	DeleteSensitive(ctx context.Context, caseID uuid.UUID) error
}

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// DocumentStore removes insurance card images.
type DocumentStore interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

type Metrics interface {
	AddPurged(reason string, n int)
}

// Purger applies Select to the store in chunks.
type Purger struct {
	store     Store
	audit     AuditRecorder
	documents DocumentStore
	metrics   Metrics
	logger    *slog.Logger
	policy    Policy
	batchSize int
}

type Option func(*Purger)

func WithDocumentStore(d DocumentStore) Option {
	return func(p *Purger) {
		p.documents = d
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Purger) {
		p.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Purger) {
		p.logger = logger
	}
}

func WithPolicy(policy Policy) Option {
	return func(p *Purger) {
		p.policy = policy
	}
}

func WithBatchSize(n int) Option {
	return func(p *Purger) {
		p.batchSize = n
	}
}

func NewPurger(store Store, recorder AuditRecorder, opts ...Option) *Purger {
	p := &Purger{
		store:     store,
		audit:     recorder,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	return p
}

// Result summarizes one sweep.
type Result struct {
	Purged   int            `json:"purged"`
	ByReason map[Reason]int `json:"by_reason"`
	Failed   int            `json:"failed"`
}

// Sweep destroys every sensitive record whose deadline is at or before now.
// Each deletion and its purge audit entry commit together. Records already
// gone are skipped, so repeated sweeps are harmless. Per-record failures are
// counted and joined into the returned error; the sweep keeps going.
func (p *Purger) Sweep(ctx context.Context, now time.Time) (*Result, error) {
	res := &Result{ByReason: make(map[Reason]int)}
	query := models.PurgeQuery{ExpiredBy: now, Limit: p.batchSize}
	if p.policy.graceEnabled() {
		cutoff := now.Add(-p.policy.ProcessedGrace)
		query.ProcessedBefore = &cutoff
	}

	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		candidates, err := p.store.ListPurgeCandidates(ctx, query)
		if err != nil {
			return res, fmt.Errorf("list purge candidates: %w", err)
		}
		for _, d := range Select(now, p.policy, candidates) {
			purged, err := p.purge(ctx, d)
			if err != nil {
				res.Failed++
				errs = append(errs, fmt.Errorf("purge %s: %w", d.CaseID, err))
				p.logger.ErrorContext(ctx, "failed to purge intake record",
					"case_id", d.CaseID,
					"reason", d.Reason,
					"error", err,
				)
				continue
			}
			if purged {
				res.Purged++
				res.ByReason[d.Reason]++
			}
		}
		if len(candidates) < p.batchSize {
			break
		}
		query.After = candidates[len(candidates)-1].CaseID
	}

	for reason, n := range res.ByReason {
		if p.metrics != nil {
			p.metrics.AddPurged(string(reason), n)
		}
	}
	p.logger.InfoContext(ctx, "retention sweep finished",
		"purged", res.Purged,
		"failed", res.Failed,
		"request_id", requestcontext.RequestID(ctx),
	)
	return res, errors.Join(errs...)
}

func (p *Purger) purge(ctx context.Context, d Deletion) (bool, error) {
	actorID, actorRole := audit.SystemActor, "system"
	if actor := policy.ActorFrom(ctx); actor.Role != policy.RolePublic {
		actorID, actorRole = actor.ID, string(actor.Role)
	}

	err := p.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := p.store.DeleteSensitive(ctx, d.CaseID); err != nil {
			return err
		}
		return p.audit.Record(ctx, audit.Entry{
			ActorID:      actorID,
			ActorRole:    actorRole,
			Action:       audit.ActionPurge,
			ResourceType: audit.ResourceIntake,
			ResourceID:   d.CaseID.String(),
			DistrictCode: d.DistrictCode,
			Detail: map[string]string{
				"reason":   string(d.Reason),
				"deadline": d.Deadline.UTC().Format(time.RFC3339),
			},
		})
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if p.documents != nil {
		if err := p.documents.DeletePrefix(ctx, documents.CasePrefix(d.CaseID)); err != nil {
			p.logger.WarnContext(ctx, "failed to delete purged case documents",
				"case_id", d.CaseID,
				"error", err,
			)
		}
	}
	return true, nil
}

// RequestSweep runs a sweep on behalf of an authenticated administrator.
// Only a caller granted full sensitive-write access may trigger it.
func (p *Purger) RequestSweep(ctx context.Context) (*Result, error) {
	actor := policy.ActorFrom(ctx)
	if policy.Authorize(actor, policy.Resource{Kind: policy.KindSensitiveWrite}) != policy.Full {
		return nil, dErrors.New(dErrors.CodeForbidden, "full-access administrator role required")
	}
	res, err := p.Sweep(ctx, requestcontext.Now(ctx).UTC())
	if err != nil && res != nil && res.Failed > 0 {
		return res, dErrors.Wrap(err, dErrors.CodeInternal, "sweep finished with failures")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sweep failed")
	}
	return res, nil
}
