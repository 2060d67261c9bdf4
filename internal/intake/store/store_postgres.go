package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"intakehub/internal/intake/models"
	"intakehub/internal/platform/postgres"
	"intakehub/pkg/platform/sentinel"
	txcontext "intakehub/pkg/platform/tx"
)

// PostgresStore persists dashboard_records and intake_queue. The sensitive
// row references the aggregate row, so both must be written in one
// transaction (RunInTx) for a submission to be visible at all.
type PostgresStore struct {
	db        *sql.DB
	txTimeout time.Duration
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, txTimeout: txcontext.DefaultTimeout}
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, s.txTimeout, fn)
}

func (s *PostgresStore) CreateAggregate(ctx context.Context, rec *models.AggregateRecord) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO dashboard_records (
			case_id, district_code, school_code, grade_band, referral_source,
			opt_in_type, referral_date, fiscal_period, insurance_present, status,
			session_count, outcome_collected, processed_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.CaseID, rec.DistrictCode, rec.SchoolCode, rec.GradeBand, rec.ReferralSource,
		string(rec.OptInType), rec.ReferralDate, rec.FiscalPeriod, rec.InsurancePresent, string(rec.Status),
		rec.SessionCount, rec.OutcomeCollected, nullTime(rec.ProcessedAt), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		switch {
		case postgres.IsUniqueViolation(err):
			return fmt.Errorf("case %s: %w", rec.CaseID, sentinel.ErrConflict)
		case postgres.IsForeignKeyViolation(err):
			return fmt.Errorf("organization for case %s: %w", rec.CaseID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("insert dashboard record: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSensitive(ctx context.Context, rec *models.SensitiveRecord) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal intake fields: %w", err)
	}
	_, err = txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO intake_queue (
			case_id, fields, immediate_safety_concern, authorization_consent,
			processed, processed_at, processed_by, external_ref, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.CaseID, fields, rec.ImmediateSafetyConcern, rec.AuthorizationConsent,
		rec.Processed, nullTime(rec.ProcessedAt), rec.ProcessedBy, rec.ExternalRef, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		switch {
		case postgres.IsUniqueViolation(err):
			return fmt.Errorf("intake %s: %w", rec.CaseID, sentinel.ErrConflict)
		case postgres.IsForeignKeyViolation(err):
			return fmt.Errorf("case %s: %w", rec.CaseID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("insert intake record: %w", err)
	}
	return nil
}

const aggregateColumns = `
	case_id, district_code, school_code, grade_band, referral_source,
	opt_in_type, referral_date, fiscal_period, insurance_present, status,
	session_count, outcome_collected, processed_at, created_at, updated_at`

func (s *PostgresStore) FindAggregate(ctx context.Context, caseID uuid.UUID) (*models.AggregateRecord, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM dashboard_records WHERE case_id = $1`, caseID)
	rec, err := scanAggregate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find dashboard record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) FindSensitive(ctx context.Context, caseID uuid.UUID) (*models.SensitiveRecord, error) {
	var (
		rec         models.SensitiveRecord
		fields      []byte
		processedAt sql.NullTime
	)
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT case_id, fields, immediate_safety_concern, authorization_consent,
		       processed, processed_at, processed_by, external_ref, created_at, expires_at
		FROM intake_queue WHERE case_id = $1`, caseID,
	).Scan(&rec.CaseID, &fields, &rec.ImmediateSafetyConcern, &rec.AuthorizationConsent,
		&rec.Processed, &processedAt, &rec.ProcessedBy, &rec.ExternalRef, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find intake record: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal intake fields: %w", err)
	}
	rec.ProcessedAt = timePtr(processedAt)
	return &rec, nil
}

// MarkProcessed flips the processed flag once and mirrors the timestamp onto
// the dashboard record.
func (s *PostgresStore) MarkProcessed(ctx context.Context, caseID uuid.UUID, at time.Time, by, externalRef string, notes []byte) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.Pick(ctx, s.db)
		var processed bool
		err := exec.QueryRowContext(ctx,
			`SELECT processed FROM intake_queue WHERE case_id = $1 FOR UPDATE`, caseID,
		).Scan(&processed)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock intake record: %w", err)
		}
		if processed {
			return fmt.Errorf("intake %s already processed: %w", caseID, sentinel.ErrInvalidState)
		}

		if notes != nil {
			patch, err := json.Marshal(map[models.FieldName][]byte{models.FieldProcessingNotes: notes})
			if err != nil {
				return fmt.Errorf("marshal processing notes: %w", err)
			}
			_, err = exec.ExecContext(ctx, `
				UPDATE intake_queue
				SET processed = TRUE, processed_at = $2, processed_by = $3, external_ref = $4,
				    fields = fields || $5::jsonb
				WHERE case_id = $1`, caseID, at, by, externalRef, patch)
			if err != nil {
				return fmt.Errorf("mark intake processed: %w", err)
			}
		} else {
			_, err = exec.ExecContext(ctx, `
				UPDATE intake_queue
				SET processed = TRUE, processed_at = $2, processed_by = $3, external_ref = $4
				WHERE case_id = $1`, caseID, at, by, externalRef)
			if err != nil {
				return fmt.Errorf("mark intake processed: %w", err)
			}
		}

		_, err = exec.ExecContext(ctx,
			`UPDATE dashboard_records SET processed_at = $2, updated_at = $2 WHERE case_id = $1`, caseID, at)
		if err != nil {
			return fmt.Errorf("mirror processed_at: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) DeleteSensitive(ctx context.Context, caseID uuid.UUID) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `DELETE FROM intake_queue WHERE case_id = $1`, caseID)
	if err != nil {
		return fmt.Errorf("delete intake record: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, caseID uuid.UUID, from, to models.Status, at time.Time) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE dashboard_records SET status = $3, updated_at = $4
		WHERE case_id = $1 AND status = $2`, caseID, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.FindAggregate(ctx, caseID); err != nil {
			return err
		}
		return fmt.Errorf("case %s is no longer %s: %w", caseID, from, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) AddSession(ctx context.Context, session *models.Session) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.Pick(ctx, s.db)
		res, err := exec.ExecContext(ctx, `
			UPDATE dashboard_records SET session_count = session_count + 1, updated_at = $2
			WHERE case_id = $1`, session.CaseID, session.CreatedAt)
		if err != nil {
			return fmt.Errorf("bump session count: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, `
			INSERT INTO case_sessions (id, case_id, session_date, session_type, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			session.ID, session.CaseID, session.SessionDate, session.SessionType, session.CreatedBy, session.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) AddOutcome(ctx context.Context, outcome *models.Outcome) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.Pick(ctx, s.db)
		res, err := exec.ExecContext(ctx, `
			UPDATE dashboard_records SET outcome_collected = TRUE, updated_at = $2
			WHERE case_id = $1`, outcome.CaseID, outcome.CreatedAt)
		if err != nil {
			return fmt.Errorf("flag outcome: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, `
			INSERT INTO case_outcomes (id, case_id, outcome_type, outcome_value, measured_date, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			outcome.ID, outcome.CaseID, outcome.OutcomeType, outcome.OutcomeValue,
			outcome.MeasuredDate, outcome.CreatedBy, outcome.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outcome: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListQueue(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error) {
	query := `
		SELECT q.case_id, d.district_code, d.school_code, d.insurance_present,
		       q.immediate_safety_concern, q.processed, q.processed_at, q.created_at, q.expires_at
		FROM intake_queue q
		JOIN dashboard_records d ON d.case_id = q.case_id`
	args := []any{}
	if filter.Processed != nil {
		args = append(args, *filter.Processed)
		query += fmt.Sprintf(" WHERE q.processed = $%d", len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY q.created_at, q.case_id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list intake queue: %w", err)
	}
	defer rows.Close()

	items := []models.QueueItem{}
	for rows.Next() {
		var (
			it          models.QueueItem
			processedAt sql.NullTime
		)
		if err := rows.Scan(&it.CaseID, &it.DistrictCode, &it.SchoolCode, &it.HasInsurance,
			&it.SafetyFlag, &it.Processed, &processedAt, &it.CreatedAt, &it.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		it.ProcessedAt = timePtr(processedAt)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListAggregates(ctx context.Context, filter models.CaseFilter) ([]models.AggregateRecord, int, error) {
	where, args := caseWhere(filter)
	exec := txcontext.Pick(ctx, s.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM dashboard_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dashboard records: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := exec.QueryContext(ctx,
		`SELECT `+aggregateColumns+` FROM dashboard_records`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, case_id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list dashboard records: %w", err)
	}
	defer rows.Close()

	out := []models.AggregateRecord{}
	for rows.Next() {
		rec, err := scanAggregate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan dashboard record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) Summarize(ctx context.Context, filter models.CaseFilter) (*models.Summary, error) {
	where, args := caseWhere(filter)
	exec := txcontext.Pick(ctx, s.db)

	sum := &models.Summary{}
	err := exec.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE opt_in_type = 'future_eligibility'),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COALESCE(SUM(session_count), 0),
		       COUNT(*) FILTER (WHERE outcome_collected)
		FROM dashboard_records`+where, args...,
	).Scan(&sum.TotalReferrals, &sum.TotalOptIns, &sum.ActiveCases, &sum.PendingIntakes,
		&sum.CompletedSessions, &sum.OutcomesCollected)
	if err != nil {
		return nil, fmt.Errorf("summarize dashboard records: %w", err)
	}

	for _, g := range []struct {
		column string
		dst    *[]models.Count
	}{
		{"status", &sum.ByStatus},
		{"district_code", &sum.ByDistrict},
		{"school_code", &sum.BySchool},
		{"grade_band", &sum.ByGradeBand},
	} {
		counts, err := groupCounts(ctx, exec, g.column, where, args)
		if err != nil {
			return nil, err
		}
		*g.dst = counts
	}
	return sum, nil
}

// ListPurgeCandidates implements the retention candidate query.
func (s *PostgresStore) ListPurgeCandidates(ctx context.Context, q models.PurgeQuery) ([]models.PurgeCandidate, error) {
	cond := `q.expires_at <= $1`
	args := []any{q.ExpiredBy}
	if q.ProcessedBefore != nil {
		args = append(args, *q.ProcessedBefore)
		cond = fmt.Sprintf(`(%s OR (q.processed AND q.processed_at <= $%d))`, cond, len(args))
	}
	args = append(args, q.After, q.Limit)
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, fmt.Sprintf(`
		SELECT q.case_id, d.district_code, q.processed, q.processed_at, q.created_at, q.expires_at
		FROM intake_queue q
		JOIN dashboard_records d ON d.case_id = q.case_id
		WHERE %s AND q.case_id > $%d
		ORDER BY q.case_id
		LIMIT $%d`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list purge candidates: %w", err)
	}
	defer rows.Close()

	var out []models.PurgeCandidate
	for rows.Next() {
		var (
			c           models.PurgeCandidate
			processedAt sql.NullTime
		)
		if err := rows.Scan(&c.CaseID, &c.DistrictCode, &c.Processed, &processedAt, &c.CreatedAt, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan purge candidate: %w", err)
		}
		c.ProcessedAt = timePtr(processedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func groupCounts(ctx context.Context, exec txcontext.Executor, column, where string, args []any) ([]models.Count, error) {
	rows, err := exec.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM dashboard_records`+where+` GROUP BY `+column+` ORDER BY `+column, args...)
	if err != nil {
		return nil, fmt.Errorf("group by %s: %w", column, err)
	}
	defer rows.Close()
	out := []models.Count{}
	for rows.Next() {
		var c models.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", column, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func caseWhere(f models.CaseFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.DistrictCode != "" {
		add("district_code = $%d", f.DistrictCode)
	}
	if f.SchoolCode != "" {
		add("school_code = $%d", f.SchoolCode)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("referral_date >= $%d", models.DateOnly(*f.From))
	}
	if f.To != nil {
		add("referral_date <= $%d", models.DateOnly(*f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAggregate(row scanner) (*models.AggregateRecord, error) {
	var (
		rec         models.AggregateRecord
		optIn       string
		status      string
		processedAt sql.NullTime
	)
	if err := row.Scan(&rec.CaseID, &rec.DistrictCode, &rec.SchoolCode, &rec.GradeBand, &rec.ReferralSource,
		&optIn, &rec.ReferralDate, &rec.FiscalPeriod, &rec.InsurancePresent, &status,
		&rec.SessionCount, &rec.OutcomeCollected, &processedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.OptInType = models.OptInType(optIn)
	rec.Status = models.Status(status)
	rec.ProcessedAt = timePtr(processedAt)
	return &rec, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
