package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"intakehub/internal/org/models"
	"intakehub/internal/platform/postgres"
	"intakehub/pkg/platform/sentinel"
	txcontext "intakehub/pkg/platform/tx"
)

// PostgresStore persists organization units.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateDistrict(ctx context.Context, d *models.District) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO districts (code, name, region, active, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.Code, d.Name, d.Region, d.Active, d.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("district %s: %w", d.Code, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert district: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSchool(ctx context.Context, sc *models.School) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO schools (code, district_code, name, grade_bands, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sc.Code, sc.DistrictCode, sc.Name, pq.Array(sc.GradeBands), sc.Active, sc.CreatedAt)
	if err != nil {
		switch {
		case postgres.IsUniqueViolation(err):
			return fmt.Errorf("school %s: %w", sc.Code, sentinel.ErrConflict)
		case postgres.IsForeignKeyViolation(err):
			return fmt.Errorf("district %s: %w", sc.DistrictCode, sentinel.ErrNotFound)
		}
		return fmt.Errorf("insert school: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindDistrict(ctx context.Context, code string) (*models.District, error) {
	var d models.District
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT code, name, region, active, created_at FROM districts WHERE code = $1`, code,
	).Scan(&d.Code, &d.Name, &d.Region, &d.Active, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find district: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) FindSchool(ctx context.Context, code string) (*models.School, error) {
	var sc models.School
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT code, district_code, name, grade_bands, active, created_at FROM schools WHERE code = $1`, code,
	).Scan(&sc.Code, &sc.DistrictCode, &sc.Name, pq.Array(&sc.GradeBands), &sc.Active, &sc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find school: %w", err)
	}
	return &sc, nil
}

func (s *PostgresStore) ListDistricts(ctx context.Context) ([]models.District, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, region, active, created_at FROM districts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list districts: %w", err)
	}
	defer rows.Close()

	var out []models.District
	for rows.Next() {
		var d models.District
		if err := rows.Scan(&d.Code, &d.Name, &d.Region, &d.Active, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan district: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListSchools(ctx context.Context, districtCode string) ([]models.School, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, district_code, name, grade_bands, active, created_at
		FROM schools
		WHERE $1 = '' OR district_code = $1
		ORDER BY name`, districtCode)
	if err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	defer rows.Close()

	var out []models.School
	for rows.Next() {
		var sc models.School
		if err := rows.Scan(&sc.Code, &sc.DistrictCode, &sc.Name, pq.Array(&sc.GradeBands), &sc.Active, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan school: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetDistrictActive(ctx context.Context, code string, active bool) error {
	return s.setActive(ctx, `UPDATE districts SET active = $2 WHERE code = $1`, code, active)
}

func (s *PostgresStore) SetSchoolActive(ctx context.Context, code string, active bool) error {
	return s.setActive(ctx, `UPDATE schools SET active = $2 WHERE code = $1`, code, active)
}

func (s *PostgresStore) setActive(ctx context.Context, query, code string, active bool) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, query, code, active)
	if err != nil {
		return fmt.Errorf("update active flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
