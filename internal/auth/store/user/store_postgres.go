package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"intakehub/internal/auth/models"
	"intakehub/internal/platform/postgres"
	"intakehub/pkg/platform/sentinel"
	txcontext "intakehub/pkg/platform/tx"
)

// PostgresUserStore persists users in the users table.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userColumns = `id, email, full_name, password_hash, role, district_code, school_code, active, created_at`

func (s *PostgresUserStore) Create(ctx context.Context, u *models.User) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.FullName, u.PasswordHash, u.Role, u.DistrictCode, u.SchoolCode, u.Active, u.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *PostgresUserStore) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Role,
		&u.DistrictCode, &u.SchoolCode, &u.Active, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// Update saves the mutable profile fields: name and password hash.
func (s *PostgresUserStore) Update(ctx context.Context, u *models.User) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`UPDATE users SET full_name = $2, password_hash = $3 WHERE id = $1`,
		u.ID, u.FullName, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresUserStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `UPDATE users SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresUserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
