// Package models holds the identity records behind staff logins.
package models

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "intakehub/pkg/domain-errors"
)

// User is a staff account. PasswordHash is a bcrypt digest and never
// leaves the auth service.
type User struct {
	ID           uuid.UUID
	Email        string
	FullName     string
	PasswordHash string
	Role         string
	DistrictCode string
	SchoolCode   string
	Active       bool
	CreatedAt    time.Time
}

// Profile is the client-facing view of a user.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	DistrictCode string    `json:"district_code,omitempty"`
	SchoolCode   string    `json:"school_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser validates identity fields and builds an active user. Role and
// organization binding are checked by the service, which owns the policy
// and organization lookups.
func NewUser(email, fullName, passwordHash, role, districtCode, schoolCode string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is not a valid address")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash is required")
	}
	return &User{
		ID:           uuid.New(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: passwordHash,
		Role:         role,
		DistrictCode: strings.ToUpper(strings.TrimSpace(districtCode)),
		SchoolCode:   strings.ToUpper(strings.TrimSpace(schoolCode)),
		Active:       true,
		CreatedAt:    now,
	}, nil
}

// Profile returns the client-facing view.
func (u *User) Profile() Profile {
	return Profile{
		ID:           u.ID.String(),
		Email:        u.Email,
		FullName:     u.FullName,
		Role:         u.Role,
		DistrictCode: u.DistrictCode,
		SchoolCode:   u.SchoolCode,
		CreatedAt:    u.CreatedAt,
	}
}
