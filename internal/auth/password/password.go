// Package password hashes and verifies staff passwords with bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "intakehub/pkg/domain-errors"
)

// MinLength is the shortest password accepted for new accounts.
const MinLength = 12

// Hasher hashes at a fixed bcrypt cost. dummy is compared against when the
// account does not exist so unknown emails cost the same as wrong passwords.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher returns a Hasher. A cost outside bcrypt's range falls back to
// the default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("intakehub-dummy-password"), cost)
	if err != nil {
		panic(fmt.Sprintf("password: dummy hash: %v", err))
	}
	return &Hasher{cost: cost, dummy: dummy}
}

// Hash creates a bcrypt hash of the provided password.
func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) < MinLength {
		return "", dErrors.Validation("weak password",
			dErrors.FieldError{Field: "password", Message: fmt.Sprintf("must have at least %d characters", MinLength)})
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.Validation("weak password",
				dErrors.FieldError{Field: "password", Message: "must be at most 72 bytes"})
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plain matches hash. An empty hash is compared
// against a dummy digest and always fails.
func (h *Hasher) Verify(plain, hash string) (bool, error) {
	digest := []byte(hash)
	if hash == "" {
		digest = h.dummy
	}
	err := bcrypt.CompareHashAndPassword(digest, []byte(plain))
	switch {
	case err == nil:
		return hash != "", nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	}
	return false, fmt.Errorf("could not verify password: %w", err)
}
