package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "intakehub/pkg/domain-errors"
)

func TestLoginRequestValidate(t *testing.T) {
	require.NoError(t, (&LoginRequest{Email: "a@example.org", Password: "x"}).Validate())

	err := (&LoginRequest{Email: "not-an-email"}).Validate()
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	fields := map[string]string{}
	for _, f := range dErrors.FieldsOf(err) {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "is required", fields["password"])
}

func TestCreateUserRequestRejectsPublicRole(t *testing.T) {
	req := CreateUserRequest{
		Email: "new@example.org", FullName: "New Person", Password: "long-enough-secret", Role: "public",
	}
	err := req.Validate()
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Equal(t, "role", dErrors.FieldsOf(err)[0].Field)
}

func TestNewUserNormalizes(t *testing.T) {
	u, err := NewUser(" Admin@Example.ORG ", " Ada ", "hash", "org_admin", " ches ", "ches_001", testNow)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.org", u.Email)
	assert.Equal(t, "Ada", u.FullName)
	assert.Equal(t, "CHES", u.DistrictCode)
	assert.Equal(t, "CHES_001", u.SchoolCode)
	assert.True(t, u.Active)

	_, err = NewUser("bad", "x", "hash", "org_admin", "", "", testNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

var testNow = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

func TestUpdateProfileRequestValidate(t *testing.T) {
	name := "Renamed Person"
	require.NoError(t, (&UpdateProfileRequest{FullName: &name}).Validate())
	require.NoError(t, (&UpdateProfileRequest{CurrentPassword: "old", NewPassword: "a-new-password"}).Validate())

	err := (&UpdateProfileRequest{NewPassword: "a-new-password"}).Validate()
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Equal(t, "current_password", dErrors.FieldsOf(err)[0].Field)

	blank := "   "
	err = (&UpdateProfileRequest{FullName: &blank}).Validate()
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Equal(t, "full_name", dErrors.FieldsOf(err)[0].Field)

	assert.True(t, dErrors.HasCode((&UpdateProfileRequest{}).Validate(), dErrors.CodeBadRequest))
}
