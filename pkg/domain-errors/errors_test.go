package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCodeThroughWrapping(t *testing.T) {
	base := New(CodeNotFound, "case not found")
	wrapped := fmt.Errorf("load case: %w", base)

	assert.True(t, HasCode(wrapped, CodeNotFound))
	assert.False(t, HasCode(wrapped, CodeConflict))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.False(t, HasCode(nil, CodeInternal))
}

func TestErrorsIsMatchesCodeAndMessage(t *testing.T) {
	err := Wrap(errors.New("driver closed"), CodeUnauthorized, "invalid token")

	assert.ErrorIs(t, err, New(CodeUnauthorized, "invalid token"))
	assert.NotErrorIs(t, err, New(CodeUnauthorized, "token has expired"))
}

func TestValidationCarriesFields(t *testing.T) {
	err := fmt.Errorf("submit: %w", Validation("invalid submission",
		FieldError{Field: "date_of_birth", Message: "must be YYYY-MM-DD"}))

	fields := FieldsOf(err)
	assert.Len(t, fields, 1)
	assert.Equal(t, "date_of_birth", fields[0].Field)
	assert.True(t, HasCode(err, CodeValidation))
}
