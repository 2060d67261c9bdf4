package models

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "intakehub/pkg/domain-errors"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// CreateUserRequest is the body of POST /api/v1/admin/users.
type CreateUserRequest struct {
	Email        string `json:"email" validate:"required,email,max=255"`
	FullName     string `json:"full_name" validate:"required,max=255"`
	Password     string `json:"password" validate:"required,max=72"`
	Role         string `json:"role" validate:"required,oneof=full_admin org_admin org_viewer"`
	DistrictCode string `json:"district_code" validate:"omitempty,max=32"`
	SchoolCode   string `json:"school_code" validate:"omitempty,max=32"`
}

// UpdateProfileRequest is the body of PATCH /auth/me. A nil FullName leaves
// the name unchanged; a password change must present the current password.
type UpdateProfileRequest struct {
	FullName        *string `json:"full_name" validate:"omitempty,max=255"`
	CurrentPassword string  `json:"current_password" validate:"required_with=NewPassword,max=128"`
	NewPassword     string  `json:"new_password" validate:"omitempty,max=72"`
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   int     `json:"expires_in"`
	User        Profile `json:"user"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (r *LoginRequest) Validate() error {
	return validateStruct(r, "invalid login request")
}

func (r *CreateUserRequest) Validate() error {
	return validateStruct(r, "invalid user")
}

func (r *UpdateProfileRequest) Validate() error {
	if err := validateStruct(r, "invalid profile update"); err != nil {
		return err
	}
	if r.FullName != nil && strings.TrimSpace(*r.FullName) == "" {
		return dErrors.Validation("invalid profile update",
			dErrors.FieldError{Field: "full_name", Message: "must not be blank"})
	}
	if r.FullName == nil && r.NewPassword == "" {
		return dErrors.New(dErrors.CodeBadRequest, "nothing to update")
	}
	return nil
}

func validateStruct(v any, msg string) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, msg)
	}
	fields := make([]dErrors.FieldError, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, dErrors.FieldError{Field: fe.Field(), Message: messageFor(fe)})
	}
	return dErrors.Validation(msg, fields...)
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_with":
		return "is required to change the password"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must have at most " + fe.Param() + " characters"
	}
	return "is invalid"
}
