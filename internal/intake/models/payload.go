package models

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	dErrors "intakehub/pkg/domain-errors"
	"intakehub/pkg/platform/selection"
)

// Service request types as they arrive from the public form.
const (
	RequestStartNow    = "start_now"
	RequestOptInFuture = "opt_in_future"
)

// Referral sources. The aggregate record keeps this value, so it is a
// closed set and never free text.
const (
	ReferralParent    = "parent"
	ReferralTeacher   = "teacher"
	ReferralCounselor = "counselor"
	ReferralSelf      = "self"
	ReferralOther     = "other"
)

// Choice values that pull in a companion free-text field.
const (
	ServiceCategoryOther = "Other Service"
	RaceOther            = "Other (please specify)"
)

// IntakePayload is the public submission body.
type IntakePayload struct {
	DistrictCode         string               `json:"district_code" validate:"required,max=50"`
	SchoolCode           string               `json:"school_code" validate:"required,max=50"`
	ReferralSource       string               `json:"referral_source" validate:"omitempty,oneof=parent teacher counselor self other"`
	Student              StudentInformation   `json:"student_information"`
	Parent               ParentContact        `json:"parent_guardian_contact"`
	ServiceRequestType   string               `json:"service_request_type" validate:"required,oneof=start_now opt_in_future"`
	Insurance            InsuranceInformation `json:"insurance_information"`
	ServiceNeeds         ServiceNeeds         `json:"service_needs"`
	Demographics         Demographics         `json:"demographics"`
	ImmediateSafety      *bool                `json:"immediate_safety_concern" validate:"required"`
	AuthorizationConsent bool                 `json:"authorization_consent" validate:"required"`
	CaptchaToken         string               `json:"captcha_token"`
}

type StudentInformation struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	FullName    string `json:"full_name" validate:"required,max=255"`
	Grade       string `json:"grade" validate:"required,max=20"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	StudentID   string `json:"student_id" validate:"omitempty,max=100"`
}

type ParentContact struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
	Phone string `json:"phone" validate:"required,min=10,max=20"`
}

type InsuranceInformation struct {
	HasInsurance          *bool  `json:"has_insurance" validate:"required"`
	InsuranceCompany      string `json:"insurance_company" validate:"omitempty,max=255"`
	PolicyholderName      string `json:"policyholder_name" validate:"omitempty,max=255"`
	RelationshipToStudent string `json:"relationship_to_student" validate:"omitempty,max=100"`
	MemberID              string `json:"member_id" validate:"omitempty,max=100"`
	GroupNumber           string `json:"group_number" validate:"omitempty,max=100"`
	// Base64 image bodies, optionally as data URLs.
	CardFront string `json:"insurance_card_front"`
	CardBack  string `json:"insurance_card_back"`
}

type ServiceNeeds struct {
	ServiceCategory      []string `json:"service_category" validate:"required,min=1,dive,required"`
	ServiceCategoryOther string   `json:"service_category_other" validate:"omitempty,max=255"`
	SeverityOfConcern    string   `json:"severity_of_concern" validate:"required,oneof=mild moderate severe"`
	TypeOfServiceNeeded  []string `json:"type_of_service_needed" validate:"required,min=1,dive,required"`
	FamilyResources      []string `json:"family_resources"`
	ReferralConcern      []string `json:"referral_concern"`
}

type Demographics struct {
	SexAtBirth string   `json:"sex_at_birth" validate:"omitempty,max=50"`
	Race       []string `json:"race"`
	RaceOther  string   `json:"race_other" validate:"omitempty,max=255"`
	Ethnicity  []string `json:"ethnicity"`
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

// HasInsurance reports the insurance flag, treating an absent flag as false.
func (p *IntakePayload) HasInsurance() bool {
	return p.Insurance.HasInsurance != nil && *p.Insurance.HasInsurance
}

// SafetyConcern reports the safety flag, treating an absent flag as false.
func (p *IntakePayload) SafetyConcern() bool {
	return p.ImmediateSafety != nil && *p.ImmediateSafety
}

// OptInType maps the form's request type to the stored value.
func (p *IntakePayload) OptInType() OptInType {
	if p.ServiceRequestType == RequestStartNow {
		return OptInImmediate
	}
	return OptInFuture
}

// DateOfBirth parses the YYYY-MM-DD birth date.
func (p *IntakePayload) DateOfBirth() (time.Time, error) {
	return time.Parse(time.DateOnly, strings.TrimSpace(p.Student.DateOfBirth))
}

// Normalize cleans the multi-select lists in place so repeats and blank
// options never reach validation or storage. A missing referral source
// defaults to parent.
func (p *IntakePayload) Normalize() {
	p.ReferralSource = strings.ToLower(strings.TrimSpace(p.ReferralSource))
	if p.ReferralSource == "" {
		p.ReferralSource = ReferralParent
	}
	p.ServiceNeeds.ServiceCategory = selection.Clean(p.ServiceNeeds.ServiceCategory)
	p.ServiceNeeds.TypeOfServiceNeeded = selection.Clean(p.ServiceNeeds.TypeOfServiceNeeded)
	p.ServiceNeeds.FamilyResources = selection.Clean(p.ServiceNeeds.FamilyResources)
	p.ServiceNeeds.ReferralConcern = selection.Clean(p.ServiceNeeds.ReferralConcern)
	p.Demographics.Race = selection.Clean(p.Demographics.Race)
	p.Demographics.Ethnicity = selection.Clean(p.Demographics.Ethnicity)
}

// Validate applies struct rules and the conditional rules between fields.
// All failures are collected into one validation error.
func (p *IntakePayload) Validate() error {
	var fields []dErrors.FieldError

	if err := validate.Struct(p); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid submission")
		}
		for _, fe := range ve {
			fields = append(fields, dErrors.FieldError{
				Field:   fieldPath(fe.Namespace()),
				Message: messageFor(fe),
			})
		}
	}

	if p.Student.DateOfBirth != "" {
		if _, err := p.DateOfBirth(); err != nil {
			fields = append(fields, dErrors.FieldError{
				Field:   "student_information.date_of_birth",
				Message: "must be in YYYY-MM-DD format",
			})
		}
	}
	if p.HasInsurance() {
		for name, v := range map[string]string{
			"insurance_information.insurance_company": p.Insurance.InsuranceCompany,
			"insurance_information.policyholder_name": p.Insurance.PolicyholderName,
			"insurance_information.member_id":         p.Insurance.MemberID,
		} {
			if strings.TrimSpace(v) == "" {
				fields = append(fields, dErrors.FieldError{Field: name, Message: "is required when insurance is selected"})
			}
		}
	}
	if selection.Has(p.ServiceNeeds.ServiceCategory, ServiceCategoryOther) && strings.TrimSpace(p.ServiceNeeds.ServiceCategoryOther) == "" {
		fields = append(fields, dErrors.FieldError{
			Field:   "service_needs.service_category_other",
			Message: "is required when 'Other Service' is selected",
		})
	}
	if selection.Has(p.Demographics.Race, RaceOther) && strings.TrimSpace(p.Demographics.RaceOther) == "" {
		fields = append(fields, dErrors.FieldError{
			Field:   "demographics.race_other",
			Message: "is required when 'Other (please specify)' is selected",
		})
	}

	if len(fields) > 0 {
		slices.SortFunc(fields, func(a, b dErrors.FieldError) int { return strings.Compare(a.Field, b.Field) })
		return dErrors.Validation("submission failed validation", fields...)
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "authorization_consent" {
			return "must be accepted"
		}
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " characters or items"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "is invalid"
}
