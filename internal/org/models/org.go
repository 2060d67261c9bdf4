package models

import (
	"regexp"
	"strings"
	"time"

	dErrors "intakehub/pkg/domain-errors"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_]{2,32}$`)

// Grade bands tracked on the dashboard.
const (
	GradeBandElementary = "K-5"
	GradeBandMiddle     = "6-8"
	GradeBandHigh       = "9-12"
)

// District is the top-level organization unit.
type District struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Region    string    `json:"region,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// School belongs to exactly one district.
type School struct {
	Code         string    `json:"code"`
	DistrictCode string    `json:"district_code"`
	Name         string    `json:"name"`
	GradeBands   []string  `json:"grade_bands"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// DistrictWithSchools is the public listing shape.
type DistrictWithSchools struct {
	District
	Schools []School `json:"schools"`
}

// NormalizeCode upper-cases and trims an organization code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewDistrict validates and builds an active district.
func NewDistrict(code, name, region string, now time.Time) (*District, error) {
	code = NormalizeCode(code)
	if !codePattern.MatchString(code) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "district code must be 2-32 characters of A-Z, 0-9 or _")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "district name is required")
	}
	return &District{Code: code, Name: name, Region: strings.TrimSpace(region), Active: true, CreatedAt: now}, nil
}

// NewSchool validates and builds an active school.
func NewSchool(code, districtCode, name string, gradeBands []string, now time.Time) (*School, error) {
	code = NormalizeCode(code)
	if !codePattern.MatchString(code) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "school code must be 2-32 characters of A-Z, 0-9 or _")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "school name is required")
	}
	for _, b := range gradeBands {
		switch b {
		case GradeBandElementary, GradeBandMiddle, GradeBandHigh:
		default:
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown grade band "+b)
		}
	}
	if gradeBands == nil {
		gradeBands = []string{}
	}
	return &School{
		Code:         code,
		DistrictCode: NormalizeCode(districtCode),
		Name:         name,
		GradeBands:   gradeBands,
		Active:       true,
		CreatedAt:    now,
	}, nil
}
