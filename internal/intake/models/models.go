// Package models holds the two halves of an intake case: the permanent,
// non-identifying aggregate record and the temporary encrypted sensitive
// record, joined only by the opaque case id.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the service lifecycle of a case.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts only the four known statuses.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// CanTransitionTo reports whether an administrator may move a case from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// OptInType records whether the family wants service now or later.
type OptInType string

const (
	OptInImmediate OptInType = "immediate_service"
	OptInFuture    OptInType = "future_eligibility"
)

// AggregateRecord is the dashboard row. It never holds identifying data.
type AggregateRecord struct {
	CaseID           uuid.UUID  `json:"case_id"`
	DistrictCode     string     `json:"district_code"`
	SchoolCode       string     `json:"school_code"`
	GradeBand        string     `json:"grade_band"`
	ReferralSource   string     `json:"referral_source"`
	OptInType        OptInType  `json:"opt_in_type"`
	ReferralDate     time.Time  `json:"referral_date"`
	FiscalPeriod     string     `json:"fiscal_period"`
	InsurancePresent bool       `json:"insurance_present"`
	Status           Status     `json:"status"`
	SessionCount     int        `json:"session_count"`
	OutcomeCollected bool       `json:"outcome_collected"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SensitiveRecord is the intake queue entry. Every value in Fields is
// ciphertext produced independently per field.
type SensitiveRecord struct {
	CaseID                 uuid.UUID
	Fields                 map[FieldName][]byte
	ImmediateSafetyConcern bool
	AuthorizationConsent   bool
	Processed              bool
	ProcessedAt            *time.Time
	ProcessedBy            string
	ExternalRef            string
	CreatedAt              time.Time
	ExpiresAt              time.Time
}

// Session is one delivered service session. Append-only.
type Session struct {
	ID          uuid.UUID `json:"id"`
	CaseID      uuid.UUID `json:"case_id"`
	SessionDate time.Time `json:"session_date"`
	SessionType string    `json:"session_type"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session types.
const (
	SessionIndividual = "individual"
	SessionGroup      = "group"
	SessionFamily     = "family"
)

// ValidSessionType reports whether t is a known session type.
func ValidSessionType(t string) bool {
	return t == SessionIndividual || t == SessionGroup || t == SessionFamily
}

// Outcome is an aggregate measurement for a case. Append-only.
type Outcome struct {
	ID           uuid.UUID `json:"id"`
	CaseID       uuid.UUID `json:"case_id"`
	OutcomeType  string    `json:"outcome_type"`
	OutcomeValue string    `json:"outcome_value"`
	MeasuredDate time.Time `json:"measured_date"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// QueueItem is the administrator's queue row. No field is decrypted.
type QueueItem struct {
	CaseID       uuid.UUID  `json:"case_id"`
	DistrictCode string     `json:"district_code"`
	SchoolCode   string     `json:"school_code"`
	HasInsurance bool       `json:"has_insurance"`
	SafetyFlag   bool       `json:"immediate_safety_concern"`
	Processed    bool       `json:"processed"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// QueueFilter narrows the intake queue listing.
type QueueFilter struct {
	Processed *bool
	Limit     int
	Offset    int
}

// CaseFilter narrows aggregate reads. Empty fields match everything.
type CaseFilter struct {
	DistrictCode string
	SchoolCode   string
	From         *time.Time
	To           *time.Time
	Status       Status
	Limit        int
	Offset       int
}

// Count is one bucket of a grouped aggregate count.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary is the dashboard headline block.
type Summary struct {
	TotalReferrals    int     `json:"total_referrals"`
	TotalOptIns       int     `json:"total_opt_ins"`
	ActiveCases       int     `json:"active_cases"`
	PendingIntakes    int     `json:"pending_intakes"`
	CompletedSessions int     `json:"completed_sessions"`
	OutcomesCollected int     `json:"outcomes_collected"`
	ByStatus          []Count `json:"by_status"`
	ByDistrict        []Count `json:"by_district"`
	BySchool          []Count `json:"by_school"`
	ByGradeBand       []Count `json:"by_grade_band"`
}

// PurgeCandidate is the slice of a sensitive record the retention sweep needs.
type PurgeCandidate struct {
	CaseID       uuid.UUID
	DistrictCode string
	Processed    bool
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// PurgeQuery selects retention candidates. A record qualifies when it
// expired by ExpiredBy or, when ProcessedBefore is set, was processed at or
// before it. Results are ordered by case id and start after After.
type PurgeQuery struct {
	ExpiredBy       time.Time
	ProcessedBefore *time.Time
	After           uuid.UUID
	Limit           int
}
