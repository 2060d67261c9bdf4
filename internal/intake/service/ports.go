package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks -exclude_interfaces=Store,FieldCipher,SpreadsheetWriter,Metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"intakehub/internal/intake/models"
	orgmodels "intakehub/internal/org/models"
	audit "intakehub/pkg/platform/audit"
)

// Store persists both halves of a case. Every method joins the transaction
// opened by RunInTx when called with its context.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateAggregate(ctx context.Context, rec *models.AggregateRecord) error
	CreateSensitive(ctx context.Context, rec *models.SensitiveRecord) error
	FindAggregate(ctx context.Context, caseID uuid.UUID) (*models.AggregateRecord, error)
	FindSensitive(ctx context.Context, caseID uuid.UUID) (*models.SensitiveRecord, error)
	// MarkProcessed sets the processed flag once. It returns
	// sentinel.ErrInvalidState when the record is already processed.
	MarkProcessed(ctx context.Context, caseID uuid.UUID, at time.Time, by, externalRef string, notes []byte) error
	DeleteSensitive(ctx context.Context, caseID uuid.UUID) error
	// UpdateStatus moves a case only if it is still in from.
	UpdateStatus(ctx context.Context, caseID uuid.UUID, from, to models.Status, at time.Time) error
	AddSession(ctx context.Context, s *models.Session) error
	AddOutcome(ctx context.Context, o *models.Outcome) error

	ListQueue(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error)
	ListAggregates(ctx context.Context, filter models.CaseFilter) ([]models.AggregateRecord, int, error)
	Summarize(ctx context.Context, filter models.CaseFilter) (*models.Summary, error)
}

// OrgResolver resolves submitted organization codes.
type OrgResolver interface {
	Resolve(ctx context.Context, districtCode, schoolCode string) (*orgmodels.District, *orgmodels.School, error)
}

// FieldCipher encrypts and decrypts single field values.
type FieldCipher interface {
	Encrypt(ctx context.Context, plaintext string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) (string, error)
	Fingerprint(ctx context.Context, parts ...string) (string, error)
}

// AuditRecorder persists audit entries. Record fails closed.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Notifier tells operators a new intake is waiting. Best-effort.
type Notifier interface {
	NotifyNewIntake(ctx context.Context, event NewIntakeEvent) error
}

// NewIntakeEvent carries only non-identifying case facts.
type NewIntakeEvent struct {
	CaseID        uuid.UUID `json:"case_id"`
	DistrictCode  string    `json:"district_code"`
	SchoolCode    string    `json:"school_code"`
	OptInType     string    `json:"opt_in_type"`
	SafetyConcern bool      `json:"immediate_safety_concern"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// CaptchaVerifier checks the public form's CAPTCHA token.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// DuplicateGuard remembers recent submission fingerprints.
type DuplicateGuard interface {
	// Claim records fingerprint for ttl and reports false when it was
	// already present.
	Claim(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, fingerprint string) error
}

// DocumentStore holds insurance card images.
type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// SpreadsheetWriter renders aggregate rows for download.
type SpreadsheetWriter interface {
	WriteCases(rows []models.AggregateRecord) ([]byte, error)
}

// Metrics records intake counters.
type Metrics interface {
	IncSubmission(outcome string)
	IncSensitiveRead()
	IncProcessed()
	IncNotificationFailure()
	IncExport()
	AddPurged(reason string, n int)
}
