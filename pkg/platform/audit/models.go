// Package audit defines the append-only audit trail: who did what to which
// resource, in which organization scope, from where, and when.
//
// Entries are immutable. Stores expose Append and read methods only; there is
// no update or delete path, and entries outlive the resources they reference.
package audit

//go:generate mockgen -source=models.go -destination=mocks/audit-mocks.go -package=mocks Store,Reader

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names the operation being audited.
type Action string

const (
	ActionCreate  Action = "create"
	ActionView    Action = "view"
	ActionViewPHI Action = "view_phi"
	ActionUpdate  Action = "update"
	ActionProcess Action = "process"
	ActionPurge   Action = "purge"
	ActionExport  Action = "export"
	ActionLogin   Action = "login"
	ActionLogout  Action = "logout"
	ActionDenied  Action = "access_denied"
)

// Resource types referenced by entries.
const (
	ResourceIntake       = "intake"
	ResourceCase         = "case"
	ResourceDashboard    = "dashboard"
	ResourceUser         = "user"
	ResourceOrganization = "organization"
)

// SystemActor is recorded for scheduled operations with no human caller.
const SystemActor = "system:retention"

// Entry is a single audit record. Detail must never carry sensitive field
// values; callers put identifiers and counts there, not PHI.
type Entry struct {
	ID           uuid.UUID
	ActorID      string
	ActorRole    string
	Action       Action
	ResourceType string
	ResourceID   string
	DistrictCode string
	ClientIP     string
	UserAgent    string
	Device       string
	RequestID    string
	Detail       map[string]string
	CreatedAt    time.Time
}

// Store persists entries. Implementations join the caller's transaction when
// one is carried by ctx.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

// Reader lists entries for investigations and tests.
type Reader interface {
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}
