// Package policy decides what a caller may see. It is a pure function of
// (actor, resource): no I/O, no mutation, no default-allow.
package policy

import (
	"context"
	"fmt"

	"intakehub/pkg/requestcontext"
)

// Role is the closed set of caller roles.
type Role string

const (
	RoleFullAdmin Role = "full_admin"
	RoleOrgAdmin  Role = "org_admin"
	RoleOrgViewer Role = "org_viewer"
	RolePublic    Role = "public"
)

// ParseRole accepts only the known roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleFullAdmin, RoleOrgAdmin, RoleOrgViewer, RolePublic:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Scoped reports whether the role is bound to one organization unit.
func (r Role) Scoped() bool {
	return r == RoleOrgAdmin || r == RoleOrgViewer
}

// Scope binds a caller to a district and optionally one school in it.
type Scope struct {
	DistrictCode string
	SchoolCode   string
}

// Actor is the caller as seen by the evaluator.
type Actor struct {
	ID    string
	Role  Role
	Scope Scope
}

// Public is the anonymous actor.
var Public = Actor{ID: "anonymous", Role: RolePublic}

// ActorFrom builds the actor from the authenticated principal in ctx.
// Anonymous requests and unknown roles both map to Public.
func ActorFrom(ctx context.Context) Actor {
	p, ok := requestcontext.PrincipalFrom(ctx)
	if !ok {
		return Public
	}
	role, err := ParseRole(p.Role)
	if err != nil {
		return Actor{ID: p.UserID, Role: RolePublic}
	}
	return Actor{
		ID:    p.UserID,
		Role:  role,
		Scope: Scope{DistrictCode: p.DistrictCode, SchoolCode: p.SchoolCode},
	}
}

// Kind classifies what is being accessed.
type Kind int

const (
	KindSubmission Kind = iota + 1
	KindCaseStatus
	KindAggregateRead
	KindAggregateWrite
	KindSensitiveRead
	KindSensitiveWrite
)

func (k Kind) String() string {
	switch k {
	case KindSubmission:
		return "submission"
	case KindCaseStatus:
		return "case_status"
	case KindAggregateRead:
		return "aggregate_read"
	case KindAggregateWrite:
		return "aggregate_write"
	case KindSensitiveRead:
		return "sensitive_read"
	case KindSensitiveWrite:
		return "sensitive_write"
	}
	return "unknown"
}

// Resource is the thing being accessed. Org codes are empty for
// system-wide resources.
type Resource struct {
	Kind         Kind
	DistrictCode string
	SchoolCode   string
}

// Decision is the access level granted.
type Decision int

const (
	Deny Decision = iota
	AggregateOnly
	Full
)

func (d Decision) String() string {
	switch d {
	case AggregateOnly:
		return "aggregate_only"
	case Full:
		return "full"
	}
	return "deny"
}

// Authorize evaluates actor against resource.
func Authorize(actor Actor, res Resource) Decision {
	switch actor.Role {
	case RolePublic:
		return authorizePublic(res)
	case RoleFullAdmin:
		return authorizeFullAdmin(res)
	case RoleOrgAdmin, RoleOrgViewer:
		return authorizeScoped(actor.Scope, res)
	}
	return Deny
}

func authorizePublic(res Resource) Decision {
	switch res.Kind {
	case KindSubmission, KindCaseStatus:
		return AggregateOnly
	case KindAggregateRead, KindAggregateWrite, KindSensitiveRead, KindSensitiveWrite:
		return Deny
	}
	return Deny
}

func authorizeFullAdmin(res Resource) Decision {
	switch res.Kind {
	case KindSensitiveRead, KindSensitiveWrite:
		return Full
	case KindSubmission, KindCaseStatus, KindAggregateRead, KindAggregateWrite:
		return AggregateOnly
	}
	return Deny
}

// authorizeScoped serves both scoped roles: they are read-only, so the
// admin/viewer split does not change any decision today.
func authorizeScoped(scope Scope, res Resource) Decision {
	switch res.Kind {
	case KindSubmission, KindCaseStatus:
		return AggregateOnly
	case KindAggregateRead:
		if Within(scope, res.DistrictCode, res.SchoolCode) {
			return AggregateOnly
		}
		return Deny
	case KindAggregateWrite, KindSensitiveRead, KindSensitiveWrite:
		return Deny
	}
	return Deny
}

// Within reports whether the requested org codes fall inside scope. A
// district-bound scope covers every school in the district; a school-bound
// scope covers only that school, so a district-wide request is outside it.
func Within(scope Scope, districtCode, schoolCode string) bool {
	if scope.DistrictCode == "" || districtCode != scope.DistrictCode {
		return false
	}
	if scope.SchoolCode == "" {
		return true
	}
	return schoolCode == scope.SchoolCode
}

// Narrow fills empty org filters from a scoped actor's binding so an
// unfiltered dashboard request becomes a request for the caller's own unit.
func Narrow(actor Actor, districtCode, schoolCode string) (string, string) {
	if !actor.Role.Scoped() {
		return districtCode, schoolCode
	}
	if districtCode == "" {
		districtCode = actor.Scope.DistrictCode
	}
	if schoolCode == "" && districtCode == actor.Scope.DistrictCode {
		schoolCode = actor.Scope.SchoolCode
	}
	return districtCode, schoolCode
}
