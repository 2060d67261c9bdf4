// Package retention destroys sensitive intake records once they pass their
// deadline. Selection is a pure function; the Purger applies it in chunks.
package retention

import (
	"time"

	"github.com/google/uuid"

	"intakehub/internal/intake/models"
)

// Reason names the deadline that made a record eligible.
type Reason string

const (
	ReasonExpired   Reason = "expired"
	ReasonProcessed Reason = "processed"
)

// Policy configures selection. ProcessedGrace <= 0 disables the
// processed-record deadline; only expiry applies then.
type Policy struct {
	ProcessedGrace time.Duration
}

func (p Policy) graceEnabled() bool {
	return p.ProcessedGrace > 0
}

// Deletion is one record chosen for destruction.
type Deletion struct {
	CaseID       uuid.UUID
	DistrictCode string
	Reason       Reason
	Deadline     time.Time
}

// Select picks the candidates whose deadline is at or before now. When a
// record is past both deadlines the earlier one names the reason; a tie
// goes to expiry.
func Select(now time.Time, policy Policy, candidates []models.PurgeCandidate) []Deletion {
	var out []Deletion
	for _, c := range candidates {
		if d, ok := deadline(policy, c); ok && !d.Deadline.After(now) {
			out = append(out, d)
		}
	}
	return out
}

func deadline(policy Policy, c models.PurgeCandidate) (Deletion, bool) {
	d := Deletion{
		CaseID:       c.CaseID,
		DistrictCode: c.DistrictCode,
		Reason:       ReasonExpired,
		Deadline:     c.ExpiresAt,
	}
	if policy.graceEnabled() && c.Processed && c.ProcessedAt != nil {
		processed := c.ProcessedAt.Add(policy.ProcessedGrace)
		if processed.Before(d.Deadline) {
			d.Reason = ReasonProcessed
			d.Deadline = processed
		}
	}
	return d, !d.Deadline.IsZero()
}
