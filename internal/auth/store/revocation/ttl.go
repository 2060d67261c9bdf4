// Package revocation tracks logged-out token identifiers until the tokens
// would have expired anyway.
package revocation

import (
	"fmt"
	"time"

	"intakehub/pkg/platform/sentinel"
)

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
