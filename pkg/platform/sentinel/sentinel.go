// Package sentinel holds infrastructure-level error values. Stores return
// them (usually wrapped with fmt.Errorf) and services translate them into
// domain errors at the boundary.
package sentinel

import "errors"

// Facts about persisted state, not input validation:
//   - ErrNotFound: the row or object does not exist
//   - ErrConflict: a uniqueness constraint would be violated
//   - ErrExpired: the record is past its retention deadline
//   - ErrInvalidState: the record is in the wrong state for the operation
//   - ErrUnavailable: a backing service could not be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
