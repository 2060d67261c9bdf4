package models

import (
	"time"
)

// EndpointClass groups routes that share a limit.
type EndpointClass string

const (
	// ClassSubmit is the public intake form.
	ClassSubmit EndpointClass = "submit"
	// ClassLogin is the administrator login.
	ClassLogin EndpointClass = "login"
)

// IsValid checks if the endpoint class is one of the supported values.
func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassSubmit, ClassLogin:
		return true
	}
	return false
}

// Limit is a request budget over a window.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// RetryAfterSeconds rounds the wait until resetAt up to whole seconds, with a
// floor of one.
func RetryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
