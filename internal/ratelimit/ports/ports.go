// Package ports defines the interfaces shared by the ratelimit services and
// middleware.
package ports

import (
	"context"
	"time"

	"intakehub/internal/ratelimit/models"
)

// BucketStore manages rate limit counters.
type BucketStore interface {
	// Allow checks if a single request is allowed and consumes one token if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)

	// Reset clears the rate limit counter for a key.
	Reset(ctx context.Context, key string) error
}
