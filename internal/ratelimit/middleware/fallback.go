package middleware

import (
	"log/slog"

	"intakehub/internal/ratelimit/models"
	"intakehub/internal/ratelimit/service/requestlimit"
	"intakehub/internal/ratelimit/store/bucket"
)

// NewFallbackLimiter builds an in-memory limiter with the same budgets as the
// primary. Returns nil when the limits are invalid.
func NewFallbackLimiter(limits map[models.EndpointClass]models.Limit, logger *slog.Logger) RateLimiter {
	opts := []requestlimit.Option{requestlimit.WithLogger(logger)}
	for class, l := range limits {
		opts = append(opts, requestlimit.WithLimit(class, l))
	}
	svc, err := requestlimit.New(bucket.NewInMemoryBucketStore(), opts...)
	if err != nil {
		logger.Error("failed to initialize fallback rate limiter", "error", err)
		return nil
	}
	return svc
}
