// Package requestlimit applies per-IP budgets to endpoint classes.
package requestlimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"intakehub/internal/ratelimit/metrics"
	"intakehub/internal/ratelimit/models"
	"intakehub/internal/ratelimit/ports"
	request "intakehub/pkg/platform/middleware/request"
)

type BucketStore = ports.BucketStore

type Service struct {
	buckets BucketStore
	limits  map[models.EndpointClass]models.Limit
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLimit sets the budget for one class.
func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(s *Service) {
		s.limits[class] = limit
	}
}

func New(buckets BucketStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("buckets store is required")
	}
	s := &Service{
		buckets: buckets,
		limits:  make(map[models.EndpointClass]models.Limit),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for class, l := range s.limits {
		if !class.IsValid() || l.RequestsPerWindow <= 0 || l.Window <= 0 {
			return nil, fmt.Errorf("invalid limit for class %q", class)
		}
	}
	return s, nil
}

// CheckIP consumes one request from ip's budget for class. A class with no
// configured limit is denied.
func (s *Service) CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	limit, ok := s.limits[class]
	if !ok {
		s.logger.ErrorContext(ctx, "rate limit not configured",
			"endpoint_class", class,
			"request_id", request.GetRequestID(ctx),
		)
		return &models.RateLimitResult{Allowed: false, RetryAfter: 60}, nil
	}

	result, err := s.buckets.Allow(ctx, models.NewIPRateLimitKey(ip, class), limit.RequestsPerWindow, limit.Window)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		s.metrics.IncDenied(string(class))
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"endpoint_class", class,
			"ip_prefix", models.AnonymizeIP(ip),
			"retry_after", result.RetryAfter,
			"request_id", request.GetRequestID(ctx),
		)
	}
	return result, nil
}
