package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"intakehub/internal/ratelimit/metrics"
	"intakehub/internal/ratelimit/models"
	"intakehub/pkg/platform/circuit"
	"intakehub/pkg/platform/httputil"
	metadata "intakehub/pkg/platform/middleware/metadata"
	request "intakehub/pkg/platform/middleware/request"
	"intakehub/pkg/requestcontext"
)

type RateLimiter interface {
	CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error)
}

// Middleware enforces per-IP limits. When the primary limiter keeps failing
// the circuit opens and checks run on the fallback; without a fallback a
// failed check lets the request through.
type Middleware struct {
	limiter  RateLimiter
	fallback RateLimiter
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for local development).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallback sets the limiter used while the circuit is open.
func WithFallback(l RateLimiter) Option {
	return func(m *Middleware) {
		m.fallback = l
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = b
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
		breaker: circuit.New("ratelimit"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits requests per client address for class.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}

			result, degraded := m.check(ctx, ip, class)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			if result == nil {
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// check returns nil when no limiter could answer.
func (m *Middleware) check(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, bool) {
	result, err := m.limiter.CheckIP(ctx, ip, class)
	if err == nil {
		usePrimary, change := m.breaker.RecordSuccess()
		if change.Closed {
			m.logger.InfoContext(ctx, "rate limit store recovered")
			m.metrics.SetDegraded(false)
		}
		if usePrimary || m.fallback == nil {
			return result, false
		}
		return m.checkFallback(ctx, ip, class)
	}

	m.metrics.IncStoreFailure()
	useFallback, change := m.breaker.RecordFailure()
	if change.Opened {
		m.logger.WarnContext(ctx, "rate limit store failing, switching to fallback",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		m.metrics.SetDegraded(true)
	}
	if m.fallback != nil && useFallback {
		return m.checkFallback(ctx, ip, class)
	}
	m.logger.ErrorContext(ctx, "failed to check IP rate limit",
		"error", err,
		"ip_prefix", models.AnonymizeIP(ip),
		"request_id", request.GetRequestID(ctx),
	)
	return nil, false
}

func (m *Middleware) checkFallback(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, bool) {
	result, err := m.fallback.CheckIP(ctx, ip, class)
	if err != nil {
		m.logger.ErrorContext(ctx, "fallback rate limit check failed",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		return nil, true
	}
	return result, true
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:            "too_many_requests",
		ErrorDescription: "Too many requests from this address. Please try again later.",
		RetryAfter:       result.RetryAfter,
	})
}
