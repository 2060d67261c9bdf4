package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakehub/internal/ratelimit/models"
	"intakehub/pkg/platform/circuit"
	"intakehub/pkg/requestcontext"
)

var submitLimits = map[models.EndpointClass]models.Limit{
	models.ClassSubmit: {RequestsPerWindow: 5, Window: time.Hour},
}

type failingLimiter struct{ calls int }

func (f *failingLimiter) CheckIP(context.Context, string, models.EndpointClass) (*models.RateLimitResult, error) {
	f.calls++
	return nil, errors.New("redis: connection refused")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func submitFrom(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intake/submit", nil)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "test"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimitFivePerHourPerIP(t *testing.T) {
	limiter := NewFallbackLimiter(submitLimits, slog.Default())
	require.NotNil(t, limiter)
	h := New(limiter, slog.Default()).RateLimit(models.ClassSubmit)(okHandler())

	for i := range 5 {
		rr := submitFrom(h, "203.0.113.7")
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
		assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
	}

	rr := submitFrom(h, "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rr.Body.String(), "too_many_requests")

	assert.Equal(t, http.StatusOK, submitFrom(h, "198.51.100.4").Code)
}

func TestRateLimitFailsOpenWithoutFallback(t *testing.T) {
	h := New(&failingLimiter{}, slog.Default()).RateLimit(models.ClassSubmit)(okHandler())

	rr := submitFrom(h, "203.0.113.7")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Status"))
}

func TestRateLimitSwitchesToFallbackWhenCircuitOpens(t *testing.T) {
	primary := &failingLimiter{}
	m := New(primary, slog.Default(),
		WithFallback(NewFallbackLimiter(submitLimits, slog.Default())),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2))),
	)
	h := m.RateLimit(models.ClassSubmit)(okHandler())

	first := submitFrom(h, "203.0.113.7")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("X-RateLimit-Status"), "below threshold the request fails open")

	var last *httptest.ResponseRecorder
	for range 6 {
		last = submitFrom(h, "203.0.113.7")
	}
	assert.Equal(t, "degraded", last.Header().Get("X-RateLimit-Status"))
	assert.Equal(t, http.StatusTooManyRequests, last.Code, "fallback still enforces the budget")
	assert.True(t, m.breaker.IsOpen())
}

func TestRateLimitDisabled(t *testing.T) {
	primary := &failingLimiter{}
	h := New(primary, slog.Default(), WithDisabled(true)).RateLimit(models.ClassSubmit)(okHandler())

	assert.Equal(t, http.StatusOK, submitFrom(h, "203.0.113.7").Code)
	assert.Zero(t, primary.calls)
}
