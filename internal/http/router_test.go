package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"intakehub/internal/platform/metrics"
	"intakehub/pkg/testutil"
)

type pingHandler struct{}

func (pingHandler) Register(r chi.Router) {
	r.Get("/api/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newTestRouter(checks map[string]HealthCheck) http.Handler {
	reg := prometheus.NewRegistry()
	return NewRouter(Config{
		Logger:         slog.Default(),
		Latency:        metrics.New(reg),
		Gatherer:       reg,
		AllowedOrigins: []string{"https://intake.example.org"},
		HealthChecks:   checks,
		Handlers:       []Registrar{pingHandler{}},
	})
}

func TestHealth(t *testing.T) {
	testutil.Given(t, "healthy dependencies", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{"database": func(context.Context) error { return nil }})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	testutil.Given(t, "a failing dependency", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("down") }})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		testutil.AssertJSONContains(t, rr, "status", "degraded")
	})
}

func TestRequestIDAndMetrics(t *testing.T) {
	router := newTestRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/api/v1/ping"))
	testutil.AssertStatus(t, rr, http.StatusNoContent)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	assert.Contains(t, rr.Body.String(), `intakehub_http_request_duration_seconds_count{method="GET",route="/api/v1/ping",status="204"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(nil)

	req := testutil.NewRequest(t, http.MethodOptions, "/api/v1/ping")
	req.Header.Set("Origin", "https://intake.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := testutil.DoRequest(router, req)

	assert.Equal(t, "https://intake.example.org", rr.Header().Get("Access-Control-Allow-Origin"))

	req = testutil.NewRequest(t, http.MethodOptions, "/api/v1/ping")
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr = testutil.DoRequest(router, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
