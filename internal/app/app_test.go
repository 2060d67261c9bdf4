package app

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	authmodels "intakehub/internal/auth/models"
	intakemodels "intakehub/internal/intake/models"
	"intakehub/internal/platform/config"
	"intakehub/pkg/platform/middleware/admin"
	"intakehub/pkg/testutil"
)

const (
	adminEmail    = "root@intakehub.example.org"
	adminPassword = "bootstrap-password-1"
)

func devConfig() config.Server {
	return config.Server{
		Debug:          true,
		JWTSigningKey:  "test-signing-key",
		TokenTTL:       time.Hour,
		AdminToken:     "scheduler-token",
		AllowedOrigins: []string{"http://localhost:3000"},
		Auth:           config.AuthConfig{LoginLimit: 20, LoginWindow: time.Minute, BcryptCost: bcrypt.MinCost},
		Retention:      config.RetentionConfig{Window: 45 * 24 * time.Hour, BatchSize: 100},
		Intake: config.IntakeConfig{
			SubmitLimit:     5,
			SubmitWindow:    time.Hour,
			DuplicateWindow: 5 * time.Minute,
			MaxCardBytes:    1 << 20,
		},
		Bootstrap: config.BootstrapConfig{AdminEmail: adminEmail, AdminPassword: adminPassword},
	}
}

func build(t *testing.T) *App {
	t.Helper()
	a, err := Build(context.Background(), devConfig(), slog.Default(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func ptr[T any](v T) *T { return &v }

func payload() intakemodels.IntakePayload {
	return intakemodels.IntakePayload{
		DistrictCode: "CHESAPEAKE",
		SchoolCode:   "CHES_001",
		Student: intakemodels.StudentInformation{
			FirstName: "Marisol", LastName: "Achterberg", FullName: "Marisol Achterberg",
			Grade: "3", DateOfBirth: "2017-06-21",
		},
		Parent: intakemodels.ParentContact{
			Name: "Petra Achterberg", Email: "petra.a@example.org", Phone: "7575550199",
		},
		ServiceRequestType: intakemodels.RequestStartNow,
		Insurance:          intakemodels.InsuranceInformation{HasInsurance: ptr(false)},
		ServiceNeeds: intakemodels.ServiceNeeds{
			ServiceCategory:     []string{"Counseling"},
			SeverityOfConcern:   "mild",
			TypeOfServiceNeeded: []string{"Individual therapy"},
		},
		ImmediateSafety:      ptr(false),
		AuthorizationConsent: true,
	}
}

func login(t *testing.T, router http.Handler, email, pw string) string {
	t.Helper()
	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/auth/login",
		map[string]string{"email": email, "password": pw}))
	testutil.AssertStatusOK(t, rr)
	return testutil.UnmarshalResponse[authmodels.LoginResult](t, rr).AccessToken
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestBuildRequiresKeysOutsideDebug(t *testing.T) {
	cfg := devConfig()
	cfg.Debug = false
	_, err := Build(context.Background(), cfg, slog.Default(), prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestEndToEnd(t *testing.T) {
	a := build(t)
	router := a.Router

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatusOK(t, rr)

	adminToken := login(t, router, adminEmail, adminPassword)

	testutil.Given(t, "a district viewer account", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/admin/users", map[string]string{
			"email": "viewer@chesapeake.example.org", "full_name": "Chesapeake Viewer",
			"password": "viewer-password-1", "role": "org_viewer", "district_code": "CHESAPEAKE",
		})
		rr := testutil.DoRequest(router, withBearer(req, adminToken))
		testutil.AssertStatus(t, rr, http.StatusCreated)
	})
	viewerToken := login(t, router, "viewer@chesapeake.example.org", "viewer-password-1")

	var caseID string
	testutil.When(t, "a parent submits a referral", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/intake/submit", payload()))
		testutil.AssertStatusOK(t, rr)
		body := testutil.UnmarshalResponse[struct {
			CaseID string `json:"case_id"`
		}](t, rr)
		caseID = body.CaseID
		require.NotEmpty(t, caseID)
	})

	testutil.Then(t, "the viewer sees it counted but cannot open it", func(t *testing.T) {
		rr := testutil.DoRequest(router, withBearer(testutil.NewRequest(t, http.MethodGet, "/api/v1/dashboard/summary"), viewerToken))
		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, 1, testutil.UnmarshalResponse[intakemodels.Summary](t, rr).TotalReferrals)
		assert.NotContains(t, rr.Body.String(), "Achterberg")

		rr = testutil.DoRequest(router, withBearer(testutil.NewRequest(t, http.MethodGet, "/api/v1/admin/intake/"+caseID+"/phi"), viewerToken))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	testutil.Then(t, "the full administrator can read the sensitive record", func(t *testing.T) {
		rr := testutil.DoRequest(router, withBearer(testutil.NewRequest(t, http.MethodGet, "/api/v1/admin/intake/"+caseID+"/phi"), adminToken))
		testutil.AssertStatusOK(t, rr)
		assert.Contains(t, rr.Body.String(), "Achterberg")
	})

	testutil.When(t, "the viewer logs out", func(t *testing.T) {
		rr := testutil.DoRequest(router, withBearer(testutil.NewRequest(t, http.MethodPost, "/auth/logout"), viewerToken))
		testutil.AssertStatus(t, rr, http.StatusNoContent)

		rr = testutil.DoRequest(router, withBearer(testutil.NewRequest(t, http.MethodGet, "/api/v1/dashboard/summary"), viewerToken))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	testutil.When(t, "the scheduler triggers a sweep", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodPost, "/api/v1/internal/retention/sweep")
		req.Header.Set(admin.HeaderAdminToken, "scheduler-token")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "purged", float64(0))
	})
}

func TestSubmitRateLimit(t *testing.T) {
	router := build(t).Router

	var last int
	for i := 0; i < 6; i++ {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/intake/submit", payload()))
		last = rr.Code
		if i == 0 {
			testutil.AssertStatusOK(t, rr)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last, "sixth submission from one address within the hour is refused")
}
