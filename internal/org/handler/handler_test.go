package handler_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakehub/internal/org/handler"
	"intakehub/internal/org/service"
	"intakehub/internal/org/store"
	"intakehub/pkg/testutil"
)

func passthrough(next http.Handler) http.Handler { return next }

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewInMemory()
	require.NoError(t, store.SeedDevelopment(context.Background(), st))
	h := handler.New(service.New(st), slog.Default(), passthrough)
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func TestListOrganizations(t *testing.T) {
	router := newRouter(t)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/api/v1/organizations"))
	testutil.AssertStatusOK(t, rr)

	type school struct {
		Code string `json:"code"`
	}
	type district struct {
		Code    string   `json:"code"`
		Schools []school `json:"schools"`
	}
	body := testutil.UnmarshalResponse[struct {
		Districts []district `json:"districts"`
	}](t, rr)
	require.Len(t, body.Districts, 2)
	assert.Equal(t, "CHESAPEAKE", body.Districts[0].Code)
	assert.Len(t, body.Districts[0].Schools, 2)
}

func TestCreateDistrict(t *testing.T) {
	router := newRouter(t)

	testutil.Given(t, "a full-access administrator", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/admin/districts",
			map[string]string{"code": "VB", "name": "Virginia Beach"})
		req = testutil.WithFullAdmin(req, "admin-1")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusCreated)
		testutil.AssertJSONContains(t, rr, "code", "VB")
	})

	testutil.Given(t, "a district-scoped administrator", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/admin/districts",
			map[string]string{"code": "NN", "name": "Newport News"})
		req = testutil.WithPrincipal(req, "u-2", "org_admin", "CHESAPEAKE", "")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	testutil.Given(t, "an invalid code", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/admin/districts",
			map[string]string{"code": "x", "name": "Too Short"})
		req = testutil.WithFullAdmin(req, "admin-1")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "validation_error")
	})
}

func TestCreateSchoolUnknownDistrict(t *testing.T) {
	router := newRouter(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/admin/schools", map[string]any{
		"code": "ZZ_001", "district_code": "ZZ", "name": "Nowhere", "grade_bands": []string{"K-5"},
	})
	rr := testutil.DoRequest(router, testutil.WithFullAdmin(req, "admin-1"))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
}
