package testutil

import (
	"context"
	"net/http"

	"intakehub/pkg/requestcontext"
)

// WithPrincipal adds an authenticated principal to the request context.
// This simulates what the auth middleware does for a valid bearer token.
func WithPrincipal(req *http.Request, userID, role, districtCode, schoolCode string) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), requestcontext.Principal{
		UserID:       userID,
		Role:         role,
		DistrictCode: districtCode,
		SchoolCode:   schoolCode,
	})
	return req.WithContext(ctx)
}

// WithFullAdmin is WithPrincipal for an unscoped full-access administrator.
func WithFullAdmin(req *http.Request, userID string) *http.Request {
	return WithPrincipal(req, userID, "full_admin", "", "")
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
