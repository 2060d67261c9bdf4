// Package requesttime pins a single "now" per request so the aggregate
// record, the sensitive record's expiry and the audit entry written by one
// submission all share the same timestamp.
package requesttime

import (
	"net/http"
	"time"

	"intakehub/pkg/requestcontext"
)

// Middleware captures the current time (UTC) at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
