// Package middleware holds HTTP middleware shared by the management API:
// bearer-token auth and access logging, both in the teacher's Chi-style
// (internal/middleware/logging.go, internal/middleware/ratelimit.go).
package middleware

import (
	"net/http"
)

// TokenAuth enforces spec.md §4.4: every request must carry
// "Authorization: token <AUTH_TOKEN>"; anything else, including a missing
// header, is a 403 — even when token is empty, since the spec calls out
// that an empty configured token must still be rejected, not treated as
// "auth disabled".
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			want := "token " + token
			if auth == "" || token == "" || auth != want {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
