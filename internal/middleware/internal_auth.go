package middleware

import (
	"crypto/subtle"
	"net/http"
)

// InternalTokenHeader carries the shared secret for operator-only routes.
const InternalTokenHeader = "X-Internal-Token"

const errCodeForbidden = "forbidden"

// InternalAuth restricts access to requests presenting token in
// InternalTokenHeader. An empty token disables the check. The comparison is
// constant-time.
func InternalAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeErrorJSON(w, r, http.StatusForbidden, errCodeForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
