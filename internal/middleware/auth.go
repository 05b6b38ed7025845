package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/streamrank/internal/auth"
)

// Error codes written by the authentication middleware. They match the codes
// used by the api package error envelope.
const (
	errCodeAuthFailed = "auth_failed"
	errCodeRateLimit  = "rate_limited"
)

// TokenValidator validates a bearer token and returns its claims.
// auth.JWTService satisfies it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Authenticate resolves the viewer from an "Authorization: Bearer <jwt>" header.
// Requests without the header pass through anonymously; a present but malformed,
// expired or invalid token is rejected with 401. metrics may be nil.
func Authenticate(validator TokenValidator, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(header)
			if !ok {
				rejectAuth(w, r, metrics, "malformed", "Authorization header must use the Bearer scheme")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					rejectAuth(w, r, metrics, "expired", "Token has expired")
					return
				}
				rejectAuth(w, r, metrics, "invalid", "Invalid token")
				return
			}

			ctx := SetViewerID(r.Context(), claims.ViewerID())
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireViewer rejects anonymous requests with 401. Place it after Authenticate.
func RequireViewer(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetViewerID(r.Context()) == "" {
				rejectAuth(w, r, metrics, "missing", "Authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func rejectAuth(w http.ResponseWriter, r *http.Request, metrics *Metrics, reason, message string) {
	if metrics != nil {
		metrics.IncAuthFailures(reason)
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="streamrank"`)
	writeErrorJSON(w, r, http.StatusUnauthorized, errCodeAuthFailed, message)
}

// writeErrorJSON writes the {"error":{"code","message"}} envelope. The api
// package has its own writer; middleware cannot import it.
func writeErrorJSON(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))

	body := map[string]map[string]string{
		"error": {"code": code, "message": message},
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
