package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/kvinwang/gpt-prover/pkg/api"
)

// NewMiddleware authenticates callers that present a bearer token. Requests
// without an Authorization header pass through as anonymous. A header that is
// present but malformed or invalid is rejected with 401.
func NewMiddleware(verifier *Verifier) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || scheme != "Bearer" || token == "" {
				api.WriteUnauthenticated(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if verifier == nil {
				api.WriteUnauthenticated(w, r, "Authentication not configured")
				return
			}

			caller, err := verifier.Verify(token)
			if err != nil {
				logger.InfoContext(r.Context(), "token rejected", "error", err, "request_id", GetRequestID(r.Context()))
				api.WriteUnauthenticated(w, r, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
