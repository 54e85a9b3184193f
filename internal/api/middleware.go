/*
File: internal/api/middleware.go
Description: HTTP middleware for bearer-token authentication and CORS.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
)

type contextKey struct{}

// ContextWithUser returns a copy of ctx carrying the authenticated user id.
func ContextWithUser(ctx context.Context, id relay.UserID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (relay.UserID, bool) {
	id, ok := ctx.Value(contextKey{}).(relay.UserID)
	return id, ok && id != ""
}

// NewAuthMiddleware rejects requests without a valid bearer token and stores
// the verified user id in the request context.
func NewAuthMiddleware(verifier relay.CredentialVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With("component", "AuthMiddleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			id, err := verifier.Verify(r.Context(), token)
			if err != nil {
				log.Debug("Rejected request", "path", r.URL.Path, "err", err)
				WriteJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), id)))
		})
	}
}

// NewCORSMiddleware answers preflight requests and sets CORS headers for
// allowed origins. An empty list allows any origin.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
