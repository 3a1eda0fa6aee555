package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"erp-pricing-api/pkg/apierror"
	"erp-pricing-api/pkg/response"
)

// ActorKey is the key for storing the acting user in request context.
const ActorKey contextKey = "actor"

// ActorHeader names the user on whose behalf a client acts.
const ActorHeader = "X-User-ID"

// AnonymousActor is recorded when a request names no user.
const AnonymousActor = "anonymous"

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// APIKeys accepted in X-API-Key or as a bearer token. When empty every
	// request is let through, which is how local development runs.
	APIKeys []string

	// PublicPaths bypass the key check.
	PublicPaths []string
}

// DefaultPublicPaths are reachable without a key.
var DefaultPublicPaths = []string{
	"/api/status",
	"/api/v1/health",
	"/api/v1/ready",
	"/metrics",
}

// NewAuthMiddleware creates an authentication middleware with injected dependencies.
// It also resolves the acting user for audit fields.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.PublicPaths == nil {
		cfg.PublicPaths = DefaultPublicPaths
	}
	public := make(map[string]struct{}, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ActorKey, actorFrom(r))

			if _, ok := public[r.URL.Path]; ok || len(cfg.APIKeys) == 0 {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				response.Error(w, apierror.Unauthorized("Authentication required. Use the X-API-Key header."))
				return
			}
			if !isValidKey(apiKey, cfg.APIKeys) {
				response.Error(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return AnonymousActor
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}

// ActorFromContext returns the acting user, or "" outside the auth middleware.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok {
		return actor
	}
	return ""
}
