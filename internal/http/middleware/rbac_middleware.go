package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/response"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

// LoadProjection resolves the cached user projection for the authenticated
// subject and stores it on the request context.
func LoadProjection(resolver service.UserProjectionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := ProjectionFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
				return
			}
			projection, err := resolver.Resolve(r.Context(), userID)
			if err != nil {
				if errors.Is(err, service.ErrUnauthorized) {
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unknown subject", nil)
					return
				}
				response.Error(w, r, http.StatusServiceUnavailable, "RBAC_UNAVAILABLE", "user resolution unavailable", nil)
				return
			}
			ctx := context.WithValue(r.Context(), ProjectionContextKey, projection)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireCapability(rbac service.RBACAuthorizer, resolver service.UserProjectionResolver, capability string) func(http.Handler) http.Handler {
	load := LoadProjection(resolver)
	return func(next http.Handler) http.Handler {
		return load(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			projection, ok := ProjectionFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			if !rbac.HasCapability(projection.Capabilities, capability) {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient capability", map[string]string{"required": capability})
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func ProjectionFromContext(ctx context.Context) (*domain.UserProjection, bool) {
	p, ok := ctx.Value(ProjectionContextKey).(*domain.UserProjection)
	return p, ok
}
