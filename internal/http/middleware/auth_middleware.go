package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sandeepkv93/tenant-session-engine/internal/http/response"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

type contextKey string

const (
	ClaimsContextKey     contextKey = "claims"
	ProjectionContextKey contextKey = "user_projection"
)

type AccessVerifier interface {
	VerifyAccessForRequest(ctx context.Context, raw string) (*security.Claims, error)
}

// AuthMiddleware accepts an access credential from the access cookie or a
// bearer header. Revocation lookups that cannot be answered reject the request.
func AuthMiddleware(verifier AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := AccessTokenFromRequest(r)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := verifier.VerifyAccessForRequest(r.Context(), raw)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrStorage):
					response.Error(w, r, http.StatusServiceUnavailable, "REVOCATION_UNAVAILABLE", "access revocation check unavailable", nil)
				case errors.Is(err, service.ErrAccessRevoked):
					response.Error(w, r, http.StatusUnauthorized, "ACCESS_REVOKED", "access token revoked", nil)
				case errors.Is(err, security.ErrTokenExpired):
					response.Error(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token expired", nil)
				default:
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				}
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AccessTokenFromRequest(r *http.Request) string {
	if raw := security.GetCookie(r, security.AccessCookieName); raw != "" {
		return raw
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
