package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/health"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/handler"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/middleware"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/response"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

const (
	RoutePolicyLogin      = "login"
	RoutePolicyRefresh    = "refresh"
	RoutePolicyRecovery   = "recovery"
	RoutePolicyAdminWrite = "admin_write"
)

// RouteRateLimitPolicies overrides the default auth limiter per named route group.
type RouteRateLimitPolicies map[string]func(http.Handler) http.Handler

type Dependencies struct {
	AuthHandler            *handler.AuthHandler
	UserHandler            *handler.UserHandler
	AdminHandler           *handler.AdminHandler
	AccessVerifier         middleware.AccessVerifier
	RBACService            service.RBACAuthorizer
	ProjectionResolver     service.UserProjectionResolver
	CORSOrigins            []string
	TrustedProxies         []string
	AuthRateLimitRPM       int
	APIRateLimitRPM        int
	GlobalRateLimiter      func(http.Handler) http.Handler
	AuthRateLimiter        func(http.Handler) http.Handler
	RouteRateLimitPolicies RouteRateLimitPolicies
	Readiness              *health.ReadinessRunner
	EnableOTelHTTP         bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TrustedRealIP(dep.TrustedProxies))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).
			WithKeyFunc(middleware.CredentialEmailKey).
			Middleware()
	}
	policy := func(name string) func(http.Handler) http.Handler {
		if mw, ok := dep.RouteRateLimitPolicies[name]; ok && mw != nil {
			return mw
		}
		return authLimiter
	}
	authenticated := middleware.AuthMiddleware(dep.AccessVerifier)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CSRFMiddleware)

		r.Route("/auth", func(r chi.Router) {
			r.With(policy(RoutePolicyLogin)).Post("/login", dep.AuthHandler.Login)
			r.With(policy(RoutePolicyLogin)).Post("/2fa/complete", dep.AuthHandler.CompleteSecondFactor)
			r.With(policy(RoutePolicyRefresh)).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(authenticated).Post("/logout", dep.AuthHandler.Logout)
			r.With(authenticated).Post("/logout-all", dep.AuthHandler.LogoutAll)
			r.With(policy(RoutePolicyRecovery)).Post("/password/forgot", dep.AuthHandler.PasswordForgot)
			r.With(policy(RoutePolicyRecovery)).Post("/password/reset", dep.AuthHandler.PasswordReset)
			r.With(authenticated, policy(RoutePolicyRecovery)).Post("/email/verify/request", dep.AuthHandler.EmailVerifyRequest)
			r.With(policy(RoutePolicyRecovery)).Post("/email/verify/confirm", dep.AuthHandler.EmailVerifyConfirm)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(authenticated)
			r.With(middleware.LoadProjection(dep.ProjectionResolver)).Get("/", dep.UserHandler.Me)
			r.With(middleware.RequireCapability(dep.RBACService, dep.ProjectionResolver, domain.CapabilitySessionsRead)).Get("/sessions", dep.UserHandler.Sessions)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability(dep.RBACService, dep.ProjectionResolver, domain.CapabilitySessionsRevoke))
				r.Delete("/sessions/{session_id}", dep.UserHandler.RevokeSession)
				r.Post("/sessions/revoke-others", dep.UserHandler.RevokeOtherSessions)
			})
			r.Route("/2fa", func(r chi.Router) {
				r.Post("/enroll", dep.UserHandler.EnrollSecondFactor)
				r.Post("/activate", dep.UserHandler.ActivateSecondFactor)
				r.With(policy(RoutePolicyLogin)).Post("/disable", dep.UserHandler.DisableSecondFactor)
				r.Get("/backup-codes", dep.UserHandler.BackupCodes)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticated)
			r.With(
				middleware.RequireCapability(dep.RBACService, dep.ProjectionResolver, domain.CapabilityTenantSessionsRevoke),
				policy(RoutePolicyAdminWrite),
			).Post("/tenants/{tenant_id}/sessions/revoke", dep.AdminHandler.RevokeTenantSessions)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
