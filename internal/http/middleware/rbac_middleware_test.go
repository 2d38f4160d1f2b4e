package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

type testProjectionResolver struct {
	projection *domain.UserProjection
	err        error
}

func (r testProjectionResolver) Resolve(_ context.Context, _ uint) (*domain.UserProjection, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.projection, nil
}

func requestWithClaims() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	claims := &security.Claims{}
	claims.Subject = "7"
	return req.WithContext(context.WithValue(req.Context(), ClaimsContextKey, claims))
}

func TestRequireCapabilityDenied(t *testing.T) {
	resolver := testProjectionResolver{projection: domain.NewUserProjection(&domain.User{ID: 7, Role: domain.RoleStaff})}
	mw := RequireCapability(service.NewCapabilityAuthorizer(), resolver, domain.CapabilityTenantSessionsRevoke)

	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected middleware to block request")
	})).ServeHTTP(rr, requestWithClaims())

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
}

func TestRequireCapabilityResolverError(t *testing.T) {
	mw := RequireCapability(service.NewCapabilityAuthorizer(), testProjectionResolver{err: errors.New("resolver unavailable")}, domain.CapabilityUsersRead)

	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected middleware to block request")
	})).ServeHTTP(rr, requestWithClaims())

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestRequireCapabilityUnknownSubject(t *testing.T) {
	mw := RequireCapability(service.NewCapabilityAuthorizer(), testProjectionResolver{err: service.ErrUnauthorized}, domain.CapabilityUsersRead)

	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expected middleware to block request")
	})).ServeHTTP(rr, requestWithClaims())

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRequireCapabilityAllowed(t *testing.T) {
	tenant := uint(3)
	resolver := testProjectionResolver{projection: domain.NewUserProjection(&domain.User{ID: 7, TenantID: &tenant, Role: domain.RoleOwner})}
	mw := RequireCapability(service.NewCapabilityAuthorizer(), resolver, domain.CapabilityTenantSessionsRevoke)

	rr := httptest.NewRecorder()
	called := false
	mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		called = true
		p, ok := ProjectionFromContext(r.Context())
		if !ok || p.TenantID == nil || *p.TenantID != tenant {
			t.Fatalf("expected projection in context, got %+v", p)
		}
	})).ServeHTTP(rr, requestWithClaims())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !called {
		t.Fatal("expected wrapped handler to be called")
	}
}
