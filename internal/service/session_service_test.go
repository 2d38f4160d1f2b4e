package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
)

func loginFor(t *testing.T, s *testStack, email string) *LoginResult {
	t.Helper()
	result, err := s.auth.Login(context.Background(), email, testPassword, testOrigin)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return result
}

func TestRefreshRotatesSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	s.createUser(t, "rotate@example.com", nil)
	first := loginFor(t, s, "rotate@example.com")

	next, err := s.sessions.Refresh(ctx, first.SessionToken, Origin{IP: "198.51.100.7"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.SessionID == first.SessionID || next.SessionToken == first.SessionToken {
		t.Fatal("expected a new session after rotation")
	}
	record, err := s.sessionRepo.FindBySessionID(ctx, next.SessionID, false)
	if err != nil {
		t.Fatalf("find rotated: %v", err)
	}
	if record.ParentSessionID == nil || *record.ParentSessionID != first.SessionID {
		t.Fatalf("expected parent %s, got %v", first.SessionID, record.ParentSessionID)
	}
	if record.UsageCount != 1 || record.LastUsedIP != "198.51.100.7" {
		t.Fatalf("expected usage carried forward, got count=%d ip=%q", record.UsageCount, record.LastUsedIP)
	}

	if _, err := s.sessions.Refresh(ctx, first.SessionToken, testOrigin); !errors.Is(err, ErrSessionAlreadyRotated) {
		t.Fatalf("expected already rotated on reuse, got %v", err)
	}
	if got := s.audit.byEvent("session_reuse_detected"); len(got) != 1 {
		t.Fatalf("expected reuse audit entry, got %+v", got)
	}
}

func TestRefreshConcurrentPresentationHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	s.createUser(t, "race@example.com", nil)
	first := loginFor(t, s, "race@example.com")

	var wg sync.WaitGroup
	results := make([]*LoginResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.sessions.Refresh(ctx, first.SessionToken, testOrigin)
		}(i)
	}
	wg.Wait()

	var wins, rotated int
	for i := range errs {
		switch {
		case errs[i] == nil:
			wins++
			if results[i].SessionID == first.SessionID {
				t.Fatal("winner must receive a new session id")
			}
		case errors.Is(errs[i], ErrSessionAlreadyRotated):
			rotated++
		default:
			t.Fatalf("unexpected refresh error: %v", errs[i])
		}
	}
	if wins != 1 || rotated != 1 {
		t.Fatalf("expected one winner and one rotated, got wins=%d rotated=%d", wins, rotated)
	}
}

func TestRefreshWithoutRotationKeepsSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, withoutRotation())
	s.createUser(t, "steady@example.com", nil)
	first := loginFor(t, s, "steady@example.com")

	for i := 0; i < 2; i++ {
		next, err := s.sessions.Refresh(ctx, first.SessionToken, testOrigin)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if next.SessionID != first.SessionID || next.SessionToken != first.SessionToken {
			t.Fatal("expected the same session credential without rotation")
		}
	}
	record, err := s.sessionRepo.FindBySessionID(ctx, first.SessionID, false)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.UsageCount != 2 || record.LastUsedAt == nil {
		t.Fatalf("expected usage recorded, got %+v", record)
	}
}

func TestRefreshRejectsInvalidSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	tenant := s.createTenant(t, "acme", true)
	user := s.createUser(t, "checks@example.com", &tenant.ID)

	if _, err := s.sessions.Refresh(ctx, "not-a-token", testOrigin); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected session invalid for garbage, got %v", err)
	}
	access := loginFor(t, s, "checks@example.com")
	if _, err := s.sessions.Refresh(ctx, access.AccessToken, testOrigin); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected access credential rejected as session, got %v", err)
	}

	disabled := loginFor(t, s, "checks@example.com")
	if err := s.users.SetActive(ctx, user.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := s.sessions.Refresh(ctx, disabled.SessionToken, testOrigin); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected account disabled, got %v", err)
	}
	if _, err := s.sessionRepo.FindBySessionID(ctx, disabled.SessionID, false); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected session revoked for disabled account, got %v", err)
	}
	if err := s.users.SetActive(ctx, user.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}

	suspended := loginFor(t, s, "checks@example.com")
	if err := s.tenants.SetActive(ctx, tenant.ID, false); err != nil {
		t.Fatalf("deactivate tenant: %v", err)
	}
	if _, err := s.sessions.Refresh(ctx, suspended.SessionToken, testOrigin); !errors.Is(err, ErrTenantInactive) {
		t.Fatalf("expected tenant inactive, got %v", err)
	}
}

func TestRefreshRejectsExpiredSession(t *testing.T) {
	s := newTestStack(t)
	s.createUser(t, "old@example.com", nil)
	first := loginFor(t, s, "old@example.com")

	s.clock.Advance(8 * 24 * time.Hour)
	if _, err := s.sessions.Refresh(context.Background(), first.SessionToken, testOrigin); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected session invalid after expiry, got %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	user := s.createUser(t, "many@example.com", nil)
	var logins []*LoginResult
	for i := 0; i < 3; i++ {
		logins = append(logins, loginFor(t, s, "many@example.com"))
	}

	n, err := s.sessions.LogoutAll(ctx, user.ID, nil, testOrigin)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 sessions revoked, got %d", n)
	}
	for _, login := range logins {
		if _, err := s.sessions.Refresh(ctx, login.SessionToken, testOrigin); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("expected session invalid after logout all, got %v", err)
		}
	}
}

func TestLogoutRevokesSessionAndBlacklistsAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	user := s.createUser(t, "bye@example.com", nil)
	login := loginFor(t, s, "bye@example.com")
	claims, err := s.authn.VerifyAccessForRequest(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}

	err = s.sessions.Logout(ctx, LogoutInput{
		UserID:          user.ID,
		SessionToken:    login.SessionToken,
		AccessTokenID:   claims.ID,
		AccessExpiresAt: claims.ExpiresAtTime(),
		Origin:          testOrigin,
	})
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := s.authn.VerifyAccessForRequest(ctx, login.AccessToken); !errors.Is(err, ErrAccessRevoked) {
		t.Fatalf("expected access revoked, got %v", err)
	}
	if _, err := s.sessions.Refresh(ctx, login.SessionToken, testOrigin); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected session invalid after logout, got %v", err)
	}

	if err := s.sessions.Logout(ctx, LogoutInput{UserID: user.ID, SessionToken: "garbage"}); err != nil {
		t.Fatalf("logout must not fail the caller: %v", err)
	}
}

func TestRevokeSessionIsIdempotentAndScoped(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	owner := s.createUser(t, "owner@example.com", nil)
	other := s.createUser(t, "other@example.com", nil)
	login := loginFor(t, s, "owner@example.com")

	if _, err := s.sessions.RevokeSession(ctx, other.ID, nil, login.SessionID, testOrigin); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected foreign revoke to fail, got %v", err)
	}
	status, err := s.sessions.RevokeSession(ctx, owner.ID, nil, login.SessionID, testOrigin)
	if err != nil || status != "revoked" {
		t.Fatalf("expected revoked, got %q err=%v", status, err)
	}
	status, err = s.sessions.RevokeSession(ctx, owner.ID, nil, login.SessionID, testOrigin)
	if err != nil || status != "already_revoked" {
		t.Fatalf("expected already_revoked, got %q err=%v", status, err)
	}
}

func TestListActiveSessionsMarksCurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	user := s.createUser(t, "list@example.com", nil)
	a := loginFor(t, s, "list@example.com")
	b := loginFor(t, s, "list@example.com")
	if _, err := s.sessions.RevokeSession(ctx, user.ID, nil, a.SessionID, testOrigin); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	current, err := s.sessions.ResolveCurrentSessionID(ctx, b.SessionToken, user.ID)
	if err != nil || current != b.SessionID {
		t.Fatalf("expected current %s, got %q err=%v", b.SessionID, current, err)
	}
	views, err := s.sessions.ListActiveSessions(ctx, user.ID, current)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].SessionID != b.SessionID || !views[0].IsCurrent {
		t.Fatalf("expected only the current session, got %+v", views)
	}
	if views[0].Device.Browser != "Chrome" {
		t.Fatalf("expected parsed device, got %+v", views[0].Device)
	}
}

func TestRevokeOtherSessionsKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	user := s.createUser(t, "others@example.com", nil)
	keep := loginFor(t, s, "others@example.com")
	drop := loginFor(t, s, "others@example.com")

	n, err := s.sessions.RevokeOtherSessions(ctx, user.ID, nil, keep.SessionID, testOrigin)
	if err != nil || n != 1 {
		t.Fatalf("expected one revoked, got n=%d err=%v", n, err)
	}
	if _, err := s.sessions.Refresh(ctx, drop.SessionToken, testOrigin); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected dropped session invalid, got %v", err)
	}
	if _, err := s.sessions.Refresh(ctx, keep.SessionToken, testOrigin); err != nil {
		t.Fatalf("expected kept session to refresh: %v", err)
	}
}

func TestRevokeTenantSessionsRequiresTenant(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	acme := s.createTenant(t, "acme", true)
	globex := s.createTenant(t, "globex", true)
	a1 := s.createUser(t, "a1@example.com", &acme.ID)
	s.createUser(t, "a2@example.com", &acme.ID)
	s.createUser(t, "g1@example.com", &globex.ID)
	loginFor(t, s, "a1@example.com")
	loginFor(t, s, "a2@example.com")
	survivor := loginFor(t, s, "g1@example.com")

	if _, err := s.sessions.RevokeTenantSessions(ctx, nil, "", testOrigin); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for nil tenant, got %v", err)
	}
	if _, err := s.resolver.Resolve(ctx, a1.ID); err != nil {
		t.Fatalf("warm projection: %v", err)
	}
	if err := s.users.MarkEmailVerified(ctx, a1.ID, time.Now()); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	n, err := s.sessions.RevokeTenantSessions(ctx, &acme.ID, "suspended", testOrigin)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked, got n=%d err=%v", n, err)
	}
	if _, err := s.sessions.Refresh(ctx, survivor.SessionToken, testOrigin); err != nil {
		t.Fatalf("other tenant must be untouched: %v", err)
	}
	if p, err := s.resolver.Resolve(ctx, a1.ID); err != nil || !p.EmailVerified {
		t.Fatalf("expected tenant revoke to drop cached projections, got %+v err=%v", p, err)
	}
}

func TestSessionPrunerRunOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	s.createUser(t, "prune@example.com", nil)
	login := loginFor(t, s, "prune@example.com")

	pruner := NewSessionPruner(s.sessionRepo, 24*time.Hour, time.Hour, nil)
	n, err := pruner.RunOnce(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing pruned, got n=%d err=%v", n, err)
	}
	s.clock.Advance(9 * 24 * time.Hour)
	n, err = pruner.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one pruned, got n=%d err=%v", n, err)
	}
	if _, err := s.sessionRepo.FindBySessionID(ctx, login.SessionID, true); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected pruned record gone, got %v", err)
	}
}
