package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
)

func newSession(userID uint, tenantID *uint, ttl time.Duration) *domain.Session {
	sid := uuid.NewString()
	return &domain.Session{
		SessionID: sid,
		UserID:    userID,
		TenantID:  tenantID,
		TokenHash: "hash-" + sid,
		OriginIP:  "198.51.100.1",
		UserAgent: "test-agent",
		Device:    domain.Device{Type: "desktop", Browser: "Chrome", OS: "Linux"},
		ExpiresAt: time.Now().Add(ttl),
	}
}

func TestSessionRepositoryFindBySessionIDFiltersInactive(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	active := newSession(1, nil, 2*time.Hour)
	expired := newSession(1, nil, -time.Hour)
	revoked := newSession(1, nil, 2*time.Hour)
	for _, s := range []*domain.Session{active, expired, revoked} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := repo.Revoke(ctx, revoked.SessionID, "manual"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := repo.FindBySessionID(ctx, active.SessionID, false); err != nil {
		t.Fatalf("find active: %v", err)
	}
	if _, err := repo.FindBySessionID(ctx, expired.SessionID, false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired to be not found, got %v", err)
	}
	if _, err := repo.FindBySessionID(ctx, revoked.SessionID, false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked to be not found, got %v", err)
	}
	got, err := repo.FindBySessionID(ctx, revoked.SessionID, true)
	if err != nil {
		t.Fatalf("find revoked including inactive: %v", err)
	}
	if got.RevokedReason == nil || *got.RevokedReason != "manual" {
		t.Fatalf("unexpected revoked reason: %+v", got.RevokedReason)
	}
	if got.Device.Browser != "Chrome" {
		t.Fatalf("device not persisted: %+v", got.Device)
	}
}

func TestSessionRepositoryListByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))

	for _, s := range []*domain.Session{
		newSession(1, nil, 2*time.Hour),
		newSession(1, nil, -time.Hour),
		newSession(2, nil, 2*time.Hour),
	} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	active, err := repo.ListByUser(ctx, 1, false)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(active))
	}
	all, err := repo.ListByUser(ctx, 1, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
}

func TestSessionRepositoryTouchIncrementsUsage(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	s := newSession(1, nil, time.Hour)
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	at := time.Now()
	if err := repo.Touch(ctx, s.SessionID, "192.0.2.4", at); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := repo.Touch(ctx, s.SessionID, "192.0.2.5", at); err != nil {
		t.Fatalf("touch again: %v", err)
	}
	got, err := repo.FindBySessionID(ctx, s.SessionID, false)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.UsageCount != 2 || got.LastUsedIP != "192.0.2.5" || got.LastUsedAt == nil {
		t.Fatalf("unexpected usage fields: count=%d ip=%q at=%v", got.UsageCount, got.LastUsedIP, got.LastUsedAt)
	}
	if err := repo.Touch(ctx, "missing", "192.0.2.5", at); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
}

func TestSessionRepositoryRotate(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	old := newSession(1, uintPtr(5), time.Hour)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := newSession(0, nil, 2*time.Hour)
	next.UserAgent = ""
	rotated, err := repo.Rotate(ctx, old.SessionID, next)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.ParentSessionID == nil || *rotated.ParentSessionID != old.SessionID {
		t.Fatalf("expected parent lineage, got %+v", rotated.ParentSessionID)
	}
	if rotated.UserID != 1 || rotated.TenantID == nil || *rotated.TenantID != 5 {
		t.Fatalf("expected owner carried over, got user=%d tenant=%v", rotated.UserID, rotated.TenantID)
	}
	if rotated.UserAgent != "test-agent" || rotated.UsageCount != 1 {
		t.Fatalf("expected origin and usage carried over, got ua=%q usage=%d", rotated.UserAgent, rotated.UsageCount)
	}

	prev, err := repo.FindBySessionID(ctx, old.SessionID, true)
	if err != nil {
		t.Fatalf("find old: %v", err)
	}
	if prev.RevokedAt == nil || prev.RevokedReason == nil || *prev.RevokedReason != RevokeReasonRotated {
		t.Fatalf("expected old session revoked as rotated: %+v", prev)
	}

	_, err = repo.Rotate(ctx, old.SessionID, newSession(0, nil, time.Hour))
	if !errors.Is(err, ErrSessionAlreadyRotated) {
		t.Fatalf("expected already rotated, got %v", err)
	}
	_, err = repo.Rotate(ctx, "missing", newSession(0, nil, time.Hour))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionRepositoryRotateRejectsExpiredAndManuallyRevoked(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	expired := newSession(1, nil, -time.Minute)
	revoked := newSession(1, nil, time.Hour)
	for _, s := range []*domain.Session{expired, revoked} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := repo.Revoke(ctx, revoked.SessionID, "logout"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := repo.Rotate(ctx, expired.SessionID, newSession(0, nil, time.Hour)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired rotate to be not found, got %v", err)
	}
	if _, err := repo.Rotate(ctx, revoked.SessionID, newSession(0, nil, time.Hour)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected logged-out rotate to be not found, got %v", err)
	}
}

func TestSessionRepositoryConcurrentRotateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	old := newSession(1, nil, time.Hour)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rotated   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Rotate(ctx, old.SessionID, newSession(0, nil, time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSessionAlreadyRotated):
				rotated++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || rotated != workers-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d/%d", workers-1, successes, rotated)
	}
}

func TestSessionRepositoryRevokeScopeByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	s1 := newSession(1, nil, time.Hour)
	s2 := newSession(2, nil, time.Hour)
	for _, s := range []*domain.Session{s1, s2} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if _, err := repo.RevokeForUser(ctx, 1, s2.SessionID, "manual"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found when revoking another user's session, got %v", err)
	}
	changed, err := repo.RevokeForUser(ctx, 2, s2.SessionID, "manual")
	if err != nil || !changed {
		t.Fatalf("expected first revoke to change, got changed=%v err=%v", changed, err)
	}
	changed, err = repo.RevokeForUser(ctx, 2, s2.SessionID, "manual")
	if err != nil || changed {
		t.Fatalf("expected idempotent revoke, got changed=%v err=%v", changed, err)
	}
	if _, err := repo.FindBySessionID(ctx, s1.SessionID, false); err != nil {
		t.Fatalf("other user's session must stay valid: %v", err)
	}
}

func TestSessionRepositoryRevokeAllForUserAndTenant(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	tenantA, tenantB := uintPtr(10), uintPtr(20)
	sessions := []*domain.Session{
		newSession(1, tenantA, time.Hour),
		newSession(1, tenantA, time.Hour),
		newSession(2, tenantA, time.Hour),
		newSession(3, tenantB, time.Hour),
		newSession(4, nil, time.Hour),
	}
	for _, s := range sessions {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := repo.RevokeAllForUser(ctx, 1, "logout_all")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked for user, got n=%d err=%v", n, err)
	}
	n, err = repo.RevokeAllForUser(ctx, 1, "logout_all")
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent bulk revoke, got n=%d err=%v", n, err)
	}

	if _, err := repo.RevokeAllForTenant(ctx, nil, "suspended"); !errors.Is(err, ErrTenantScopeRequired) {
		t.Fatalf("expected tenant scope required, got %v", err)
	}
	n, err = repo.RevokeAllForTenant(ctx, tenantA, "suspended")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 remaining tenant session revoked, got n=%d err=%v", n, err)
	}
	for _, s := range sessions[3:] {
		if _, err := repo.FindBySessionID(ctx, s.SessionID, false); err != nil {
			t.Fatalf("session outside tenant must stay valid: %v", err)
		}
	}
}

func TestSessionRepositoryPrune(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	ancient := newSession(1, nil, -31*24*time.Hour)
	recent := newSession(1, nil, -time.Hour)
	live := newSession(1, nil, time.Hour)
	for _, s := range []*domain.Session{ancient, recent, live} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := repo.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if _, err := repo.FindBySessionID(ctx, ancient.SessionID, true); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ancient session removed, got %v", err)
	}
	if _, err := repo.FindBySessionID(ctx, recent.SessionID, true); err != nil {
		t.Fatalf("recently expired session must be retained: %v", err)
	}
}

func TestSessionRepositoryRevokeOthersKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newTestDB(t))
	keep := newSession(1, nil, time.Hour)
	other := newSession(1, nil, time.Hour)
	foreign := newSession(2, nil, time.Hour)
	for _, s := range []*domain.Session{keep, other, foreign} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := repo.RevokeOthersForUser(ctx, 1, keep.SessionID, "revoke_others")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 revoked, got n=%d err=%v", n, err)
	}
	if _, err := repo.FindBySessionID(ctx, keep.SessionID, false); err != nil {
		t.Fatalf("current session must stay valid: %v", err)
	}
	if _, err := repo.FindBySessionID(ctx, foreign.SessionID, false); err != nil {
		t.Fatalf("other user's session must stay valid: %v", err)
	}
}
