package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
)

type UserProjectionCacheStore interface {
	Get(ctx context.Context, userID uint) (*domain.UserProjection, bool, error)
	Set(ctx context.Context, projection *domain.UserProjection, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID uint) error
	InvalidateAll(ctx context.Context) error
}

type NoopUserProjectionCacheStore struct{}

func NewNoopUserProjectionCacheStore() *NoopUserProjectionCacheStore {
	return &NoopUserProjectionCacheStore{}
}

func (s *NoopUserProjectionCacheStore) Get(context.Context, uint) (*domain.UserProjection, bool, error) {
	return nil, false, nil
}

func (s *NoopUserProjectionCacheStore) Set(context.Context, *domain.UserProjection, time.Duration) error {
	return nil
}

func (s *NoopUserProjectionCacheStore) InvalidateUser(context.Context, uint) error { return nil }

func (s *NoopUserProjectionCacheStore) InvalidateAll(context.Context) error { return nil }

type projectionCacheEntry struct {
	projection domain.UserProjection
	expiresAt  time.Time
}

// InMemoryUserProjectionCacheStore versions keys with per-user and global
// epochs so invalidation never has to enumerate entries.
type InMemoryUserProjectionCacheStore struct {
	mu          sync.RWMutex
	data        map[string]projectionCacheEntry
	globalEpoch uint64
	userEpoch   map[uint]uint64
}

func NewInMemoryUserProjectionCacheStore() *InMemoryUserProjectionCacheStore {
	return &InMemoryUserProjectionCacheStore{
		data:      make(map[string]projectionCacheEntry),
		userEpoch: make(map[uint]uint64),
	}
}

func (s *InMemoryUserProjectionCacheStore) Get(_ context.Context, userID uint) (*domain.UserProjection, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	key := s.cacheKeyLocked(userID)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	p := cloneProjection(&entry.projection)
	return p, true, nil
}

func (s *InMemoryUserProjectionCacheStore) Set(_ context.Context, projection *domain.UserProjection, ttl time.Duration) error {
	if projection == nil || ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.cacheKeyLocked(projection.UserID)] = projectionCacheEntry{
		projection: *cloneProjection(projection),
		expiresAt:  time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *InMemoryUserProjectionCacheStore) InvalidateUser(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userEpoch[userID]++
	return nil
}

func (s *InMemoryUserProjectionCacheStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	return nil
}

func (s *InMemoryUserProjectionCacheStore) cacheKeyLocked(userID uint) string {
	return buildUserProjectionCacheKey(s.globalEpoch, s.userEpoch[userID], userID)
}

func buildUserProjectionCacheKey(globalEpoch, userEpoch uint64, userID uint) string {
	return fmt.Sprintf("userproj:g%d:u%d:user:%d", globalEpoch, userEpoch, userID)
}

func cloneProjection(p *domain.UserProjection) *domain.UserProjection {
	cp := *p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	if p.TenantID != nil {
		tid := *p.TenantID
		cp.TenantID = &tid
	}
	return &cp
}
