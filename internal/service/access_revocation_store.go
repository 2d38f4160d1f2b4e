package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrRevocationStoreUnavailable = errors.New("access revocation store unavailable")

// AccessRevocationStore remembers access-credential ids that must be rejected
// before their natural expiry. Entries live only as long as the credential.
type AccessRevocationStore interface {
	Blacklist(ctx context.Context, tokenID string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, tokenID string) (bool, error)
	// ClaimOnce records the first use of tokenID and reports whether this call won.
	ClaimOnce(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
}

type InMemoryAccessRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	claimed map[string]time.Time
	now     func() time.Time
}

func NewInMemoryAccessRevocationStore() *InMemoryAccessRevocationStore {
	return &InMemoryAccessRevocationStore{
		revoked: make(map[string]time.Time),
		claimed: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *InMemoryAccessRevocationStore) Blacklist(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = s.now().UTC().Add(ttl)
	return nil
}

func (s *InMemoryAccessRevocationStore) IsBlacklisted(_ context.Context, tokenID string) (bool, error) {
	now := s.now().UTC()
	s.mu.RLock()
	expiresAt, ok := s.revoked[tokenID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		s.mu.Lock()
		if current, still := s.revoked[tokenID]; still && now.After(current) {
			delete(s.revoked, tokenID)
		}
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *InMemoryAccessRevocationStore) ClaimOnce(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiresAt, ok := s.claimed[tokenID]; ok && !now.After(expiresAt) {
		return false, nil
	}
	s.claimed[tokenID] = now.Add(ttl)
	return true, nil
}
