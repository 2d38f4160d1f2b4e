package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisAccessRevocationStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAccessRevocationStore(client redis.UniversalClient, prefix string) *RedisAccessRevocationStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tse"
	}
	return &RedisAccessRevocationStore{client: client, prefix: prefix}
}

func (s *RedisAccessRevocationStore) Blacklist(ctx context.Context, tokenID string, ttl time.Duration) error {
	if s.client == nil {
		return ErrRevocationStoreUnavailable
	}
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.revokedKey(tokenID), "1", ttl).Err()
}

func (s *RedisAccessRevocationStore) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	if s.client == nil {
		return false, ErrRevocationStoreUnavailable
	}
	n, err := s.client.Exists(ctx, s.revokedKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisAccessRevocationStore) ClaimOnce(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, ErrRevocationStoreUnavailable
	}
	if tokenID == "" {
		return false, nil
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	err := s.client.SetArgs(ctx, s.claimKey(tokenID), "1", redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisAccessRevocationStore) revokedKey(tokenID string) string {
	return fmt.Sprintf("%s:jti:%s", s.prefix, tokenID)
}

func (s *RedisAccessRevocationStore) claimKey(tokenID string) string {
	return fmt.Sprintf("%s:claim:%s", s.prefix, tokenID)
}
