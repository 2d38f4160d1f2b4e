package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
)

type RedisUserProjectionCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisUserProjectionCacheStore(client redis.UniversalClient, prefix string) *RedisUserProjectionCacheStore {
	if prefix == "" {
		prefix = "tse"
	}
	return &RedisUserProjectionCacheStore{
		client: client,
		prefix: prefix + ":userproj",
	}
}

func (s *RedisUserProjectionCacheStore) Get(ctx context.Context, userID uint) (*domain.UserProjection, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	key, err := s.dataKey(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p domain.UserProjection
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (s *RedisUserProjectionCacheStore) Set(ctx context.Context, projection *domain.UserProjection, ttl time.Duration) error {
	if s.client == nil || projection == nil || ttl <= 0 {
		return nil
	}
	key, err := s.dataKey(ctx, projection.UserID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(projection)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

func (s *RedisUserProjectionCacheStore) InvalidateUser(ctx context.Context, userID uint) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.userEpochKey(userID)).Err()
}

func (s *RedisUserProjectionCacheStore) InvalidateAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.globalEpochKey()).Err()
}

func (s *RedisUserProjectionCacheStore) dataKey(ctx context.Context, userID uint) (string, error) {
	pipe := s.client.Pipeline()
	globalEpochCmd := pipe.Get(ctx, s.globalEpochKey())
	userEpochCmd := pipe.Get(ctx, s.userEpochKey(userID))
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return "", err
	}
	globalEpoch, err := parseEpoch(globalEpochCmd)
	if err != nil {
		return "", err
	}
	userEpoch, err := parseEpoch(userEpochCmd)
	if err != nil {
		return "", err
	}
	return s.prefix + ":" + buildUserProjectionCacheKey(globalEpoch, userEpoch, userID), nil
}

func parseEpoch(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *RedisUserProjectionCacheStore) globalEpochKey() string {
	return s.prefix + ":epoch:global"
}

func (s *RedisUserProjectionCacheStore) userEpochKey(userID uint) string {
	return fmt.Sprintf("%s:epoch:user:%d", s.prefix, userID)
}
