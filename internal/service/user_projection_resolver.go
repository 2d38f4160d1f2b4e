package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
)

type CachedUserProjectionResolver struct {
	cacheStore UserProjectionCacheStore
	users      repository.UserRepository
	ttl        time.Duration
	logger     *slog.Logger
}

func NewCachedUserProjectionResolver(cacheStore UserProjectionCacheStore, users repository.UserRepository, ttl time.Duration, logger *slog.Logger) *CachedUserProjectionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedUserProjectionResolver{
		cacheStore: cacheStore,
		users:      users,
		ttl:        ttl,
		logger:     logger,
	}
}

// Resolve serves the projection from cache when possible. Cache failures
// fall through to the repository.
func (r *CachedUserProjectionResolver) Resolve(ctx context.Context, userID uint) (*domain.UserProjection, error) {
	if r.cacheStore != nil && r.ttl > 0 {
		cached, ok, err := r.cacheStore.Get(ctx, userID)
		if err != nil {
			r.logger.WarnContext(ctx, "user projection cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, storageError(err)
	}
	projection := domain.NewUserProjection(user)
	if r.cacheStore != nil && r.ttl > 0 {
		if err := r.cacheStore.Set(ctx, projection, r.ttl); err != nil {
			r.logger.WarnContext(ctx, "user projection cache write failed", "user_id", userID, "error", err)
		}
	}
	return projection, nil
}

func (r *CachedUserProjectionResolver) InvalidateUser(ctx context.Context, userID uint) error {
	if r.cacheStore == nil {
		return nil
	}
	return r.cacheStore.InvalidateUser(ctx, userID)
}

func (r *CachedUserProjectionResolver) InvalidateAll(ctx context.Context) error {
	if r.cacheStore == nil {
		return nil
	}
	return r.cacheStore.InvalidateAll(ctx)
}
