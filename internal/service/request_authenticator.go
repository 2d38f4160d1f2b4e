package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
)

// RequestAuthenticator validates access credentials on protected requests.
// It fails closed when the revocation store cannot be consulted.
type RequestAuthenticator struct {
	codec       *security.TokenCodec
	revocations AccessRevocationStore
}

func NewRequestAuthenticator(codec *security.TokenCodec, revocations AccessRevocationStore) *RequestAuthenticator {
	return &RequestAuthenticator{codec: codec, revocations: revocations}
}

func (a *RequestAuthenticator) VerifyAccessForRequest(ctx context.Context, raw string) (*security.Claims, error) {
	claims, err := a.codec.VerifyAccess(raw)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, security.ErrTokenExpired) {
			outcome = "expired"
		}
		observability.RecordAccessTokenValidation(ctx, outcome)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if _, err := claims.UserID(); err != nil {
		observability.RecordAccessTokenValidation(ctx, "invalid")
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	revoked, err := a.revocations.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "store_error")
		return nil, storageError(err)
	}
	if revoked {
		observability.RecordAccessTokenValidation(ctx, "revoked")
		return nil, ErrAccessRevoked
	}
	observability.RecordAccessTokenValidation(ctx, "valid")
	return claims, nil
}
