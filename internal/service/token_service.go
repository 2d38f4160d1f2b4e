package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
)

// TokenService mints credential pairs and keeps the Session Registry in step
// with them.
type TokenService struct {
	codec       *security.TokenCodec
	sessionRepo repository.SessionRepository
	pepper      string
	invalidator UserProjectionInvalidator
	audit       AuditRecorder
	logger      *slog.Logger
}

func NewTokenService(
	codec *security.TokenCodec,
	sessionRepo repository.SessionRepository,
	pepper string,
	invalidator UserProjectionInvalidator,
	audit AuditRecorder,
	logger *slog.Logger,
) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		codec:       codec,
		sessionRepo: sessionRepo,
		pepper:      pepper,
		invalidator: invalidator,
		audit:       audit,
		logger:      logger,
	}
}

// IssueSession runs the full issuance pipeline for an authenticated user:
// access credential, session credential, session record, cache invalidation
// and a success audit entry.
func (s *TokenService) IssueSession(ctx context.Context, user *domain.User, origin Origin, event string) (*LoginResult, error) {
	access, accessClaims, err := s.codec.IssueAccess(user.ID, user.TenantID, string(user.Role), user.Email)
	if err != nil {
		return nil, signingError(err)
	}
	sessionToken, sessionClaims, err := s.codec.IssueSession(user.ID, user.TenantID)
	if err != nil {
		return nil, signingError(err)
	}
	record := s.newRecord(user, sessionToken, sessionClaims, origin)
	if err := s.sessionRepo.Create(ctx, record); err != nil {
		return nil, storageError(err)
	}

	s.invalidateProjection(ctx, user.ID)
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     event,
		Status:    observability.AuditStatusSuccess,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		SessionID: record.SessionID,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	})
	return &LoginResult{
		AccessToken:     access,
		SessionToken:    sessionToken,
		AccessExpiresAt: expiryOf(accessClaims),
		SessionID:       record.SessionID,
	}, nil
}

// Rotate replaces current with a freshly minted session in one registry transition.
func (s *TokenService) Rotate(ctx context.Context, current *domain.Session, user *domain.User, origin Origin) (*LoginResult, error) {
	access, accessClaims, err := s.codec.IssueAccess(user.ID, user.TenantID, string(user.Role), user.Email)
	if err != nil {
		return nil, signingError(err)
	}
	sessionToken, sessionClaims, err := s.codec.IssueSession(user.ID, user.TenantID)
	if err != nil {
		return nil, signingError(err)
	}
	next := s.newRecord(user, sessionToken, sessionClaims, origin)
	rotated, err := s.sessionRepo.Rotate(ctx, current.SessionID, next)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionAlreadyRotated):
			return nil, ErrSessionAlreadyRotated
		case errors.Is(err, repository.ErrSessionNotFound):
			return nil, ErrSessionInvalid
		default:
			return nil, storageError(err)
		}
	}
	return &LoginResult{
		AccessToken:     access,
		SessionToken:    sessionToken,
		AccessExpiresAt: expiryOf(accessClaims),
		SessionID:       rotated.SessionID,
	}, nil
}

// ReissueAccess keeps the presented session credential and mints only a new
// access credential.
func (s *TokenService) ReissueAccess(user *domain.User, sessionToken string, current *domain.Session) (*LoginResult, error) {
	access, accessClaims, err := s.codec.IssueAccess(user.ID, user.TenantID, string(user.Role), user.Email)
	if err != nil {
		return nil, signingError(err)
	}
	return &LoginResult{
		AccessToken:     access,
		SessionToken:    sessionToken,
		AccessExpiresAt: expiryOf(accessClaims),
		SessionID:       current.SessionID,
	}, nil
}

func (s *TokenService) newRecord(user *domain.User, sessionToken string, claims *security.Claims, origin Origin) *domain.Session {
	return &domain.Session{
		SessionID: claims.SessionID,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: security.HashSessionToken(sessionToken, s.pepper),
		OriginIP:  origin.IP,
		UserAgent: security.TruncateUserAgent(origin.UserAgent),
		Device:    security.ParseDevice(origin.UserAgent),
		ExpiresAt: claims.ExpiresAtTime(),
	}
}

func (s *TokenService) invalidateProjection(ctx context.Context, userID uint) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "user projection invalidation failed", "user_id", userID, "error", err)
	}
}

func expiryOf(claims *security.Claims) *time.Time {
	at := claims.ExpiresAtTime()
	return &at
}

func remainingTTL(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	return expiresAt.Sub(now)
}
