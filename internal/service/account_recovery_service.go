package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
)

const (
	minPasswordLength = 8
	mailSendTimeout   = 10 * time.Second
)

type AccountRecoveryConfig struct {
	PublicBaseURL        string
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
}

// AccountRecoveryService issues and redeems password-reset and
// email-verification links. Both are single-use credentials minted by the
// token codec.
type AccountRecoveryService struct {
	users       repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      security.PasswordHasher
	codec       *security.TokenCodec
	mailer      Mailer
	invalidator UserProjectionInvalidator
	audit       AuditRecorder
	logger      *slog.Logger
	cfg         AccountRecoveryConfig
	now         func() time.Time
	inflight    sync.WaitGroup
}

func NewAccountRecoveryService(
	users repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher security.PasswordHasher,
	codec *security.TokenCodec,
	mailer Mailer,
	invalidator UserProjectionInvalidator,
	audit AuditRecorder,
	logger *slog.Logger,
	cfg AccountRecoveryConfig,
) *AccountRecoveryService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = 30 * time.Minute
	}
	if cfg.EmailVerificationTTL <= 0 {
		cfg.EmailVerificationTTL = 24 * time.Hour
	}
	return &AccountRecoveryService{
		users:       users,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		codec:       codec,
		mailer:      mailer,
		invalidator: invalidator,
		audit:       audit,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// RequestPasswordReset never reveals whether the address belongs to an
// account.
func (s *AccountRecoveryService) RequestPasswordReset(ctx context.Context, email string, origin Origin) error {
	user, err := s.users.FindByEmail(ctx, repository.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.audit.Record(ctx, observability.AuditEvent{
				Event:  "password_reset_requested",
				Status: observability.AuditStatusFailed,
				Reason: "unknown_account",
				IP:     origin.IP,
			})
			return nil
		}
		return storageError(err)
	}
	if !user.Active {
		s.audit.Record(ctx, observability.AuditEvent{
			Event:    "password_reset_requested",
			Status:   observability.AuditStatusFailed,
			Reason:   "account_disabled",
			UserID:   user.ID,
			TenantID: user.TenantID,
			IP:       origin.IP,
		})
		return nil
	}
	token, _, err := s.codec.IssueSingleUse(user.ID, security.PurposePasswordReset,
		map[string]string{"fp": passwordFingerprint(user)}, s.cfg.PasswordResetTTL)
	if err != nil {
		return signingError(err)
	}
	s.sendAsync(ctx, user.Email, "Reset your password",
		fmt.Sprintf("Use the link below to choose a new password. It expires in %s.\n\n%s\n",
			s.cfg.PasswordResetTTL, s.link("/reset-password", token)))
	s.audit.Record(ctx, observability.AuditEvent{
		Event:    "password_reset_requested",
		Status:   observability.AuditStatusSuccess,
		UserID:   user.ID,
		TenantID: user.TenantID,
		IP:       origin.IP,
	})
	return nil
}

// ResetPassword redeems a reset link. The link is bound to the password it
// was issued against, so it stops working once any password change lands.
// Every session of the account is revoked.
func (s *AccountRecoveryService) ResetPassword(ctx context.Context, token, newPassword string, origin Origin) error {
	if len(newPassword) < minPasswordLength {
		return validationError(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	claims, err := s.codec.VerifySingleUse(token, security.PurposePasswordReset)
	if err != nil {
		return s.recoveryFailed(ctx, "password_reset", 0, origin, "invalid_token", ErrInvalidCredentials)
	}
	userID, err := claims.UserID()
	if err != nil {
		return s.recoveryFailed(ctx, "password_reset", 0, origin, "invalid_token", ErrInvalidCredentials)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return s.recoveryFailed(ctx, "password_reset", userID, origin, "unknown_user", ErrInvalidCredentials)
		}
		return storageError(err)
	}
	if !user.Active {
		return s.recoveryFailed(ctx, "password_reset", user.ID, origin, "account_disabled", ErrAccountDisabled)
	}
	if claims.Extra["fp"] != passwordFingerprint(user) {
		return s.recoveryFailed(ctx, "password_reset", user.ID, origin, "token_reused", ErrAlreadyUsed)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now()); err != nil {
		return storageError(err)
	}
	n, err := s.sessionRepo.RevokeAllForUser(ctx, user.ID, RevokeReasonPasswordReset)
	if err != nil {
		return storageError(err)
	}
	s.invalidateProjection(ctx, user.ID)
	s.audit.Record(ctx, observability.AuditEvent{
		Event:    "password_reset",
		Status:   observability.AuditStatusSuccess,
		UserID:   user.ID,
		TenantID: user.TenantID,
		IP:       origin.IP,
		Attrs:    map[string]string{"revoked": itoa(n)},
	})
	return nil
}

func (s *AccountRecoveryService) RequestEmailVerification(ctx context.Context, userID uint) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUnauthorized
		}
		return storageError(err)
	}
	if user.EmailVerifiedAt != nil {
		return nil
	}
	token, _, err := s.codec.IssueSingleUse(user.ID, security.PurposeEmailVerification,
		map[string]string{"email": user.Email}, s.cfg.EmailVerificationTTL)
	if err != nil {
		return signingError(err)
	}
	s.sendAsync(ctx, user.Email, "Confirm your email address",
		fmt.Sprintf("Confirm this address by opening:\n\n%s\n", s.link("/verify-email", token)))
	return nil
}

// ConfirmEmailVerification marks the address verified when the link still
// names the account's current address.
func (s *AccountRecoveryService) ConfirmEmailVerification(ctx context.Context, token string, origin Origin) error {
	claims, err := s.codec.VerifySingleUse(token, security.PurposeEmailVerification)
	if err != nil {
		return s.recoveryFailed(ctx, "email_verification", 0, origin, "invalid_token", ErrInvalidCredentials)
	}
	userID, err := claims.UserID()
	if err != nil {
		return s.recoveryFailed(ctx, "email_verification", 0, origin, "invalid_token", ErrInvalidCredentials)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return s.recoveryFailed(ctx, "email_verification", userID, origin, "unknown_user", ErrInvalidCredentials)
		}
		return storageError(err)
	}
	if claims.Extra["email"] != user.Email {
		return s.recoveryFailed(ctx, "email_verification", user.ID, origin, "email_changed", ErrInvalidCredentials)
	}
	if user.EmailVerifiedAt != nil {
		return nil
	}
	if err := s.users.MarkEmailVerified(ctx, user.ID, s.now()); err != nil {
		return storageError(err)
	}
	s.invalidateProjection(ctx, user.ID)
	s.audit.Record(ctx, observability.AuditEvent{
		Event:    "email_verification",
		Status:   observability.AuditStatusSuccess,
		UserID:   user.ID,
		TenantID: user.TenantID,
		IP:       origin.IP,
	})
	return nil
}

// Wait blocks until queued mail has been handed to the mailer.
func (s *AccountRecoveryService) Wait() {
	s.inflight.Wait()
}

func (s *AccountRecoveryService) sendAsync(ctx context.Context, to, subject, body string) {
	if s.mailer == nil {
		return
	}
	sendCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		sendCtx, cancel := context.WithTimeout(sendCtx, mailSendTimeout)
		defer cancel()
		if err := s.mailer.Send(sendCtx, to, subject, body); err != nil {
			s.logger.WarnContext(sendCtx, "mail delivery failed", "subject", subject, "error", err)
		}
	}()
}

func (s *AccountRecoveryService) link(path, token string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}

func (s *AccountRecoveryService) recoveryFailed(ctx context.Context, event string, userID uint, origin Origin, reason string, err error) error {
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     event,
		Status:    observability.AuditStatusFailed,
		Reason:    reason,
		UserID:    userID,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	})
	return err
}

func (s *AccountRecoveryService) invalidateProjection(ctx context.Context, userID uint) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "user projection invalidation failed", "user_id", userID, "error", err)
	}
}

func passwordFingerprint(user *domain.User) string {
	sum := sha256.Sum256([]byte(user.PasswordHash))
	return hex.EncodeToString(sum[:8])
}
