package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
)

type Origin struct {
	IP        string
	UserAgent string
}

type LoginResult struct {
	AccessToken          string     `json:"access_token,omitempty"`
	SessionToken         string     `json:"session_token,omitempty"`
	AccessExpiresAt      *time.Time `json:"access_expires_at,omitempty"`
	SessionID            string     `json:"session_id,omitempty"`
	RequiresSecondFactor bool       `json:"requires_second_factor"`
	ElevationToken       string     `json:"elevation_token,omitempty"`
	RemainingBackupCodes *int       `json:"remaining_backup_codes,omitempty"`
}

// AuthService drives first-factor login and the optional second-factor step.
type AuthService struct {
	users        repository.UserRepository
	tenants      TenantDirectory
	hasher       security.PasswordHasher
	codec        *security.TokenCodec
	secondFactor SecondFactorVerifier
	tokens       *TokenService
	revocations  AccessRevocationStore
	invalidator  UserProjectionInvalidator
	audit        AuditRecorder
	logger       *slog.Logger
	now          func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	tenants TenantDirectory,
	hasher security.PasswordHasher,
	codec *security.TokenCodec,
	secondFactor SecondFactorVerifier,
	tokens *TokenService,
	revocations AccessRevocationStore,
	invalidator UserProjectionInvalidator,
	audit AuditRecorder,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:        users,
		tenants:      tenants,
		hasher:       hasher,
		codec:        codec,
		secondFactor: secondFactor,
		tokens:       tokens,
		revocations:  revocations,
		invalidator:  invalidator,
		audit:        audit,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *AuthService) Login(ctx context.Context, email, password string, origin Origin) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.login")
	defer span.End()

	email = repository.NormalizeEmail(email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin(ctx, "error", "storage")
			return nil, storageError(err)
		}
		s.hasher.CompareDummy(password)
		return nil, s.loginFailed(ctx, 0, nil, origin, "invalid_credentials", ErrInvalidCredentials, map[string]string{"email": email})
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, s.loginFailed(ctx, user.ID, user.TenantID, origin, "invalid_credentials", ErrInvalidCredentials)
	}
	if !user.Active {
		return nil, s.loginFailed(ctx, user.ID, user.TenantID, origin, "account_disabled", ErrAccountDisabled)
	}
	active, err := s.tenants.IsActive(ctx, user.TenantID)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error", "storage")
		return nil, storageError(err)
	}
	if !active {
		return nil, s.loginFailed(ctx, user.ID, user.TenantID, origin, "tenant_inactive", ErrTenantInactive)
	}

	if user.TwoFactorEnabled {
		elevation, _, err := s.codec.IssueElevation(user.ID)
		if err != nil {
			return nil, signingError(err)
		}
		observability.RecordAuthLogin(ctx, "second_factor_required", "")
		s.audit.Record(ctx, observability.AuditEvent{
			Event:     "login",
			Status:    "second_factor_required",
			UserID:    user.ID,
			TenantID:  user.TenantID,
			IP:        origin.IP,
			UserAgent: origin.UserAgent,
		})
		return &LoginResult{RequiresSecondFactor: true, ElevationToken: elevation}, nil
	}

	result, err := s.tokens.IssueSession(ctx, user, origin, "login")
	if err != nil {
		observability.RecordAuthLogin(ctx, "error", "issue_session")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "success", "")
	return result, nil
}

// CompleteSecondFactor exchanges an elevation token plus a TOTP or backup
// code for a session. Each elevation token can be presented once.
func (s *AuthService) CompleteSecondFactor(ctx context.Context, elevationToken, code string, origin Origin) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.complete_second_factor")
	defer span.End()

	claims, err := s.codec.VerifyElevation(elevationToken)
	if err != nil {
		return nil, s.secondFactorFailed(ctx, 0, nil, origin, "elevation", "elevation_expired", ErrElevationExpired)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, s.secondFactorFailed(ctx, 0, nil, origin, "elevation", "elevation_expired", ErrElevationExpired)
	}
	ttl := remainingTTL(claims.ExpiresAtTime(), s.now())
	won, err := s.revocations.ClaimOnce(ctx, claims.ID, ttl)
	if err != nil {
		return nil, storageError(err)
	}
	if !won {
		return nil, s.secondFactorFailed(ctx, userID, nil, origin, "elevation", "elevation_reused", ErrElevationExpired)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, s.secondFactorFailed(ctx, userID, nil, origin, "elevation", "unknown_user", ErrElevationExpired)
		}
		return nil, storageError(err)
	}
	if !user.Active {
		return nil, s.secondFactorFailed(ctx, user.ID, user.TenantID, origin, "elevation", "account_disabled", ErrAccountDisabled)
	}
	active, err := s.tenants.IsActive(ctx, user.TenantID)
	if err != nil {
		return nil, storageError(err)
	}
	if !active {
		return nil, s.secondFactorFailed(ctx, user.ID, user.TenantID, origin, "elevation", "tenant_inactive", ErrTenantInactive)
	}
	if !user.TwoFactorEnabled {
		return nil, s.secondFactorFailed(ctx, user.ID, user.TenantID, origin, "elevation", "second_factor_disabled", ErrElevationExpired)
	}

	code = strings.TrimSpace(code)
	ok, err := s.secondFactor.Challenge(ctx, user.ID, code)
	if err != nil {
		return nil, err
	}
	if ok {
		result, err := s.tokens.IssueSession(ctx, user, origin, "second_factor")
		if err != nil {
			return nil, err
		}
		observability.RecordSecondFactor(ctx, "totp", "success")
		return result, nil
	}
	if !security.LooksLikeBackupCode(code) {
		return nil, s.secondFactorFailed(ctx, user.ID, user.TenantID, origin, "totp", "invalid_code", ErrInvalidCode)
	}

	remaining, err := s.secondFactor.ConsumeBackupCode(ctx, user.ID, code)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCode):
			return nil, s.secondFactorFailed(ctx, user.ID, user.TenantID, origin, "backup_code", "invalid_code", ErrInvalidCode)
		case errors.Is(err, ErrAlreadyUsed):
			return nil, s.secondFactorFailed(ctx, user.ID, user.TenantID, origin, "backup_code", "already_used", ErrAlreadyUsed)
		default:
			return nil, err
		}
	}
	result, err := s.tokens.IssueSession(ctx, user, origin, "second_factor")
	if err != nil {
		return nil, err
	}
	result.RemainingBackupCodes = &remaining
	observability.RecordSecondFactor(ctx, "backup_code", "success")
	return result, nil
}

func (s *AuthService) BeginSecondFactorEnrollment(ctx context.Context, userID uint) (*Enrollment, error) {
	return s.secondFactor.BeginEnrollment(ctx, userID)
}

func (s *AuthService) ActivateSecondFactor(ctx context.Context, userID uint, code string, origin Origin) ([]string, error) {
	codes, err := s.secondFactor.Activate(ctx, userID, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return nil, s.secondFactorFailed(ctx, userID, nil, origin, "enrollment", "invalid_code", ErrInvalidCode)
		}
		return nil, err
	}
	s.invalidateProjection(ctx, userID)
	s.audit.Record(ctx, observability.AuditEvent{
		Event:  "second_factor_enabled",
		Status: observability.AuditStatusSuccess,
		UserID: userID,
		IP:     origin.IP,
	})
	return codes, nil
}

// DisableSecondFactor requires the current password and a current TOTP code.
func (s *AuthService) DisableSecondFactor(ctx context.Context, userID uint, password, code string, origin Origin) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUnauthorized
		}
		return storageError(err)
	}
	if !user.TwoFactorEnabled {
		return validationError("second factor not enabled")
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return s.secondFactorFailed(ctx, user.ID, user.TenantID, origin, "disable", "invalid_credentials", ErrInvalidCredentials)
	}
	ok, err := s.secondFactor.Challenge(ctx, user.ID, code)
	if err != nil {
		return err
	}
	if !ok {
		return s.secondFactorFailed(ctx, user.ID, user.TenantID, origin, "disable", "invalid_code", ErrInvalidCode)
	}
	if err := s.secondFactor.Deactivate(ctx, user.ID); err != nil {
		return err
	}
	s.invalidateProjection(ctx, user.ID)
	s.audit.Record(ctx, observability.AuditEvent{
		Event:    "second_factor_disabled",
		Status:   observability.AuditStatusSuccess,
		UserID:   user.ID,
		TenantID: user.TenantID,
		IP:       origin.IP,
	})
	return nil
}

func (s *AuthService) RemainingBackupCodes(ctx context.Context, userID uint) (int, error) {
	return s.secondFactor.RemainingBackupCodes(ctx, userID)
}

func (s *AuthService) loginFailed(ctx context.Context, userID uint, tenantID *uint, origin Origin, reason string, err error, attrs ...map[string]string) error {
	observability.RecordAuthLogin(ctx, "failed", reason)
	event := observability.AuditEvent{
		Event:     "login",
		Status:    observability.AuditStatusFailed,
		Reason:    reason,
		UserID:    userID,
		TenantID:  tenantID,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	}
	if len(attrs) > 0 {
		event.Attrs = attrs[0]
	}
	s.audit.Record(ctx, event)
	return err
}

func (s *AuthService) secondFactorFailed(ctx context.Context, userID uint, tenantID *uint, origin Origin, method, reason string, err error) error {
	observability.RecordSecondFactor(ctx, method, "failed")
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     "second_factor",
		Status:    observability.AuditStatusFailed,
		Reason:    reason,
		UserID:    userID,
		TenantID:  tenantID,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	})
	return err
}

func (s *AuthService) invalidateProjection(ctx context.Context, userID uint) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "user projection invalidation failed", "user_id", userID, "error", err)
	}
}
