package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
)

const (
	RevokeReasonLogout         = "logout"
	RevokeReasonLogoutAll      = "logout_all"
	RevokeReasonUserRevoked    = "user_session_revoked"
	RevokeReasonRevokeOthers   = "user_revoke_others"
	RevokeReasonDisabled       = "account_disabled"
	RevokeReasonTenantInactive = "tenant_inactive"
	RevokeReasonPasswordReset  = "password_reset"
)

type SessionView struct {
	SessionID  string        `json:"session_id"`
	Device     domain.Device `json:"device"`
	OriginIP   string        `json:"origin_ip"`
	LastUsedAt *time.Time    `json:"last_used_at,omitempty"`
	LastUsedIP string        `json:"last_used_ip,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	IsCurrent  bool          `json:"is_current"`
}

type LogoutInput struct {
	UserID          uint
	TenantID        *uint
	SessionToken    string
	AccessTokenID   string
	AccessExpiresAt time.Time
	Origin          Origin
}

type SessionServiceConfig struct {
	Pepper          string
	RotationEnabled bool
}

// SessionService owns the post-login half of the lifecycle: refresh,
// logout and session management.
type SessionService struct {
	codec       *security.TokenCodec
	sessionRepo repository.SessionRepository
	users       repository.UserRepository
	tenants     TenantDirectory
	tokens      *TokenService
	revocations AccessRevocationStore
	invalidator UserProjectionInvalidator
	audit       AuditRecorder
	logger      *slog.Logger
	pepper      string
	rotation    bool
	now         func() time.Time
}

func NewSessionService(
	codec *security.TokenCodec,
	sessionRepo repository.SessionRepository,
	users repository.UserRepository,
	tenants TenantDirectory,
	tokens *TokenService,
	revocations AccessRevocationStore,
	invalidator UserProjectionInvalidator,
	audit AuditRecorder,
	logger *slog.Logger,
	cfg SessionServiceConfig,
) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		codec:       codec,
		sessionRepo: sessionRepo,
		users:       users,
		tenants:     tenants,
		tokens:      tokens,
		revocations: revocations,
		invalidator: invalidator,
		audit:       audit,
		logger:      logger,
		pepper:      cfg.Pepper,
		rotation:    cfg.RotationEnabled,
		now:         time.Now,
	}
}

// Refresh exchanges a valid session credential for a new access credential.
// With rotation enabled the presented session is retired and replaced; a
// second presentation of the retired credential yields
// ErrSessionAlreadyRotated.
func (s *SessionService) Refresh(ctx context.Context, sessionToken string, origin Origin) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "session.refresh")
	defer span.End()

	claims, err := s.codec.VerifySession(sessionToken)
	if err != nil {
		return nil, s.refreshFailed(ctx, 0, nil, "", origin, "invalid_token", ErrSessionInvalid)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, s.refreshFailed(ctx, 0, nil, "", origin, "invalid_token", ErrSessionInvalid)
	}
	record, err := s.sessionRepo.FindBySessionID(ctx, claims.SessionID, true)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, s.refreshFailed(ctx, userID, claims.TenantID, claims.SessionID, origin, "unknown_session", ErrSessionInvalid)
		}
		observability.RecordAuthRefresh(ctx, "error")
		return nil, storageError(err)
	}
	if record.UserID != userID || !security.SessionTokenMatches(sessionToken, s.pepper, record.TokenHash) {
		return nil, s.refreshFailed(ctx, userID, record.TenantID, record.SessionID, origin, "credential_mismatch", ErrSessionInvalid)
	}
	if record.RevokedAt != nil {
		if record.RevokedReason != nil && *record.RevokedReason == repository.RevokeReasonRotated {
			return nil, s.refreshFailed(ctx, userID, record.TenantID, record.SessionID, origin, "session_reuse_detected", ErrSessionAlreadyRotated)
		}
		return nil, s.refreshFailed(ctx, userID, record.TenantID, record.SessionID, origin, "session_revoked", ErrSessionInvalid)
	}
	if !record.IsValidAt(s.now()) {
		return nil, s.refreshFailed(ctx, userID, record.TenantID, record.SessionID, origin, "session_expired", ErrSessionInvalid)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.revokeQuietly(ctx, record.SessionID, RevokeReasonDisabled)
			return nil, s.refreshFailed(ctx, userID, record.TenantID, record.SessionID, origin, "unknown_user", ErrSessionInvalid)
		}
		observability.RecordAuthRefresh(ctx, "error")
		return nil, storageError(err)
	}
	if !user.Active {
		s.revokeQuietly(ctx, record.SessionID, RevokeReasonDisabled)
		return nil, s.refreshFailed(ctx, userID, user.TenantID, record.SessionID, origin, "account_disabled", ErrAccountDisabled)
	}
	active, err := s.tenants.IsActive(ctx, user.TenantID)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "error")
		return nil, storageError(err)
	}
	if !active {
		s.revokeQuietly(ctx, record.SessionID, RevokeReasonTenantInactive)
		return nil, s.refreshFailed(ctx, userID, user.TenantID, record.SessionID, origin, "tenant_inactive", ErrTenantInactive)
	}

	var result *LoginResult
	if s.rotation {
		result, err = s.tokens.Rotate(ctx, record, user, origin)
		if err != nil {
			if errors.Is(err, ErrSessionAlreadyRotated) {
				return nil, s.refreshFailed(ctx, userID, user.TenantID, record.SessionID, origin, "session_reuse_detected", err)
			}
			if errors.Is(err, ErrSessionInvalid) {
				return nil, s.refreshFailed(ctx, userID, user.TenantID, record.SessionID, origin, "session_revoked", err)
			}
			observability.RecordAuthRefresh(ctx, "error")
			return nil, err
		}
	} else {
		if err := s.sessionRepo.Touch(ctx, record.SessionID, origin.IP, s.now()); err != nil {
			s.logger.WarnContext(ctx, "session touch failed", "session_id", record.SessionID, "error", err)
		}
		result, err = s.tokens.ReissueAccess(user, sessionToken, record)
		if err != nil {
			observability.RecordAuthRefresh(ctx, "error")
			return nil, err
		}
	}

	observability.RecordAuthRefresh(ctx, "success")
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     "refresh",
		Status:    observability.AuditStatusSuccess,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		SessionID: result.SessionID,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
		Attrs:     map[string]string{"parent_session_id": record.SessionID},
	})
	return result, nil
}

// Logout is best effort and never fails the caller: the presented session is
// revoked and the access credential blacklisted for its remaining lifetime.
func (s *SessionService) Logout(ctx context.Context, in LogoutInput) error {
	ctx, span := observability.StartSpan(ctx, "session.logout")
	defer span.End()

	var sessionID string
	if in.SessionToken != "" {
		claims, err := s.codec.VerifySession(in.SessionToken)
		switch {
		case err != nil:
			s.logger.InfoContext(ctx, "logout with unusable session credential", "user_id", in.UserID, "error", err)
		default:
			sessionID = claims.SessionID
			if _, err := s.sessionRepo.RevokeForUser(ctx, in.UserID, sessionID, RevokeReasonLogout); err != nil {
				s.logger.WarnContext(ctx, "logout session revoke failed", "user_id", in.UserID, "session_id", sessionID, "error", err)
			}
		}
	}
	if in.AccessTokenID != "" {
		ttl := remainingTTL(in.AccessExpiresAt, s.now())
		if in.AccessExpiresAt.IsZero() {
			ttl = s.codec.AccessTTL()
		}
		if ttl > 0 {
			if err := s.revocations.Blacklist(ctx, in.AccessTokenID, ttl); err != nil {
				s.logger.WarnContext(ctx, "access blacklist failed", "user_id", in.UserID, "error", err)
			}
		}
	}
	s.invalidateProjection(ctx, in.UserID)
	observability.RecordAuthLogout(ctx, "single", "success")
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     "logout",
		Status:    observability.AuditStatusSuccess,
		UserID:    in.UserID,
		TenantID:  in.TenantID,
		SessionID: sessionID,
		IP:        in.Origin.IP,
		UserAgent: in.Origin.UserAgent,
	})
	return nil
}

// LogoutAll revokes every session of the user and reports how many changed.
func (s *SessionService) LogoutAll(ctx context.Context, userID uint, tenantID *uint, origin Origin) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "session.logout_all")
	defer span.End()

	n, err := s.sessionRepo.RevokeAllForUser(ctx, userID, RevokeReasonLogoutAll)
	if err != nil {
		observability.RecordAuthLogout(ctx, "all", "error")
		return 0, storageError(err)
	}
	s.invalidateProjection(ctx, userID)
	observability.RecordAuthLogout(ctx, "all", "success")
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     "logout_all",
		Status:    observability.AuditStatusSuccess,
		UserID:    userID,
		TenantID:  tenantID,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
		Attrs:     map[string]string{"revoked": itoa(n)},
	})
	return n, nil
}

// RevokeSession revokes one of the caller's own sessions. The returned
// status is "revoked" or "already_revoked".
func (s *SessionService) RevokeSession(ctx context.Context, userID uint, tenantID *uint, sessionID string, origin Origin) (string, error) {
	changed, err := s.sessionRepo.RevokeForUser(ctx, userID, sessionID, RevokeReasonUserRevoked)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "", ErrSessionInvalid
		}
		return "", storageError(err)
	}
	status := "revoked"
	if !changed {
		status = "already_revoked"
	}
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     "session_revoke",
		Status:    observability.AuditStatusSuccess,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        origin.IP,
		Attrs:     map[string]string{"result": status},
	})
	return status, nil
}

func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID uint, tenantID *uint, currentSessionID string, origin Origin) (int64, error) {
	if currentSessionID == "" {
		return 0, validationError("current session is required")
	}
	n, err := s.sessionRepo.RevokeOthersForUser(ctx, userID, currentSessionID, RevokeReasonRevokeOthers)
	if err != nil {
		return 0, storageError(err)
	}
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     "session_revoke_others",
		Status:    observability.AuditStatusSuccess,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: currentSessionID,
		IP:        origin.IP,
		Attrs:     map[string]string{"revoked": itoa(n)},
	})
	return n, nil
}

func (s *SessionService) ListActiveSessions(ctx context.Context, userID uint, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessionRepo.ListByUser(ctx, userID, false)
	if err != nil {
		return nil, storageError(err)
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			SessionID:  session.SessionID,
			Device:     session.Device,
			OriginIP:   session.OriginIP,
			LastUsedAt: session.LastUsedAt,
			LastUsedIP: session.LastUsedIP,
			CreatedAt:  session.CreatedAt,
			ExpiresAt:  session.ExpiresAt,
			IsCurrent:  currentSessionID != "" && session.SessionID == currentSessionID,
		})
	}
	return views, nil
}

// ResolveCurrentSessionID maps a presented session credential to its session
// id when it belongs to userID and is still active.
func (s *SessionService) ResolveCurrentSessionID(ctx context.Context, sessionToken string, userID uint) (string, error) {
	if sessionToken == "" {
		return "", ErrSessionInvalid
	}
	claims, err := s.codec.VerifySession(sessionToken)
	if err != nil {
		return "", ErrSessionInvalid
	}
	record, err := s.sessionRepo.FindBySessionID(ctx, claims.SessionID, false)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "", ErrSessionInvalid
		}
		return "", storageError(err)
	}
	if record.UserID != userID || !security.SessionTokenMatches(sessionToken, s.pepper, record.TokenHash) {
		return "", ErrSessionInvalid
	}
	return record.SessionID, nil
}

// RevokeTenantSessions revokes every active session in a tenant. A nil
// tenant is rejected rather than treated as "all tenants".
func (s *SessionService) RevokeTenantSessions(ctx context.Context, tenantID *uint, reason string, origin Origin) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "session.revoke_tenant")
	defer span.End()

	if tenantID == nil {
		return 0, validationError("tenant is required")
	}
	if reason == "" {
		reason = RevokeReasonTenantInactive
	}
	n, err := s.sessionRepo.RevokeAllForTenant(ctx, tenantID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrTenantScopeRequired) {
			return 0, validationError("tenant is required")
		}
		return 0, storageError(err)
	}
	// Projections are keyed by user, not tenant.
	if n > 0 && s.invalidator != nil {
		if err := s.invalidator.InvalidateAll(ctx); err != nil {
			s.logger.WarnContext(ctx, "user projection invalidation failed", "tenant_id", *tenantID, "error", err)
		}
	}
	s.audit.Record(ctx, observability.AuditEvent{
		Event:    "tenant_sessions_revoke",
		Status:   observability.AuditStatusSuccess,
		TenantID: tenantID,
		IP:       origin.IP,
		Reason:   reason,
		Attrs:    map[string]string{"revoked": itoa(n)},
	})
	return n, nil
}

func (s *SessionService) refreshFailed(ctx context.Context, userID uint, tenantID *uint, sessionID string, origin Origin, reason string, err error) error {
	observability.RecordAuthRefresh(ctx, "failed")
	event := "refresh"
	if reason == "session_reuse_detected" {
		event = reason
	}
	s.audit.Record(ctx, observability.AuditEvent{
		Event:     event,
		Status:    observability.AuditStatusFailed,
		Reason:    reason,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	})
	return err
}

func (s *SessionService) revokeQuietly(ctx context.Context, sessionID, reason string) {
	if _, err := s.sessionRepo.Revoke(ctx, sessionID, reason); err != nil {
		s.logger.WarnContext(ctx, "session revoke failed", "session_id", sessionID, "error", err)
	}
}

func (s *SessionService) invalidateProjection(ctx context.Context, userID uint) {
	if s.invalidator == nil || userID == 0 {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "user projection invalidation failed", "user_id", userID, "error", err)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
