package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const RevokeReasonRotated = "rotated"

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionAlreadyRotated = errors.New("session already rotated")
	ErrTenantScopeRequired   = errors.New("tenant scope required")
)

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindBySessionID(ctx context.Context, sessionID string, includeInactive bool) (*domain.Session, error)
	ListByUser(ctx context.Context, userID uint, includeInactive bool) ([]domain.Session, error)
	Touch(ctx context.Context, sessionID, ip string, at time.Time) error
	Rotate(ctx context.Context, oldSessionID string, next *domain.Session) (*domain.Session, error)
	Revoke(ctx context.Context, sessionID, reason string) (bool, error)
	RevokeForUser(ctx context.Context, userID uint, sessionID, reason string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error)
	RevokeOthersForUser(ctx context.Context, userID uint, keepSessionID, reason string) (int64, error)
	RevokeAllForTenant(ctx context.Context, tenantID *uint, reason string) (int64, error)
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

type GormSessionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &GormSessionRepository{db: db, now: time.Now}
}

// NewSessionRepositoryWithClock is used where tests need to steer expiry.
func NewSessionRepositoryWithClock(db *gorm.DB, now func() time.Time) SessionRepository {
	if now == nil {
		now = time.Now
	}
	return &GormSessionRepository{db: db, now: now}
}

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	s.ExpiresAt = s.ExpiresAt.UTC()
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindBySessionID(ctx context.Context, sessionID string, includeInactive bool) (*domain.Session, error) {
	var s domain.Session
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if !includeInactive {
		q = q.Where("revoked_at IS NULL AND expires_at > ?", r.now().UTC())
	}
	err := q.First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_session_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_session_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_session_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListByUser(ctx context.Context, userID uint, includeInactive bool) ([]domain.Session, error) {
	var sessions []domain.Session
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if !includeInactive {
		q = q.Where("revoked_at IS NULL AND expires_at > ?", r.now().UTC())
	}
	err := q.Order("created_at DESC").Order("id DESC").Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_by_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_by_user", "success")
	return sessions, nil
}

// Touch records a use of an active session.
func (r *GormSessionRepository) Touch(ctx context.Context, sessionID, ip string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("session_id = ? AND revoked_at IS NULL", sessionID).
		Updates(map[string]any{
			"last_used_at": at.UTC(),
			"last_used_ip": ip,
			"usage_count":  gorm.Expr("usage_count + 1"),
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "touch", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "touch", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "session", "touch", "success")
	return nil
}

// Rotate revokes oldSessionID and inserts next in one transaction. Only one
// caller can win the conditional revoke for a given session id; the loser
// observes ErrSessionAlreadyRotated.
func (r *GormSessionRepository) Rotate(ctx context.Context, oldSessionID string, next *domain.Session) (*domain.Session, error) {
	now := r.now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reason := RevokeReasonRotated
		res := tx.Model(&domain.Session{}).
			Where("session_id = ? AND revoked_at IS NULL AND expires_at > ?", oldSessionID, now).
			Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
		if res.Error != nil {
			return res.Error
		}
		var old domain.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", oldSessionID).
			First(&old).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			if old.RevokedReason != nil && *old.RevokedReason == RevokeReasonRotated {
				return ErrSessionAlreadyRotated
			}
			return ErrSessionNotFound
		}

		parent := old.SessionID
		next.ParentSessionID = &parent
		next.UserID = old.UserID
		next.TenantID = old.TenantID
		if next.OriginIP == "" {
			next.OriginIP = old.OriginIP
		}
		if next.UserAgent == "" {
			next.UserAgent = old.UserAgent
			next.Device = old.Device
		}
		next.ExpiresAt = next.ExpiresAt.UTC()
		next.UsageCount = old.UsageCount + 1
		next.LastUsedAt = &now
		if next.LastUsedIP == "" {
			next.LastUsedIP = next.OriginIP
		}
		return tx.Create(next).Error
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			observability.RecordRepositoryOperation(ctx, "session", "rotate", "not_found")
		case errors.Is(err, ErrSessionAlreadyRotated):
			observability.RecordRepositoryOperation(ctx, "session", "rotate", "conflict")
		default:
			observability.RecordRepositoryOperation(ctx, "session", "rotate", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "rotate", "success")
	return next, nil
}

// Revoke is idempotent: revoking an already revoked session reports false.
func (r *GormSessionRepository) Revoke(ctx context.Context, sessionID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("session_id = ? AND revoked_at IS NULL", sessionID).
		Updates(map[string]any{"revoked_at": r.now().UTC(), "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) RevokeForUser(ctx context.Context, userID uint, sessionID, reason string) (bool, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("user_id = ? AND session_id = ?", userID, sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "revoke_for_user", "not_found")
			return false, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "revoke_for_user", "error")
		return false, err
	}
	if s.RevokedAt != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_for_user", "success")
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND session_id = ? AND revoked_at IS NULL", userID, sessionID).
		Updates(map[string]any{"revoked_at": r.now().UTC(), "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_for_user", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_for_user", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": r.now().UTC(), "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_user", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) RevokeOthersForUser(ctx context.Context, userID uint, keepSessionID, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND session_id <> ? AND revoked_at IS NULL", userID, keepSessionID).
		Updates(map[string]any{"revoked_at": r.now().UTC(), "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_others_for_user", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_others_for_user", "success")
	return res.RowsAffected, nil
}

// RevokeAllForTenant refuses a nil tenant, which would otherwise match every
// cross-tenant session.
func (r *GormSessionRepository) RevokeAllForTenant(ctx context.Context, tenantID *uint, reason string) (int64, error) {
	if tenantID == nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_tenant", "error")
		return 0, ErrTenantScopeRequired
	}
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("tenant_id = ? AND revoked_at IS NULL", *tenantID).
		Updates(map[string]any{"revoked_at": r.now().UTC(), "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_tenant", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_tenant", "success")
	return res.RowsAffected, nil
}

// Prune deletes records that expired more than retention ago.
func (r *GormSessionRepository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	cutoff := r.now().UTC().Add(-retention)
	res := r.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "prune", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "prune", "success")
	return res.RowsAffected, nil
}
