package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	SetActive(ctx context.Context, userID uint, active bool) error
	SetPendingTwoFactorSecret(ctx context.Context, userID uint, secret string) error
	ActivateSecondFactor(ctx context.Context, userID uint, codeHashes []string) error
	ClearSecondFactor(ctx context.Context, userID uint) error
	UpdatePassword(ctx context.Context, userID uint, passwordHash string, changedAt time.Time) error
	MarkEmailVerified(ctx context.Context, userID uint, at time.Time) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

// NormalizeEmail is the single canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = NormalizeEmail(user.Email)
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) SetActive(ctx context.Context, userID uint, active bool) error {
	return r.updateColumns(ctx, "set_active", userID, map[string]any{"active": active})
}

// SetPendingTwoFactorSecret stores a secret that is not yet enforced at login.
func (r *GormUserRepository) SetPendingTwoFactorSecret(ctx context.Context, userID uint, secret string) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND two_factor_enabled = ?", userID, false).
		Updates(map[string]any{"two_factor_secret": secret})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user", "set_pending_two_factor_secret", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "user", "set_pending_two_factor_secret", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", "set_pending_two_factor_secret", "success")
	return nil
}

// ActivateSecondFactor enables the pending secret and replaces the backup
// code batch atomically.
func (r *GormUserRepository) ActivateSecondFactor(ctx context.Context, userID uint, codeHashes []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ? AND two_factor_secret IS NOT NULL", userID).
			Updates(map[string]any{"two_factor_enabled": true})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		if err := tx.Where("user_id = ?", userID).Delete(&domain.BackupCode{}).Error; err != nil {
			return err
		}
		if len(codeHashes) == 0 {
			return nil
		}
		rows := make([]domain.BackupCode, 0, len(codeHashes))
		for _, h := range codeHashes {
			rows = append(rows, domain.BackupCode{UserID: userID, CodeHash: h})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "activate_second_factor", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "user", "activate_second_factor", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "activate_second_factor", "success")
	return nil
}

func (r *GormUserRepository) ClearSecondFactor(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{"two_factor_enabled": false, "two_factor_secret": nil}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&domain.BackupCode{}).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "clear_second_factor", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "clear_second_factor", "success")
	return nil
}

func (r *GormUserRepository) UpdatePassword(ctx context.Context, userID uint, passwordHash string, changedAt time.Time) error {
	return r.updateColumns(ctx, "update_password", userID, map[string]any{
		"password_hash":       passwordHash,
		"password_changed_at": changedAt.UTC(),
	})
}

func (r *GormUserRepository) MarkEmailVerified(ctx context.Context, userID uint, at time.Time) error {
	return r.updateColumns(ctx, "mark_email_verified", userID, map[string]any{"email_verified_at": at.UTC()})
}

func (r *GormUserRepository) updateColumns(ctx context.Context, op string, userID uint, cols map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", userID).Updates(cols)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "user", op, "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", op, "success")
	return nil
}
