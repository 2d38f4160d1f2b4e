package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrBackupCodeNotFound = errors.New("backup code not found")
	ErrBackupCodeConsumed = errors.New("backup code already consumed")
)

type BackupCodeRepository interface {
	Consume(ctx context.Context, userID uint, codeHash string, at time.Time) error
	CountRemaining(ctx context.Context, userID uint) (int, error)
}

type GormBackupCodeRepository struct{ db *gorm.DB }

func NewBackupCodeRepository(db *gorm.DB) BackupCodeRepository {
	return &GormBackupCodeRepository{db: db}
}

// Consume marks a code used. Concurrent consumers of the same code race on
// the conditional update and exactly one succeeds.
func (r *GormBackupCodeRepository) Consume(ctx context.Context, userID uint, codeHash string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.BackupCode{}).
		Where("user_id = ? AND code_hash = ? AND consumed_at IS NULL", userID, codeHash).
		Update("consumed_at", at.UTC())
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "backup_code", "consume", "error")
		return res.Error
	}
	if res.RowsAffected == 1 {
		observability.RecordRepositoryOperation(ctx, "backup_code", "consume", "success")
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.BackupCode{}).
		Where("user_id = ? AND code_hash = ?", userID, codeHash).
		Count(&count).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "backup_code", "consume", "error")
		return err
	}
	if count > 0 {
		observability.RecordRepositoryOperation(ctx, "backup_code", "consume", "conflict")
		return ErrBackupCodeConsumed
	}
	observability.RecordRepositoryOperation(ctx, "backup_code", "consume", "not_found")
	return ErrBackupCodeNotFound
}

func (r *GormBackupCodeRepository) CountRemaining(ctx context.Context, userID uint) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.BackupCode{}).
		Where("user_id = ? AND consumed_at IS NULL", userID).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "backup_code", "count_remaining", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "backup_code", "count_remaining", "success")
	return int(count), nil
}
