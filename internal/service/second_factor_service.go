package service

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
)

type Enrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// SecondFactorService manages TOTP enrollment and backup-code consumption
// against the persisted credential record.
type SecondFactorService struct {
	users repository.UserRepository
	codes repository.BackupCodeRepository
	totp  *security.TOTP
	now   func() time.Time
}

func NewSecondFactorService(users repository.UserRepository, codes repository.BackupCodeRepository, totp *security.TOTP) *SecondFactorService {
	return &SecondFactorService{users: users, codes: codes, totp: totp, now: time.Now}
}

func (s *SecondFactorService) BeginEnrollment(ctx context.Context, userID uint) (*Enrollment, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, storageError(err)
	}
	if user.TwoFactorEnabled {
		return nil, validationError("second factor already enabled")
	}
	key, err := s.totp.Generate(user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetPendingTwoFactorSecret(ctx, userID, key.Secret); err != nil {
		return nil, storageError(err)
	}
	return &Enrollment{Secret: key.Secret, ProvisioningURI: key.ProvisioningURI}, nil
}

// Activate confirms a pending enrollment and returns the plaintext backup
// codes. They are never retrievable again.
func (s *SecondFactorService) Activate(ctx context.Context, userID uint, code string) ([]string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, storageError(err)
	}
	if user.TwoFactorEnabled {
		return nil, validationError("second factor already enabled")
	}
	if !user.TwoFactorPending() {
		return nil, validationError("no pending enrollment")
	}
	ok, err := s.totp.Validate(code, *user.TwoFactorSecret)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	plain, hashes, err := security.GenerateBackupCodes(userID, security.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.users.ActivateSecondFactor(ctx, userID, hashes); err != nil {
		return nil, storageError(err)
	}
	return plain, nil
}

// Challenge verifies a TOTP code for an enabled user.
func (s *SecondFactorService) Challenge(ctx context.Context, userID uint, code string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, nil
		}
		return false, storageError(err)
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return false, nil
	}
	ok, err := s.totp.Validate(code, *user.TwoFactorSecret)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// ConsumeBackupCode burns one backup code and reports how many remain.
func (s *SecondFactorService) ConsumeBackupCode(ctx context.Context, userID uint, code string) (int, error) {
	canonical := security.CanonicalizeBackupCode(code)
	if canonical == "" {
		return 0, ErrInvalidCode
	}
	err := s.codes.Consume(ctx, userID, security.HashBackupCode(userID, canonical), s.now())
	switch {
	case errors.Is(err, repository.ErrBackupCodeNotFound):
		return 0, ErrInvalidCode
	case errors.Is(err, repository.ErrBackupCodeConsumed):
		return 0, ErrAlreadyUsed
	case err != nil:
		return 0, storageError(err)
	}
	remaining, err := s.codes.CountRemaining(ctx, userID)
	if err != nil {
		return 0, storageError(err)
	}
	return remaining, nil
}

func (s *SecondFactorService) RemainingBackupCodes(ctx context.Context, userID uint) (int, error) {
	remaining, err := s.codes.CountRemaining(ctx, userID)
	if err != nil {
		return 0, storageError(err)
	}
	return remaining, nil
}

func (s *SecondFactorService) Deactivate(ctx context.Context, userID uint) error {
	if err := s.users.ClearSecondFactor(ctx, userID); err != nil {
		return storageError(err)
	}
	return nil
}
