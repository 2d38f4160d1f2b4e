package domain

import "time"

type User struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	TenantID          *uint      `gorm:"index" json:"tenant_id,omitempty"`
	Email             string     `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Name              string     `gorm:"size:200" json:"name"`
	PasswordHash      string     `gorm:"size:255;not null" json:"-"`
	Role              Role       `gorm:"size:32;not null;default:staff" json:"role"`
	Active            bool       `gorm:"not null" json:"active"`
	EmailVerifiedAt   *time.Time `json:"email_verified_at,omitempty"`
	PasswordChangedAt *time.Time `json:"-"`
	TwoFactorEnabled  bool       `gorm:"not null;default:false" json:"two_factor_enabled"`
	TwoFactorSecret   *string    `gorm:"size:128" json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TwoFactorPending reports an enrollment that has a secret but was never activated.
func (u *User) TwoFactorPending() bool {
	return u != nil && !u.TwoFactorEnabled && u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}

type BackupCode struct {
	ID         uint       `gorm:"primaryKey"`
	UserID     uint       `gorm:"index;not null;uniqueIndex:idx_backup_codes_user_hash"`
	CodeHash   string     `gorm:"size:64;not null;uniqueIndex:idx_backup_codes_user_hash"`
	ConsumedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time
}

type Tenant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Active    bool      `gorm:"not null" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserProjection is the cached, read-only view of a user served to request handlers.
type UserProjection struct {
	UserID           uint     `json:"user_id"`
	TenantID         *uint    `json:"tenant_id,omitempty"`
	Email            string   `json:"email"`
	Name             string   `json:"name"`
	Role             Role     `json:"role"`
	Capabilities     []string `json:"capabilities"`
	EmailVerified    bool     `json:"email_verified"`
	TwoFactorEnabled bool     `json:"two_factor_enabled"`
}

func NewUserProjection(u *User) *UserProjection {
	return &UserProjection{
		UserID:           u.ID,
		TenantID:         u.TenantID,
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		Capabilities:     CapabilitiesFor(u.Role),
		EmailVerified:    u.EmailVerifiedAt != nil,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}
