package domain

import "time"

type Device struct {
	Type    string `gorm:"size:32" json:"type"`
	Browser string `gorm:"size:64" json:"browser"`
	OS      string `gorm:"size:64" json:"os"`
}

type Session struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	SessionID       string     `gorm:"size:64;uniqueIndex;not null" json:"session_id"`
	UserID          uint       `gorm:"index;not null" json:"user_id"`
	TenantID        *uint      `gorm:"index" json:"tenant_id,omitempty"`
	TokenHash       string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	ParentSessionID *string    `gorm:"size:64;index" json:"-"`
	OriginIP        string     `gorm:"size:64" json:"origin_ip"`
	UserAgent       string     `gorm:"size:512" json:"user_agent"`
	Device          Device     `gorm:"embedded;embeddedPrefix:device_" json:"device"`
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt       *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason   *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP      string     `gorm:"size:64" json:"last_used_ip,omitempty"`
	UsageCount      int64      `gorm:"not null;default:0" json:"usage_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsValidAt reports whether the session can still be honoured at t.
func (s *Session) IsValidAt(t time.Time) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	return s.ExpiresAt.After(t)
}
