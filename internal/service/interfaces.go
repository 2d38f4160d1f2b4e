package service

import (
	"context"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
)

// TenantDirectory answers whether a tenant may still authenticate. A nil
// tenant is a cross-tenant account and is always active.
type TenantDirectory interface {
	IsActive(ctx context.Context, tenantID *uint) (bool, error)
}

// Mailer delivers outbound messages. Callers do not wait on delivery.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type AuditRecorder interface {
	Record(ctx context.Context, event observability.AuditEvent)
}

// UserProjectionInvalidator drops cached read models for a subject, or for
// everyone when a change is not attributable to one subject.
type UserProjectionInvalidator interface {
	InvalidateUser(ctx context.Context, userID uint) error
	InvalidateAll(ctx context.Context) error
}

type SecondFactorVerifier interface {
	BeginEnrollment(ctx context.Context, userID uint) (*Enrollment, error)
	Activate(ctx context.Context, userID uint, code string) ([]string, error)
	Challenge(ctx context.Context, userID uint, code string) (bool, error)
	ConsumeBackupCode(ctx context.Context, userID uint, code string) (int, error)
	RemainingBackupCodes(ctx context.Context, userID uint) (int, error)
	Deactivate(ctx context.Context, userID uint) error
}

type UserProjectionResolver interface {
	Resolve(ctx context.Context, userID uint) (*domain.UserProjection, error)
}

type RBACAuthorizer interface {
	HasCapability(capabilities []string, required string) bool
}

type CapabilityAuthorizer struct{}

func NewCapabilityAuthorizer() *CapabilityAuthorizer { return &CapabilityAuthorizer{} }

func (CapabilityAuthorizer) HasCapability(capabilities []string, required string) bool {
	return domain.HasCapability(capabilities, required)
}
