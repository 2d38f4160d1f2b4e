package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"

	"gorm.io/gorm"
)

var ErrTenantNotFound = errors.New("tenant not found")

type TenantRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.Tenant, error)
	Create(ctx context.Context, tenant *domain.Tenant) error
	SetActive(ctx context.Context, id uint, active bool) error
	IsActive(ctx context.Context, tenantID *uint) (bool, error)
}

type GormTenantRepository struct{ db *gorm.DB }

func NewTenantRepository(db *gorm.DB) TenantRepository { return &GormTenantRepository{db: db} }

func (r *GormTenantRepository) FindByID(ctx context.Context, id uint) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.db.WithContext(ctx).First(&t, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "tenant", "find_by_id", "not_found")
			return nil, ErrTenantNotFound
		}
		observability.RecordRepositoryOperation(ctx, "tenant", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "tenant", "find_by_id", "success")
	return &t, nil
}

func (r *GormTenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	err := r.db.WithContext(ctx).Create(tenant).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "tenant", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "tenant", "create", "success")
	return nil
}

func (r *GormTenantRepository) SetActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&domain.Tenant{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "tenant", "set_active", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "tenant", "set_active", "not_found")
		return ErrTenantNotFound
	}
	observability.RecordRepositoryOperation(ctx, "tenant", "set_active", "success")
	return nil
}

// IsActive treats a nil tenant as active: cross-tenant accounts have no shop to suspend.
// A missing tenant row is inactive.
func (r *GormTenantRepository) IsActive(ctx context.Context, tenantID *uint) (bool, error) {
	if tenantID == nil {
		return true, nil
	}
	t, err := r.FindByID(ctx, *tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return false, nil
		}
		return false, err
	}
	return t.Active, nil
}
