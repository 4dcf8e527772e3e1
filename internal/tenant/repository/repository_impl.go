package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reservebill/internal/tenant/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, name, subscription_tier, marketplace_account_id,
		        marketplace_onboarding_complete, marketplace_payouts_enabled,
		        platform_fee_rate, created_at, updated_at
		 FROM tenants
		 WHERE id = ?`,
		id,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.ID == 0 {
		return nil, nil
	}
	return &tenant, nil
}

func (r *repository) UpdateMarketplaceStatus(ctx context.Context, status domain.MarketplaceStatus, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE tenants
		 SET marketplace_onboarding_complete = ?, marketplace_payouts_enabled = ?, updated_at = ?
		 WHERE marketplace_account_id = ?`,
		status.OnboardingComplete,
		status.PayoutsEnabled,
		now,
		strings.TrimSpace(status.AccountID),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
