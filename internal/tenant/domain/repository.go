package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	// UpdateMarketplaceStatus updates the tenant owning status.AccountID and
	// reports whether a row changed.
	UpdateMarketplaceStatus(ctx context.Context, status MarketplaceStatus, now time.Time) (bool, error)
}
