package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Ensure inserts the default row for a tenant when none exists.
	Ensure(ctx context.Context, db *gorm.DB, defaults TenantInvoiceSettings) error
	Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*TenantInvoiceSettings, error)
	// FindForUpdate reads the row under a row lock; callers must hold a transaction.
	FindForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*TenantInvoiceSettings, error)
	// Save writes the row when its version still equals expectedVersion and
	// bumps the version. It reports false when another writer got there first.
	Save(ctx context.Context, db *gorm.DB, settings *TenantInvoiceSettings, expectedVersion int64) (bool, error)
}
