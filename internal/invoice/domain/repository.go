package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID snowflake.ID
	Status   *InvoiceStatus
	StudyID  *snowflake.ID
	// OverdueAt restricts to open invoices due before the given time.
	OverdueAt *time.Time
	Cursor    *ListCursor
	Limit     int
}

type ListCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ReplaceLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, items []LineItem) error
	ListLineItems(ctx context.Context, db *gorm.DB, invoiceIDs ...snowflake.ID) ([]LineItem, error)
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindByCheckoutSessionForUpdate(ctx context.Context, db *gorm.DB, sessionID string) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	// Update persists every mutable column of the invoice row.
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ExistsForMilestone(ctx context.Context, db *gorm.DB, tenantID, studyID snowflake.ID, milestone MilestoneType) (bool, error)
	SetCheckoutSession(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, session CheckoutSession, expectedSessionID *string, now time.Time) (bool, error)
	ClearCheckoutSession(ctx context.Context, db *gorm.DB, sessionID string, now time.Time) error
	AppliedCreditAmounts(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]decimal.Decimal, error)
}
