package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertPayment reports false when a record with the same external
	// reference already exists.
	InsertPayment(ctx context.Context, db *gorm.DB, record *PaymentRecord) (bool, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) ([]PaymentRecord, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, tenantID *snowflake.ID, processedAt time.Time) error
}
