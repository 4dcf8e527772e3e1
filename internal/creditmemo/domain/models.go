// Package domain contains credit memo models and contracts.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	"gorm.io/gorm"
)

type CreditMemoStatus string

const (
	CreditMemoStatusDraft   CreditMemoStatus = "draft"
	CreditMemoStatusApplied CreditMemoStatus = "applied"
	CreditMemoStatusVoided  CreditMemoStatus = "voided"
)

// CreditMemo reduces an invoice's balance once applied. Its number comes
// from the tenant's credit memo sequence.
type CreditMemo struct {
	ID               snowflake.ID         `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID         `json:"tenant_id" gorm:"not null;index;uniqueIndex:ux_credit_memos_tenant_number"`
	CreditMemoNumber string               `json:"credit_memo_number" gorm:"type:text;not null;uniqueIndex:ux_credit_memos_tenant_number"`
	InvoiceID        snowflake.ID         `json:"invoice_id" gorm:"not null;index"`
	Amount           decimal.Decimal      `json:"amount" gorm:"type:numeric(14,2);not null"`
	IssueDate        time.Time            `json:"issue_date"`
	Reason           string               `json:"reason" gorm:"type:text"`
	BillTo           invoicedomain.BillTo `json:"bill_to" gorm:"embedded;embeddedPrefix:bill_to_"`
	Status           CreditMemoStatus     `json:"status" gorm:"type:text;not null"`
	AppliedAt        *time.Time           `json:"applied_at,omitempty"`
	AppliedBy        *string              `json:"applied_by,omitempty"`
	VoidedAt         *time.Time           `json:"voided_at,omitempty"`
	VoidReason       *string              `json:"void_reason,omitempty"`
	IsRefund         bool                 `json:"is_refund"`
	RefundedAt       *time.Time           `json:"refunded_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// TableName sets the database table name.
func (CreditMemo) TableName() string { return "credit_memos" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, memo *CreditMemo) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*CreditMemo, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*CreditMemo, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) ([]CreditMemo, error)
	Update(ctx context.Context, db *gorm.DB, memo *CreditMemo) error
}

// RefundRequest asks the gateway to return money for an applied credit.
type RefundRequest struct {
	TenantID         snowflake.ID
	PaymentReference string
	AmountMinor      int64
	Currency         string
	// ConnectedAccount is set when the original charge was made on a
	// marketplace sub-account.
	ConnectedAccount string
	IdempotencyKey   string
}

type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (string, error)
}
