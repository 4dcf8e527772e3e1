package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reservebill/pkg/db/pagination"
	"github.com/smallbiznis/reservebill/pkg/errs"
	"gorm.io/gorm"
)

type CreateInvoiceRequest struct {
	StudyID             snowflake.ID     `json:"study_id"`
	Milestone           *MilestoneType   `json:"milestone_type,omitempty"`
	LineItems           []LineItemInput  `json:"line_items"`
	TaxRate             *decimal.Decimal `json:"tax_rate,omitempty"`
	DiscountAmount      *decimal.Decimal `json:"discount_amount,omitempty"`
	DiscountDescription string           `json:"discount_description,omitempty"`
	DueDate             *time.Time       `json:"due_date,omitempty"`
	PreviousInvoiceID   *snowflake.ID    `json:"previous_invoice_id,omitempty"`
	Notes               string           `json:"notes,omitempty"`
}

// PaymentSource tells whether a payment came from the gateway or from staff.
type PaymentSource string

const (
	PaymentSourceGateway PaymentSource = "gateway"
	PaymentSourceManual  PaymentSource = "manual"
)

type RecordPaymentRequest struct {
	InvoiceID snowflake.ID    `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Source    PaymentSource   `json:"source"`
	// Reference becomes the invoice's payment reference for gateway payments.
	// Gateway payments are also accepted on paid or voided invoices.
	Reference string `json:"reference,omitempty"`
}

// CheckoutSession is the cached hosted-payment session of an invoice.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status  *InvoiceStatus
	StudyID *snowflake.ID
	Overdue bool
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	// CreateMilestoneInvoice is the entry point used by the study workflow.
	CreateMilestoneInvoice(ctx context.Context, studyID snowflake.ID, milestone MilestoneType, items []LineItemInput) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	UpdateLineItems(ctx context.Context, id snowflake.ID, items []LineItemInput) (*Invoice, error)
	MarkSent(ctx context.Context, id snowflake.ID) (*Invoice, error)
	Void(ctx context.Context, id snowflake.ID, reason string) (*Invoice, error)

	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*Invoice, error)
	// RecordPaymentTx applies a payment inside the caller's transaction.
	RecordPaymentTx(ctx context.Context, tx *gorm.DB, req RecordPaymentRequest) (*Invoice, error)

	// LockForUpdate reads a tenant invoice under a row lock inside tx.
	LockForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)
	// FindByCheckoutSession locates an invoice by its cached session id
	// across tenants, under a row lock. It returns nil when nothing matches.
	FindByCheckoutSession(ctx context.Context, tx *gorm.DB, sessionID string) (*Invoice, error)
	ExistsForMilestone(ctx context.Context, tenantID, studyID snowflake.ID, milestone MilestoneType) (bool, error)
	// SetCheckoutSession stores a session only if the cached one is still
	// expectedSessionID (nil for none). It reports whether the row changed.
	SetCheckoutSession(ctx context.Context, id snowflake.ID, session CheckoutSession, expectedSessionID *string) (bool, error)
	ClearCheckoutSession(ctx context.Context, sessionID string) error
	// RecomputeCredits refreshes amount_credited from applied credit memos
	// and re-derives the status. Callers must hold the invoice row lock.
	RecomputeCredits(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)
}

var (
	ErrInvalidTenant       = errs.Mark(errors.New("invalid_tenant"), errs.ErrValidation)
	ErrInvalidInvoiceID    = errs.Mark(errors.New("invalid_invoice_id"), errs.ErrValidation)
	ErrInvalidStudy        = errs.Mark(errors.New("invalid_study_id"), errs.ErrValidation)
	ErrInvalidMilestone    = errs.Mark(errors.New("invalid_milestone_type"), errs.ErrValidation)
	ErrInvalidLineItems    = errs.Mark(errors.New("invalid_line_items"), errs.ErrValidation)
	ErrInvalidTaxRate      = errs.Mark(errors.New("invalid_tax_rate"), errs.ErrValidation)
	ErrInvalidDiscount     = errs.Mark(errors.New("invalid_discount"), errs.ErrValidation)
	ErrInvalidAmount       = errs.Mark(errors.New("invalid_payment_amount"), errs.ErrValidation)
	ErrInvalidStatusFilter = errs.Mark(errors.New("invalid_status_filter"), errs.ErrValidation)
	ErrInvalidPageToken    = errs.Mark(errors.New("invalid_page_token"), errs.ErrValidation)
	ErrInvoiceNotFound     = errs.Mark(errors.New("invoice_not_found"), errs.ErrNotFound)
	ErrStudyNotFound       = errs.Mark(errors.New("study_not_found"), errs.ErrNotFound)
	ErrInvoiceNotDraft     = errs.Mark(errors.New("invoice_not_draft"), errs.ErrInvalidState)
	ErrInvoiceVoided       = errs.Mark(errors.New("invoice_voided"), errs.ErrInvalidState)
	ErrInvoiceAlreadyPaid  = errs.Mark(errors.New("invoice_already_paid"), errs.ErrInvalidState)
	ErrInvoiceNotVoidable  = errs.Mark(errors.New("invoice_not_voidable"), errs.ErrInvalidState)
	ErrInvoiceNumberInUse  = errs.Mark(errors.New("invoice_number_in_use"), errs.ErrDuplicate)
)
