// Package domain contains the invoice ledger models and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reservebill/pkg/money"
	"gorm.io/gorm"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoided        InvoiceStatus = "voided"
)

func (s InvoiceStatus) Valid() bool {
	return lo.Contains([]InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusSent,
		InvoiceStatusPartiallyPaid,
		InvoiceStatusPaid,
		InvoiceStatusVoided,
	}, s)
}

// MilestoneType tags an invoice with the reserve-study stage it bills for.
type MilestoneType string

const (
	MilestoneDeposit             MilestoneType = "deposit"
	MilestoneSiteVisitComplete   MilestoneType = "site_visit_complete"
	MilestoneDraftReportDelivery MilestoneType = "draft_report_delivery"
	MilestoneFinalDelivery       MilestoneType = "final_delivery"
	MilestoneFullPayment         MilestoneType = "full_payment"
	MilestoneCustom              MilestoneType = "custom"
)

func (m MilestoneType) Valid() bool {
	return lo.Contains([]MilestoneType{
		MilestoneDeposit,
		MilestoneSiteVisitComplete,
		MilestoneDraftReportDelivery,
		MilestoneFinalDelivery,
		MilestoneFullPayment,
		MilestoneCustom,
	}, m)
}

// BillTo is the recipient snapshot copied from the study at creation time.
type BillTo struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type Invoice struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID `json:"tenant_id" gorm:"not null;index;uniqueIndex:ux_invoices_tenant_number"`
	InvoiceNumber string       `json:"invoice_number" gorm:"type:text;not null;uniqueIndex:ux_invoices_tenant_number"`
	StudyID       snowflake.ID `json:"study_id" gorm:"not null;index"`
	BillTo        BillTo       `json:"bill_to" gorm:"embedded;embeddedPrefix:bill_to_"`
	LineItems     []LineItem   `json:"line_items" gorm:"-"`

	Subtotal            decimal.Decimal `json:"subtotal" gorm:"type:numeric(14,2);not null"`
	TaxRate             decimal.Decimal `json:"tax_rate" gorm:"type:numeric(7,4);not null"`
	TaxAmount           decimal.Decimal `json:"tax_amount" gorm:"type:numeric(14,2);not null"`
	DiscountAmount      decimal.Decimal `json:"discount_amount" gorm:"type:numeric(14,2);not null"`
	DiscountDescription string          `json:"discount_description,omitempty"`
	TotalAmount         decimal.Decimal `json:"total_amount" gorm:"type:numeric(14,2);not null"`
	AmountPaid          decimal.Decimal `json:"amount_paid" gorm:"type:numeric(14,2);not null"`
	AmountCredited      decimal.Decimal `json:"amount_credited" gorm:"type:numeric(14,2);not null"`
	Currency            string          `json:"currency" gorm:"type:text;not null"`

	Status    InvoiceStatus `json:"status" gorm:"type:text;not null"`
	IssueDate time.Time     `json:"issue_date"`
	DueDate   *time.Time    `json:"due_date,omitempty"`
	SentAt    *time.Time    `json:"sent_at,omitempty"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`

	MilestoneType     *MilestoneType `json:"milestone_type,omitempty" gorm:"type:text"`
	PreviousInvoiceID *snowflake.ID  `json:"previous_invoice_id,omitempty"`

	CheckoutSessionID        *string    `json:"checkout_session_id,omitempty" gorm:"index"`
	CheckoutSessionURL       *string    `json:"checkout_session_url,omitempty"`
	CheckoutSessionExpiresAt *time.Time `json:"checkout_session_expires_at,omitempty"`
	PaymentReference         *string    `json:"payment_reference,omitempty"`
	OverpaidAt               *time.Time `json:"overpaid_at,omitempty"`

	VoidReason *string    `json:"void_reason,omitempty"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// BalanceDue is total minus payments minus applied credits. It goes negative
// on over-payment.
func (i *Invoice) BalanceDue() decimal.Decimal {
	return i.TotalAmount.Sub(i.AmountPaid).Sub(i.AmountCredited)
}

// IsOverdue reports whether an open invoice passed its due date with a
// positive balance. Overdue is never stored.
func (i *Invoice) IsOverdue(now time.Time) bool {
	if i.Status != InvoiceStatusSent && i.Status != InvoiceStatusPartiallyPaid {
		return false
	}
	if i.DueDate == nil || !now.After(*i.DueDate) {
		return false
	}
	return i.BalanceDue().IsPositive()
}

func (i *Invoice) HasMilestone() bool {
	return i.MilestoneType != nil && *i.MilestoneType != ""
}

// DeriveStatus is the single status rule applied after every balance change.
func DeriveStatus(i *Invoice) InvoiceStatus {
	switch {
	case i.Status == InvoiceStatusVoided:
		return InvoiceStatusVoided
	case !i.BalanceDue().IsPositive():
		return InvoiceStatusPaid
	case i.AmountPaid.IsPositive():
		return InvoiceStatusPartiallyPaid
	case i.SentAt != nil:
		return InvoiceStatusSent
	default:
		return InvoiceStatusDraft
	}
}

// ApplyStatus re-derives the status and keeps paid_at in step with it.
func ApplyStatus(i *Invoice, now time.Time) {
	i.Status = DeriveStatus(i)
	switch {
	case i.Status == InvoiceStatusPaid && i.PaidAt == nil:
		i.PaidAt = &now
	case i.Status != InvoiceStatusPaid && i.Status != InvoiceStatusVoided:
		i.PaidAt = nil
	}
}

type LineItem struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID    `json:"-" gorm:"not null;index"`
	InvoiceID   snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:numeric(14,4);not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(14,2);not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	Position    int             `json:"position" gorm:"not null"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }

type LineItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Amount is quantity × unit price at currency precision.
func (in LineItemInput) Amount() decimal.Decimal {
	return money.Round(in.Quantity.Mul(in.UnitPrice))
}

// Totals is the computed money summary of a set of line items.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// ComputeTotals returns subtotal, tax and total where taxRate is a percent
// and total = subtotal + tax - discount.
func ComputeTotals(items []LineItemInput, taxRate, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Amount())
	}
	tax := money.Round(subtotal.Mul(taxRate).Div(decimal.NewFromInt(100)))
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax).Sub(discount),
	}
}
