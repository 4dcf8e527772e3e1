package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type ResetFrequency string

const (
	ResetNever   ResetFrequency = "never"
	ResetYearly  ResetFrequency = "yearly"
	ResetMonthly ResetFrequency = "monthly"
)

func (r ResetFrequency) Valid() bool {
	return lo.Contains([]ResetFrequency{ResetNever, ResetYearly, ResetMonthly}, r)
}

const (
	DefaultInvoicePrefix    = "INV"
	DefaultCreditMemoPrefix = "CM"
	DefaultNumberFormat     = "{PREFIX}-{YEAR}-{NUMBER}"
	DefaultNumberPadding    = 5
	DefaultPaymentTermsDays = 30
	DefaultCurrency         = "usd"
	MaxNumberPadding        = 12
)

// TenantInvoiceSettings is the per-tenant numbering and automation record.
// The sequence columns are mutated only by the numbering service.
type TenantInvoiceSettings struct {
	TenantID snowflake.ID `json:"tenant_id" gorm:"primaryKey"`

	InvoicePrefix         string         `json:"invoice_prefix"`
	NumberFormat          string         `json:"number_format"`
	NumberPadding         int            `json:"number_padding"`
	InvoiceNextNumber     int64          `json:"invoice_next_number"`
	InvoiceResetFrequency ResetFrequency `json:"invoice_reset_frequency"`
	InvoiceLastResetYear  int            `json:"invoice_last_reset_year"`
	InvoiceLastResetMonth int            `json:"invoice_last_reset_month"`

	CreditMemoPrefix         string         `json:"credit_memo_prefix"`
	CreditMemoNextNumber     int64          `json:"credit_memo_next_number"`
	CreditMemoResetFrequency ResetFrequency `json:"credit_memo_reset_frequency"`
	CreditMemoLastResetYear  int            `json:"credit_memo_last_reset_year"`
	CreditMemoLastResetMonth int            `json:"credit_memo_last_reset_month"`

	AutoGenerateNextMilestone bool `json:"auto_generate_next_milestone"`
	AutoSendOnCreate          bool `json:"auto_send_on_create"`
	NotifyOnAutoGenerate      bool `json:"notify_on_auto_generate"`

	DefaultPaymentTermsDays int             `json:"default_payment_terms_days"`
	DefaultTaxRate          decimal.Decimal `json:"default_tax_rate" gorm:"type:numeric(7,4)"`
	Currency                string          `json:"currency"`

	LogoURL     string `json:"logo_url"`
	AccentColor string `json:"accent_color"`
	FooterText  string `json:"footer_text"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TenantInvoiceSettings) TableName() string { return "tenant_invoice_settings" }

// DefaultSettings returns the row created lazily for a tenant.
func DefaultSettings(tenantID snowflake.ID, now time.Time) TenantInvoiceSettings {
	return TenantInvoiceSettings{
		TenantID:                 tenantID,
		InvoicePrefix:            DefaultInvoicePrefix,
		NumberFormat:             DefaultNumberFormat,
		NumberPadding:            DefaultNumberPadding,
		InvoiceNextNumber:        1,
		InvoiceResetFrequency:    ResetNever,
		CreditMemoPrefix:         DefaultCreditMemoPrefix,
		CreditMemoNextNumber:     1,
		CreditMemoResetFrequency: ResetNever,
		DefaultPaymentTermsDays:  DefaultPaymentTermsDays,
		DefaultTaxRate:           decimal.Zero,
		Currency:                 DefaultCurrency,
		Version:                  1,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

// UpdateSettingsRequest carries administrator edits; nil fields are left untouched.
type UpdateSettingsRequest struct {
	InvoicePrefix             *string          `json:"invoice_prefix"`
	NumberFormat              *string          `json:"number_format"`
	NumberPadding             *int             `json:"number_padding"`
	InvoiceResetFrequency     *ResetFrequency  `json:"invoice_reset_frequency"`
	CreditMemoPrefix          *string          `json:"credit_memo_prefix"`
	CreditMemoResetFrequency  *ResetFrequency  `json:"credit_memo_reset_frequency"`
	AutoGenerateNextMilestone *bool            `json:"auto_generate_next_milestone"`
	AutoSendOnCreate          *bool            `json:"auto_send_on_create"`
	NotifyOnAutoGenerate      *bool            `json:"notify_on_auto_generate"`
	DefaultPaymentTermsDays   *int             `json:"default_payment_terms_days"`
	DefaultTaxRate            *decimal.Decimal `json:"default_tax_rate"`
	LogoURL                   *string          `json:"logo_url"`
	AccentColor               *string          `json:"accent_color"`
	FooterText                *string          `json:"footer_text"`
}
