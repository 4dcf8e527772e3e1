package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
	"gorm.io/datatypes"
)

type PaymentMethod string

const (
	MethodCard  PaymentMethod = "card"
	MethodACH   PaymentMethod = "ach"
	MethodCheck PaymentMethod = "check"
	MethodCash  PaymentMethod = "cash"
	MethodOther PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	return lo.Contains([]PaymentMethod{MethodCard, MethodACH, MethodCheck, MethodCash, MethodOther}, m)
}

// PaymentRecord is an append-only entry for money received against an
// invoice. ExternalReference is unique across the table and is the
// idempotency key for gateway confirmations.
type PaymentRecord struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID    `json:"tenant_id" gorm:"not null;index"`
	InvoiceID         snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	PaymentDate       time.Time       `json:"payment_date"`
	Method            PaymentMethod   `json:"method" gorm:"type:text;not null"`
	ExternalReference *string         `json:"external_reference,omitempty" gorm:"size:255;uniqueIndex:ux_payment_records_external_reference"`
	CheckoutSessionID *string         `json:"checkout_session_id,omitempty"`
	IsAutomatic       bool            `json:"is_automatic"`
	Note              string          `json:"note,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (PaymentRecord) TableName() string { return "payment_records" }

// EventRecord is one inbound gateway webhook as stored in the inbox.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID        *snowflake.ID  `json:"tenant_id,omitempty" gorm:"index"`
	Provider        string         `json:"provider" gorm:"size:64;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"size:255;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypeSessionExpired   = "session_expired"
	EventTypeAccountUpdated   = "account_updated"
)

// PaymentEvent is the canonical webhook event parsed by adapters.
type PaymentEvent struct {
	Provider         string
	ProviderEventID  string
	ProviderType     string
	Type             string
	SessionID        string
	PaymentReference string
	InvoiceID        snowflake.ID
	TenantID         snowflake.ID
	AmountMinor      int64
	Currency         string
	OccurredAt       time.Time
	Account          *tenantdomain.MarketplaceStatus
	RawPayload       []byte
}

// PaymentSucceeded is a confirmed gateway payment for a checkout session.
// InvoiceID and TenantID come from the session metadata and locate the
// invoice once its cached session has been cleared.
type PaymentSucceeded struct {
	SessionID        string
	PaymentReference string
	InvoiceID        snowflake.ID
	TenantID         snowflake.ID
	AmountMinor      int64
	Currency         string
}

type ManualPaymentRequest struct {
	InvoiceID snowflake.ID    `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      *time.Time      `json:"payment_date,omitempty"`
	Method    PaymentMethod   `json:"method"`
	Reference *string         `json:"reference,omitempty"`
	Note      string          `json:"note,omitempty"`
}
