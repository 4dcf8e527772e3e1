// Package domain defines the hosted checkout contracts.
package domain

import (
	"context"
	"time"
)

// Metadata keys attached to every gateway session.
const (
	MetadataInvoiceID     = "invoice_id"
	MetadataInvoiceNumber = "invoice_number"
	MetadataTenantID      = "tenant_id"
)

type SessionLineItem struct {
	Name        string
	AmountMinor int64
	Quantity    int64
}

// Routing sends the charge to a marketplace sub-account and keeps
// ApplicationFeeMinor for the platform.
type Routing struct {
	Account             string
	ApplicationFeeMinor int64
}

type SessionRequest struct {
	LineItems      []SessionLineItem
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	Metadata       map[string]string
	Routing        *Routing
	IdempotencyKey string
}

type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// Gateway creates hosted checkout sessions with the payment provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}
