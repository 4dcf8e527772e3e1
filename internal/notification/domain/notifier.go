package domain

import (
	"context"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
)

// Notifier dispatches customer-facing messages. Callers treat every method
// as best effort: a failure is logged and never rolls back billing state.
type Notifier interface {
	SendInvoice(ctx context.Context, invoice *invoicedomain.Invoice) error
	SendReceipt(ctx context.Context, invoice *invoicedomain.Invoice, amountPaid decimal.Decimal, reference string) error
	SendAutoGeneratedNotice(ctx context.Context, invoice *invoicedomain.Invoice, previous *invoicedomain.Invoice) error
}
