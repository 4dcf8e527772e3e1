package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/reservebill/pkg/errs"
)

type Service interface {
	// GetOrCreatePaymentURL returns a hosted payment URL for the invoice,
	// reusing the cached session while it has time left.
	GetOrCreatePaymentURL(ctx context.Context, invoiceID snowflake.ID, baseURL string) (string, error)
	// ExpireSession drops a cached session the gateway reported as expired.
	ExpireSession(ctx context.Context, sessionID string) error
}

var (
	ErrInvalidSession     = errs.Mark(errors.New("invalid_checkout_session"), errs.ErrValidation)
	ErrInvoiceNotPayable  = errs.Mark(errors.New("invoice_not_payable"), errs.ErrInvalidState)
	ErrNothingDue         = errs.Mark(errors.New("invoice_nothing_due"), errs.ErrInvalidState)
	ErrGatewayUnavailable = errs.Mark(errors.New("payment_gateway_unavailable"), errs.ErrTransientExternal)
	ErrCheckoutConflict   = errs.Mark(errors.New("checkout_session_conflict"), errs.ErrTransientExternal)
)
