package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reservebill/pkg/errs"
)

type CreateCreditMemoRequest struct {
	InvoiceID snowflake.ID    `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	IsRefund  bool            `json:"is_refund"`
}

type Service interface {
	Create(ctx context.Context, req CreateCreditMemoRequest) (*CreditMemo, error)
	Apply(ctx context.Context, id snowflake.ID, appliedBy string) (*CreditMemo, error)
	Void(ctx context.Context, id snowflake.ID, reason string) (*CreditMemo, error)
	// ProcessRefund marks an applied memo refunded and then asks the gateway
	// to refund it. A gateway failure is logged and does not undo the mark.
	ProcessRefund(ctx context.Context, id snowflake.ID) (*CreditMemo, error)
	Get(ctx context.Context, id snowflake.ID) (*CreditMemo, error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]CreditMemo, error)
}

var (
	ErrInvalidTenant        = errs.Mark(errors.New("invalid_tenant"), errs.ErrValidation)
	ErrInvalidCreditMemoID  = errs.Mark(errors.New("invalid_credit_memo_id"), errs.ErrValidation)
	ErrInvalidAmount        = errs.Mark(errors.New("invalid_credit_amount"), errs.ErrValidation)
	ErrInvalidReason        = errs.Mark(errors.New("invalid_credit_reason"), errs.ErrValidation)
	ErrCreditExceedsBalance = errs.Mark(errors.New("credit_exceeds_balance"), errs.ErrValidation)
	ErrCreditMemoNotFound   = errs.Mark(errors.New("credit_memo_not_found"), errs.ErrNotFound)
	ErrCreditMemoNotDraft   = errs.Mark(errors.New("credit_memo_not_draft"), errs.ErrInvalidState)
	ErrCreditMemoNotApplied = errs.Mark(errors.New("credit_memo_not_applied"), errs.ErrInvalidState)
	ErrCreditMemoVoided     = errs.Mark(errors.New("credit_memo_voided"), errs.ErrInvalidState)
	ErrCreditMemoRefunded   = errs.Mark(errors.New("credit_memo_already_refunded"), errs.ErrInvalidState)
	ErrInvoiceNotCreditable = errs.Mark(errors.New("invoice_not_creditable"), errs.ErrInvalidState)
	ErrNoExternalPayment    = errs.Mark(errors.New("no_external_payment"), errs.ErrInvalidState)
)
