package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	"github.com/smallbiznis/reservebill/pkg/errs"
)

// Settlement is the outcome of applying a gateway payment.
type Settlement struct {
	Invoice *invoicedomain.Invoice
	Payment *PaymentRecord
}

type Service interface {
	// OnPaymentSucceeded applies a confirmed gateway payment. It returns a
	// nil settlement and no error when no invoice holds the session.
	OnPaymentSucceeded(ctx context.Context, event PaymentSucceeded) (*Settlement, error)
	RecordManualPayment(ctx context.Context, req ManualPaymentRequest) (*Settlement, error)
	ListPayments(ctx context.Context, invoiceID snowflake.ID) ([]PaymentRecord, error)
}

// WebhookService verifies, stores and dispatches inbound gateway webhooks.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type AdapterConfig struct {
	Provider      string
	WebhookSecret string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

var (
	ErrInvalidProvider        = errs.Mark(errors.New("invalid_provider"), errs.ErrValidation)
	ErrInvalidPayload         = errs.Mark(errors.New("invalid_payload"), errs.ErrValidation)
	ErrInvalidSignature       = errs.Mark(errors.New("invalid_signature"), errs.ErrValidation)
	ErrInvalidEvent           = errs.Mark(errors.New("invalid_event"), errs.ErrValidation)
	ErrInvalidAmount          = errs.Mark(errors.New("invalid_amount"), errs.ErrValidation)
	ErrInvalidMethod          = errs.Mark(errors.New("invalid_payment_method"), errs.ErrValidation)
	ErrInvalidConfig          = errs.Mark(errors.New("invalid_provider_config"), errs.ErrValidation)
	ErrProviderNotFound       = errs.Mark(errors.New("provider_not_found"), errs.ErrNotFound)
	ErrPaymentAlreadyRecorded = errs.Mark(errors.New("payment_already_recorded"), errs.ErrDuplicate)
	ErrEventAlreadyProcessed  = errs.Mark(errors.New("event_already_processed"), errs.ErrDuplicate)

	// ErrEventIgnored is returned by adapters for event types the engine
	// does not act on.
	ErrEventIgnored = errors.New("event_ignored")
)
