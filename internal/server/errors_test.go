package server

import (
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapErrorByKind(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
		code   string
	}{
		{"not found", invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "not_found", "invoice_not_found"},
		{"wrapped state", errors.Wrap(invoicedomain.ErrInvoiceNotDraft, "update line items"), http.StatusConflict, "invalid_state", "invoice_not_draft"},
		{"duplicate", paymentdomain.ErrPaymentAlreadyRecorded, http.StatusConflict, "conflict", "payment_already_recorded"},
		{"gateway", errors.Wrap(checkoutdomain.ErrGatewayUnavailable, "dial tcp: refused"), http.StatusServiceUnavailable, "service_unavailable", "payment_gateway_unavailable"},
		{"rate limited", ErrTooManyRequests, http.StatusTooManyRequests, "rate_limited", "too_many_requests"},
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found", "record not found"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
			assert.Equal(t, tc.code, payload.Code)
		})
	}
}

func TestMapValidationErrorNamesField(t *testing.T) {
	status, payload := mapError(creditmemodomain.ErrInvalidReason)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload.Type)
	assert.Equal(t, []ValidationError{{Field: "credit_reason", Code: "invalid_credit_reason", Message: "invalid value"}}, payload.Errors)

	status, payload = mapError(invalidRequestError())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "request", payload.Errors[0].Field)
}

func TestClassifyErrorForLog(t *testing.T) {
	kind, code := classifyErrorForLog(invoicedomain.ErrInvalidLineItems)
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "invalid_line_items", code)

	kind, code = classifyErrorForLog(invoicedomain.ErrInvoiceVoided)
	assert.Equal(t, "invalid_state", kind)
	assert.Equal(t, "invoice_voided", code)
}
