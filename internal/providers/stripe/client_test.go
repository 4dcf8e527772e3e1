package stripe

import (
	"net/http"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	"github.com/smallbiznis/reservebill/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestBuildSessionParamsRoutesToConnectedAccount(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	params := buildSessionParams(checkoutdomain.SessionRequest{
		LineItems: []checkoutdomain.SessionLineItem{
			{Name: "Reserve study deposit", AmountMinor: 100000, Quantity: 1},
		},
		Currency:      "USD",
		CustomerEmail: "board@example.com",
		SuccessURL:    "https://app.example.com/ok",
		CancelURL:     "https://app.example.com/cancel",
		ExpiresAt:     now.Add(24 * time.Hour),
		Metadata:      map[string]string{"invoice_id": "42"},
		Routing: &checkoutdomain.Routing{
			Account:             "acct_123",
			ApplicationFeeMinor: 1500,
		},
		IdempotencyKey: "checkout_42",
	}, now)

	require.Len(t, params.LineItems, 1)
	assert.Equal(t, "usd", *params.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(100000), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "acct_123", *params.StripeAccount)
	assert.Equal(t, int64(1500), *params.PaymentIntentData.ApplicationFeeAmount)
	assert.Equal(t, "checkout_42", *params.IdempotencyKey)
	assert.Equal(t, "board@example.com", *params.CustomerEmail)
	assert.Equal(t, now.Add(maxSessionLifetime).Unix(), *params.ExpiresAt)
}

func TestBuildSessionParamsWithoutRouting(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	params := buildSessionParams(checkoutdomain.SessionRequest{
		LineItems: []checkoutdomain.SessionLineItem{{Name: "Balance due", AmountMinor: 60000}},
		Currency:  "usd",
		ExpiresAt: now.Add(5 * time.Minute),
	}, now)

	assert.Nil(t, params.StripeAccount)
	assert.Nil(t, params.PaymentIntentData.ApplicationFeeAmount)
	assert.Equal(t, int64(1), *params.LineItems[0].Quantity)
	assert.Equal(t, now.Add(minSessionLifetime).Unix(), *params.ExpiresAt)
}

func TestBuildRefundParams(t *testing.T) {
	params := buildRefundParams(creditmemodomain.RefundRequest{
		PaymentReference: "pi_123",
		AmountMinor:      40000,
		ConnectedAccount: "acct_9",
		IdempotencyKey:   "credit_memo_refund_7",
	})
	assert.Equal(t, "pi_123", *params.PaymentIntent)
	assert.Nil(t, params.Charge)
	assert.Equal(t, int64(40000), *params.Amount)
	assert.Equal(t, "acct_9", *params.StripeAccount)

	charge := buildRefundParams(creditmemodomain.RefundRequest{PaymentReference: "ch_1", AmountMinor: 1})
	assert.Equal(t, "ch_1", *charge.Charge)
	assert.Nil(t, charge.PaymentIntent)
}

func TestClassify(t *testing.T) {
	assert.True(t, errs.IsTransientExternal(classify(&stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable})))
	assert.True(t, errs.IsTransientExternal(classify(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests})))
	assert.True(t, errs.IsTransientExternal(classify(errors.New("connection reset by peer"))))
	assert.True(t, errs.IsValidation(classify(&stripe.Error{
		HTTPStatusCode: http.StatusBadRequest,
		Type:           stripe.ErrorTypeInvalidRequest,
		Msg:            "No such payment_intent",
	})))
}
