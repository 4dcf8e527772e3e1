// Package stripe talks to the Stripe API for hosted checkout and refunds.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	"github.com/smallbiznis/reservebill/internal/config"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	"github.com/smallbiznis/reservebill/pkg/errs"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const (
	minSessionLifetime = 30 * time.Minute
	maxSessionLifetime = 24*time.Hour - time.Minute
)

var (
	ErrNotConfigured = errs.Mark(errors.New("stripe_not_configured"), errs.ErrTransientExternal)
	ErrRejected      = errs.Mark(errors.New("stripe_request_rejected"), errs.ErrValidation)
)

type Client struct {
	sc  *stripe.Client
	log *zap.Logger
	now func() time.Time
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	c := &Client{
		log: log.Named("stripe.client"),
		now: func() time.Time { return time.Now().UTC() },
	}
	if key := strings.TrimSpace(cfg.Stripe.SecretKey); key != "" {
		c.sc = stripe.NewClient(key, nil)
	}
	return c
}

var (
	_ checkoutdomain.Gateway    = (*Client)(nil)
	_ creditmemodomain.Refunder = (*Client)(nil)
)

func (c *Client) CreateCheckoutSession(ctx context.Context, req checkoutdomain.SessionRequest) (*checkoutdomain.Session, error) {
	if c.sc == nil {
		return nil, ErrNotConfigured
	}
	params := buildSessionParams(req, c.now())

	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	c.log.Debug("checkout session created",
		zap.String("session_id", session.ID),
		zap.Bool("connected", req.Routing != nil),
	)
	return &checkoutdomain.Session{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: time.Unix(session.ExpiresAt, 0).UTC(),
	}, nil
}

func (c *Client) Refund(ctx context.Context, req creditmemodomain.RefundRequest) (string, error) {
	if c.sc == nil {
		return "", ErrNotConfigured
	}
	params := buildRefundParams(req)

	refund, err := c.sc.V1Refunds.Create(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	return refund.ID, nil
}

func buildSessionParams(req checkoutdomain.SessionRequest, now time.Time) *stripe.CheckoutSessionCreateParams {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.AmountMinor),
			},
			Quantity: stripe.Int64(quantity),
		})
	}

	expiresAt := req.ExpiresAt
	switch {
	case expiresAt.IsZero() || expiresAt.After(now.Add(maxSessionLifetime)):
		expiresAt = now.Add(maxSessionLifetime)
	case expiresAt.Before(now.Add(minSessionLifetime)):
		expiresAt = now.Add(minSessionLifetime)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  lineItems,
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		ExpiresAt:  stripe.Int64(expiresAt.Unix()),
		Metadata:   req.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if req.Routing != nil {
		params.SetStripeAccount(req.Routing.Account)
		if req.Routing.ApplicationFeeMinor > 0 {
			params.PaymentIntentData.ApplicationFeeAmount = stripe.Int64(req.Routing.ApplicationFeeMinor)
		}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return params
}

func buildRefundParams(req creditmemodomain.RefundRequest) *stripe.RefundCreateParams {
	params := &stripe.RefundCreateParams{
		Amount: stripe.Int64(req.AmountMinor),
		Metadata: map[string]string{
			"tenant_id": req.TenantID.String(),
		},
	}
	reference := strings.TrimSpace(req.PaymentReference)
	if strings.HasPrefix(reference, "ch_") || strings.HasPrefix(reference, "py_") {
		params.Charge = stripe.String(reference)
	} else {
		params.PaymentIntent = stripe.String(reference)
	}
	if req.ConnectedAccount != "" {
		params.SetStripeAccount(req.ConnectedAccount)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return params
}

// classify marks rate limits, server errors and network failures as
// transient. Anything else Stripe rejected is a validation failure.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
			stripeErr.Type == stripe.ErrorTypeAPI:
			return errs.Mark(errors.Wrap(err, "stripe"), errs.ErrTransientExternal)
		case stripeErr.Type == stripe.ErrorTypeIdempotency:
			return errs.Mark(errors.Wrap(err, "stripe"), errs.ErrDuplicate)
		default:
			return errors.Wrap(ErrRejected, stripeErr.Msg)
		}
	}
	return errs.Mark(errors.Wrap(err, "stripe"), errs.ErrTransientExternal)
}
