package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const SignatureHeader = "Stripe-Signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return parseSessionPaid(event, payload)
	case "checkout.session.expired":
		return parseSessionExpired(event, payload)
	case "account.updated":
		return parseAccountUpdated(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func parseSessionPaid(event stripe.Event, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	// Delayed methods complete the session before the money moves; those
	// settle on checkout.session.async_payment_succeeded.
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, paymentdomain.ErrEventIgnored
	}

	reference := session.ID
	if session.PaymentIntent != nil && strings.TrimSpace(session.PaymentIntent.ID) != "" {
		reference = session.PaymentIntent.ID
	}

	return &paymentdomain.PaymentEvent{
		Provider:         "stripe",
		ProviderEventID:  event.ID,
		ProviderType:     string(event.Type),
		Type:             paymentdomain.EventTypePaymentSucceeded,
		SessionID:        session.ID,
		PaymentReference: reference,
		InvoiceID:        metadataID(session.Metadata, checkoutdomain.MetadataInvoiceID),
		TenantID:         metadataID(session.Metadata, checkoutdomain.MetadataTenantID),
		AmountMinor:      session.AmountTotal,
		Currency:         strings.ToLower(string(session.Currency)),
		OccurredAt:       timestamp(event.Created),
		RawPayload:       payload,
	}, nil
}

// metadataID reads an id stamped on the session at checkout. Missing or
// malformed values read as zero.
func metadataID(metadata map[string]string, key string) snowflake.ID {
	id, err := snowflake.ParseString(strings.TrimSpace(metadata[key]))
	if err != nil {
		return 0
	}
	return id
}

func parseSessionExpired(event stripe.Event, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		ProviderType:    string(event.Type),
		Type:            paymentdomain.EventTypeSessionExpired,
		SessionID:       session.ID,
		OccurredAt:      timestamp(event.Created),
		RawPayload:      payload,
	}, nil
}

func parseAccountUpdated(event stripe.Event, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var account stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(account.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		ProviderType:    string(event.Type),
		Type:            paymentdomain.EventTypeAccountUpdated,
		Account: &tenantdomain.MarketplaceStatus{
			AccountID:          account.ID,
			OnboardingComplete: account.DetailsSubmitted && account.ChargesEnabled,
			PayoutsEnabled:     account.PayoutsEnabled,
		},
		OccurredAt: timestamp(event.Created),
		RawPayload: payload,
	}, nil
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
