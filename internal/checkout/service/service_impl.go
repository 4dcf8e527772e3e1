package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	"github.com/smallbiznis/reservebill/internal/clock"
	"github.com/smallbiznis/reservebill/internal/config"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	"github.com/smallbiznis/reservebill/internal/observability/metrics"
	"github.com/smallbiznis/reservebill/internal/observability/tracing"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
	"github.com/smallbiznis/reservebill/pkg/errs"
	"github.com/smallbiznis/reservebill/pkg/money"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const tracerName = "reservebill/checkout"

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	TenantSvc  tenantdomain.Service
	Gateway    checkoutdomain.Gateway
	BillingCfg *config.BillingConfigHolder `optional:"true"`
	Metrics    *metrics.BillingMetrics     `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	tenantSvc  tenantdomain.Service
	gateway    checkoutdomain.Gateway
	billingCfg *config.BillingConfigHolder
	metrics    *metrics.BillingMetrics
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		log:        p.Log.Named("checkout.service"),
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		tenantSvc:  p.TenantSvc,
		gateway:    p.Gateway,
		billingCfg: p.BillingCfg,
		metrics:    p.Metrics,
	}
}

func (s *Service) GetOrCreatePaymentURL(ctx context.Context, invoiceID snowflake.ID, baseURL string) (string, error) {
	invoice, err := s.invoiceSvc.Get(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	if err := ensurePayable(invoice); err != nil {
		s.metrics.RecordCheckoutSession(metrics.CheckoutResultRejected, false, 0)
		return "", err
	}

	cfg := s.billingCfg.Get()
	now := s.clock.Now()
	if url, ok := reusableSession(invoice, now, cfg.Checkout.ReuseMargin); ok {
		s.metrics.RecordCheckoutSession(metrics.CheckoutResultReused, false, 0)
		return url, nil
	}

	balance := invoice.BalanceDue()
	if !balance.IsPositive() {
		s.metrics.RecordCheckoutSession(metrics.CheckoutResultRejected, false, 0)
		return "", checkoutdomain.ErrNothingDue
	}

	tenant, err := s.tenantSvc.Get(ctx, invoice.TenantID)
	if err != nil {
		return "", err
	}
	routing := s.routingFor(tenant, balance, cfg)

	req := checkoutdomain.SessionRequest{
		LineItems:     sessionLineItems(invoice, balance),
		Currency:      strings.ToLower(invoice.Currency),
		CustomerEmail: strings.TrimSpace(invoice.BillTo.Email),
		SuccessURL:    returnURL(baseURL, invoice.ID, "success"),
		CancelURL:     returnURL(baseURL, invoice.ID, "cancelled"),
		ExpiresAt:     now.Add(cfg.Checkout.SessionLifetime),
		Metadata: map[string]string{
			checkoutdomain.MetadataInvoiceID:     invoice.ID.String(),
			checkoutdomain.MetadataInvoiceNumber: invoice.InvoiceNumber,
			checkoutdomain.MetadataTenantID:      invoice.TenantID.String(),
		},
		Routing:        routing,
		IdempotencyKey: "checkout_" + invoice.ID.String() + "_" + uuid.NewString(),
	}

	session, err := s.createSession(ctx, invoice, req)
	if err != nil {
		s.metrics.RecordCheckoutSession(metrics.CheckoutResultFailed, routing != nil, 0)
		return "", err
	}

	stored, err := s.invoiceSvc.SetCheckoutSession(ctx, invoice.ID, invoicedomain.CheckoutSession{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: session.ExpiresAt,
	}, invoice.CheckoutSessionID)
	if err != nil {
		return "", err
	}
	if !stored {
		return s.resolveConflict(ctx, invoice.ID, session.ID)
	}

	var feeMinor int64
	if routing != nil {
		feeMinor = routing.ApplicationFeeMinor
	}
	s.metrics.RecordCheckoutSession(metrics.CheckoutResultCreated, routing != nil, feeMinor)
	s.log.Info("checkout session created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("session_id", session.ID),
		zap.Bool("routed", routing != nil),
		zap.Int64("application_fee_minor", feeMinor),
	)
	return session.URL, nil
}

func (s *Service) ExpireSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return checkoutdomain.ErrInvalidSession
	}
	if err := s.invoiceSvc.ClearCheckoutSession(ctx, sessionID); err != nil {
		return err
	}
	s.log.Info("checkout session expired", zap.String("session_id", sessionID))
	return nil
}

func (s *Service) createSession(ctx context.Context, invoice *invoicedomain.Invoice, req checkoutdomain.SessionRequest) (*checkoutdomain.Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkout.create_session",
		attribute.String("invoice_id", invoice.ID.String()),
		attribute.Bool("routed", req.Routing != nil),
	)
	start := time.Now()
	session, err := s.gateway.CreateCheckoutSession(ctx, req)
	s.metrics.ObserveGatewayCall("create_checkout_session", start)
	if err == nil && (session == nil || strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.URL) == "") {
		err = errors.New("gateway returned an empty session")
	}
	if err != nil {
		if !errs.IsTransientExternal(err) {
			err = errors.Wrap(checkoutdomain.ErrGatewayUnavailable, err.Error())
		}
		tracing.EndSpan(span, err)
		s.log.Warn("checkout session request failed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	tracing.EndSpan(span, nil)
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = req.ExpiresAt
	}
	return session, nil
}

// resolveConflict handles a lost race on the cached session: the winner's
// session is returned when it is usable.
func (s *Service) resolveConflict(ctx context.Context, invoiceID snowflake.ID, orphanID string) (string, error) {
	s.log.Info("checkout session superseded by concurrent request",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("orphan_session_id", orphanID),
	)
	current, err := s.invoiceSvc.Get(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	if err := ensurePayable(current); err != nil {
		return "", err
	}
	if url, ok := reusableSession(current, s.clock.Now(), s.billingCfg.Get().Checkout.ReuseMargin); ok {
		s.metrics.RecordCheckoutSession(metrics.CheckoutResultReused, false, 0)
		return url, nil
	}
	return "", checkoutdomain.ErrCheckoutConflict
}

func (s *Service) routingFor(tenant *tenantdomain.Tenant, balance decimal.Decimal, cfg config.BillingConfig) *checkoutdomain.Routing {
	account, ok := tenant.MarketplaceAccount()
	if !ok {
		return nil
	}
	rate := cfg.FeeRate(tenant.Tier())
	if tenant.PlatformFeeRate != nil && !tenant.PlatformFeeRate.IsNegative() {
		rate = *tenant.PlatformFeeRate
	}
	return &checkoutdomain.Routing{
		Account:             account,
		ApplicationFeeMinor: money.PlatformFee(balance, rate),
	}
}

func ensurePayable(invoice *invoicedomain.Invoice) error {
	switch invoice.Status {
	case invoicedomain.InvoiceStatusVoided:
		return errors.Wrap(checkoutdomain.ErrInvoiceNotPayable, "invoice is voided")
	case invoicedomain.InvoiceStatusPaid:
		return errors.Wrap(checkoutdomain.ErrInvoiceNotPayable, "invoice is paid")
	}
	return nil
}

func reusableSession(invoice *invoicedomain.Invoice, now time.Time, margin time.Duration) (string, bool) {
	if invoice.CheckoutSessionID == nil || invoice.CheckoutSessionURL == nil || invoice.CheckoutSessionExpiresAt == nil {
		return "", false
	}
	if !invoice.CheckoutSessionExpiresAt.After(now.Add(margin)) {
		return "", false
	}
	url := strings.TrimSpace(*invoice.CheckoutSessionURL)
	return url, url != ""
}

// sessionLineItems mirrors the invoice lines when they add up to the balance
// due in minor units, and falls back to one aggregate line otherwise.
func sessionLineItems(invoice *invoicedomain.Invoice, balance decimal.Decimal) []checkoutdomain.SessionLineItem {
	balanceMinor := money.ToMinorUnits(balance)

	if len(invoice.LineItems) > 0 {
		items := make([]checkoutdomain.SessionLineItem, 0, len(invoice.LineItems))
		var sum int64
		usable := true
		for _, line := range invoice.LineItems {
			amount := money.ToMinorUnits(line.Amount)
			if amount <= 0 {
				usable = false
				break
			}
			sum += amount
			items = append(items, checkoutdomain.SessionLineItem{
				Name:        line.Description,
				AmountMinor: amount,
				Quantity:    1,
			})
		}
		if usable && sum == balanceMinor {
			return items
		}
	}

	return []checkoutdomain.SessionLineItem{{
		Name:        "Invoice " + invoice.InvoiceNumber + " balance due",
		AmountMinor: balanceMinor,
		Quantity:    1,
	}}
}

func returnURL(baseURL string, invoiceID snowflake.ID, outcome string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return base + "/invoices/" + invoiceID.String() + "/payment/" + outcome
}
