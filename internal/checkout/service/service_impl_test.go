package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	checkoutservice "github.com/smallbiznis/reservebill/internal/checkout/service"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	"github.com/smallbiznis/reservebill/internal/testutil"
	"github.com/smallbiznis/reservebill/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://app.reservebill.test/"

func payableInvoice(t *testing.T, h *testutil.Harness, tenantID snowflake.ID, amount string) *invoicedomain.Invoice {
	t.Helper()
	study := h.SeedStudy(t, tenantID)
	invoice, err := h.Invoices.Create(testutil.TenantCtx(tenantID), invoicedomain.CreateInvoiceRequest{
		StudyID:   study.ID,
		LineItems: []invoicedomain.LineItemInput{testutil.Line("Full reserve study", amount)},
	})
	require.NoError(t, err)
	invoice, err = h.Invoices.MarkSent(testutil.TenantCtx(tenantID), invoice.ID)
	require.NoError(t, err)
	return invoice
}

func TestMarketplaceSessionCarriesPlatformFee(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t, testutil.WithTier("pro"), testutil.WithMarketplace("acct_cascade"))
	invoice := payableInvoice(t, h, tenant.ID, "1000")
	ctx := testutil.TenantCtx(tenant.ID)

	url, err := h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, baseURL)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/pay/cs_test_1", url)

	req := h.Gateway.Last()
	require.NotNil(t, req.Routing)
	assert.Equal(t, "acct_cascade", req.Routing.Account)
	assert.Equal(t, int64(1500), req.Routing.ApplicationFeeMinor)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, "board@harborview.test", req.CustomerEmail)
	assert.Equal(t, "https://app.reservebill.test/invoices/"+invoice.ID.String()+"/payment/success", req.SuccessURL)
	assert.Equal(t, invoice.ID.String(), req.Metadata[checkoutdomain.MetadataInvoiceID])
	assert.Equal(t, tenant.ID.String(), req.Metadata[checkoutdomain.MetadataTenantID])
	assert.Equal(t, testutil.Epoch.Add(24*time.Hour), req.ExpiresAt)
	require.Len(t, req.LineItems, 1)
	assert.Equal(t, int64(100000), req.LineItems[0].AmountMinor)
	assert.NotEmpty(t, req.IdempotencyKey)

	stored, err := h.Invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CheckoutSessionID)
	assert.Equal(t, "cs_test_1", *stored.CheckoutSessionID)
}

func TestTenantFeeOverrideAndStarterTier(t *testing.T) {
	h := testutil.NewHarness(t)
	starter := h.SeedTenant(t, testutil.WithTier("starter"), testutil.WithMarketplace("acct_starter"))
	custom := h.SeedTenant(t, testutil.WithTier("starter"), testutil.WithMarketplace("acct_custom"), testutil.WithFeeRate("0.005"))

	_, err := h.Checkout.GetOrCreatePaymentURL(testutil.TenantCtx(starter.ID), payableInvoice(t, h, starter.ID, "333.33").ID, baseURL)
	require.NoError(t, err)
	assert.Equal(t, int64(667), h.Gateway.Last().Routing.ApplicationFeeMinor)

	_, err = h.Checkout.GetOrCreatePaymentURL(testutil.TenantCtx(custom.ID), payableInvoice(t, h, custom.ID, "1000").ID, baseURL)
	require.NoError(t, err)
	assert.Equal(t, int64(500), h.Gateway.Last().Routing.ApplicationFeeMinor)
}

func TestStandardSessionWithoutMarketplace(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	invoice := payableInvoice(t, h, tenant.ID, "250")

	_, err := h.Checkout.GetOrCreatePaymentURL(testutil.TenantCtx(tenant.ID), invoice.ID, baseURL)
	require.NoError(t, err)
	assert.Nil(t, h.Gateway.Last().Routing)
}

func TestSessionBillsRemainingBalance(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	invoice := payableInvoice(t, h, tenant.ID, "1000")
	ctx := testutil.TenantCtx(tenant.ID)

	_, err := h.Invoices.RecordPayment(ctx, invoicedomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Amount: testutil.Dec("400"), Source: invoicedomain.PaymentSourceManual,
	})
	require.NoError(t, err)

	_, err = h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, baseURL)
	require.NoError(t, err)
	items := h.Gateway.Last().LineItems
	require.Len(t, items, 1)
	assert.Equal(t, int64(60000), items[0].AmountMinor)
	assert.Equal(t, "Invoice "+invoice.InvoiceNumber+" balance due", items[0].Name)
}

func TestCachedSessionIsReused(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	invoice := payableInvoice(t, h, tenant.ID, "500")
	ctx := testutil.TenantCtx(tenant.ID)

	first, err := h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, baseURL)
	require.NoError(t, err)

	h.Clock.Advance(23 * time.Hour)
	second, err := h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, baseURL)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.Gateway.Calls())

	h.Clock.Advance(56 * time.Minute)
	third, err := h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, baseURL)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, h.Gateway.Calls())
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	invoice := payableInvoice(t, h, tenant.ID, "500")
	ctx := testutil.TenantCtx(tenant.ID)

	_, err := h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, baseURL)
	require.NoError(t, err)
	require.NoError(t, h.Checkout.ExpireSession(ctx, "cs_test_1"))

	cleared, err := h.Invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.CheckoutSessionID)

	url, err := h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, baseURL)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/pay/cs_test_2", url)

	assert.ErrorIs(t, h.Checkout.ExpireSession(ctx, " "), checkoutdomain.ErrInvalidSession)
}

func TestClosedInvoicesAreNotPayable(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	ctx := testutil.TenantCtx(tenant.ID)

	voided := payableInvoice(t, h, tenant.ID, "100")
	_, err := h.Invoices.Void(ctx, voided.ID, "")
	require.NoError(t, err)
	_, err = h.Checkout.GetOrCreatePaymentURL(ctx, voided.ID, baseURL)
	assert.ErrorIs(t, err, checkoutdomain.ErrInvoiceNotPayable)
	assert.True(t, errs.IsInvalidState(err))

	paid := payableInvoice(t, h, tenant.ID, "100")
	_, err = h.Invoices.RecordPayment(ctx, invoicedomain.RecordPaymentRequest{InvoiceID: paid.ID, Amount: testutil.Dec("100")})
	require.NoError(t, err)
	_, err = h.Checkout.GetOrCreatePaymentURL(ctx, paid.ID, baseURL)
	assert.ErrorIs(t, err, checkoutdomain.ErrInvoiceNotPayable)

	assert.Zero(t, h.Gateway.Calls())
}

func TestGatewayFailureIsTransient(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Gateway.Err = errors.New("connection reset")
	tenant := h.SeedTenant(t)
	invoice := payableInvoice(t, h, tenant.ID, "100")
	ctx := testutil.TenantCtx(tenant.ID)

	_, err := h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, baseURL)
	assert.ErrorIs(t, err, checkoutdomain.ErrGatewayUnavailable)
	assert.True(t, errs.IsTransientExternal(err))

	stored, err := h.Invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CheckoutSessionID)
}

// racingGateway stores a competing session before answering, as a
// concurrent request would.
type racingGateway struct {
	h         *testutil.Harness
	invoiceID snowflake.ID
	tenantID  snowflake.ID
}

func (g *racingGateway) CreateCheckoutSession(ctx context.Context, req checkoutdomain.SessionRequest) (*checkoutdomain.Session, error) {
	_, err := g.h.Invoices.SetCheckoutSession(testutil.TenantCtx(g.tenantID), g.invoiceID, invoicedomain.CheckoutSession{
		ID:        "cs_winner",
		URL:       "https://checkout.test/pay/cs_winner",
		ExpiresAt: req.ExpiresAt,
	}, nil)
	if err != nil {
		return nil, err
	}
	return &checkoutdomain.Session{ID: "cs_loser", URL: "https://checkout.test/pay/cs_loser", ExpiresAt: req.ExpiresAt}, nil
}

func TestLostRaceReturnsWinningSession(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	invoice := payableInvoice(t, h, tenant.ID, "100")

	svc := checkoutservice.NewService(checkoutservice.Params{
		Log:        h.Log,
		Clock:      h.Clock,
		InvoiceSvc: h.Invoices,
		TenantSvc:  h.Tenants,
		Gateway:    &racingGateway{h: h, invoiceID: invoice.ID, tenantID: tenant.ID},
	})

	url, err := svc.GetOrCreatePaymentURL(testutil.TenantCtx(tenant.ID), invoice.ID, baseURL)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/pay/cs_winner", url)
}
