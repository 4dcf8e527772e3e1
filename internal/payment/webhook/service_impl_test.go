package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	stripeadapter "github.com/smallbiznis/reservebill/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	studydomain "github.com/smallbiznis/reservebill/internal/study/domain"
	"github.com/smallbiznis/reservebill/internal/testutil"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func stripeEvent(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": "2025-01-27.acacia",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func paidSession(sessionID, paymentIntent string, amountMinor int64) map[string]any {
	return map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": "paid",
		"payment_intent": paymentIntent,
		"amount_total":   amountMinor,
		"currency":       "usd",
	}
}

func signed(t *testing.T, secret string, payload []byte) http.Header {
	t.Helper()
	result := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	headers := http.Header{}
	headers.Set(stripeadapter.SignatureHeader, result.Header)
	return headers
}

func deliver(t *testing.T, h *testutil.Harness, payload []byte) error {
	t.Helper()
	return h.Webhooks.IngestWebhook(context.Background(), "stripe", payload, signed(t, testutil.WebhookSecret, payload))
}

func openInvoice(t *testing.T, h *testutil.Harness, tenantID snowflake.ID, milestone *invoicedomain.MilestoneType, amount string) (*invoicedomain.Invoice, string) {
	t.Helper()
	ctx := testutil.TenantCtx(tenantID)
	study := h.SeedStudy(t, tenantID)
	invoice, err := h.Invoices.Create(ctx, invoicedomain.CreateInvoiceRequest{
		StudyID:   study.ID,
		Milestone: milestone,
		LineItems: []invoicedomain.LineItemInput{testutil.Line("Reserve study fee", amount)},
	})
	require.NoError(t, err)
	_, err = h.Invoices.MarkSent(ctx, invoice.ID)
	require.NoError(t, err)
	_, err = h.Checkout.GetOrCreatePaymentURL(ctx, invoice.ID, "https://app.reservebill.test")
	require.NoError(t, err)
	stored, err := h.Invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	return stored, *stored.CheckoutSessionID
}

func loadEvent(t *testing.T, h *testutil.Harness, eventID string) paymentdomain.EventRecord {
	t.Helper()
	var record paymentdomain.EventRecord
	require.NoError(t, h.DB.Where("provider = ? AND provider_event_id = ?", "stripe", eventID).First(&record).Error)
	return record
}

func TestPaidSessionWebhookSettlesOnce(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	invoice, sessionID := openInvoice(t, h, tenant.ID, nil, "1000")

	payload := stripeEvent(t, "evt_paid_1", "checkout.session.completed", paidSession(sessionID, "pi_100", 100000))
	require.NoError(t, deliver(t, h, payload))

	record := loadEvent(t, h, "evt_paid_1")
	assert.NotNil(t, record.ProcessedAt)
	require.NotNil(t, record.TenantID)
	assert.Equal(t, tenant.ID, *record.TenantID)

	err := deliver(t, h, payload)
	assert.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)

	async := stripeEvent(t, "evt_paid_2", "checkout.session.async_payment_succeeded", paidSession(sessionID, "pi_100", 100000))
	require.NoError(t, deliver(t, h, async))
	assert.NotNil(t, loadEvent(t, h, "evt_paid_2").ProcessedAt)

	stored, err := h.Invoices.Get(testutil.TenantCtx(tenant.ID), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, stored.Status)
	assert.Equal(t, "1000.00", stored.AmountPaid.StringFixed(2))
	assert.Equal(t, 1, h.Notifier.ReceiptCount())

	var count int64
	require.NoError(t, h.DB.Model(&paymentdomain.PaymentRecord{}).Where("invoice_id = ?", invoice.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLatePaymentAfterManualSettlementIsRecorded(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	invoice, sessionID := openInvoice(t, h, tenant.ID, nil, "1000")
	ctx := testutil.TenantCtx(tenant.ID)

	_, err := h.Payments.RecordManualPayment(ctx, paymentdomain.ManualPaymentRequest{
		InvoiceID: invoice.ID, Amount: testutil.Dec("1000"), Method: paymentdomain.MethodCheck,
	})
	require.NoError(t, err)

	session := paidSession(sessionID, "pi_late", 100000)
	session["metadata"] = map[string]any{"invoice_id": invoice.ID.String(), "tenant_id": tenant.ID.String()}
	require.NoError(t, deliver(t, h, stripeEvent(t, "evt_late", "checkout.session.completed", session)))

	record := loadEvent(t, h, "evt_late")
	assert.NotNil(t, record.ProcessedAt)
	require.NotNil(t, record.TenantID)
	assert.Equal(t, tenant.ID, *record.TenantID)

	require.NoError(t, deliver(t, h, stripeEvent(t, "evt_late_async", "checkout.session.async_payment_succeeded", session)))

	stored, err := h.Invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, stored.Status)
	assert.Equal(t, "2000.00", stored.AmountPaid.StringFixed(2))
	assert.NotNil(t, stored.OverpaidAt)

	var count int64
	require.NoError(t, h.DB.Model(&paymentdomain.PaymentRecord{}).Where("invoice_id = ?", invoice.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestWebhookRejectsBadInput(t *testing.T) {
	h := testutil.NewHarness(t)
	payload := stripeEvent(t, "evt_bad", "checkout.session.expired", map[string]any{"id": "cs_1", "object": "checkout.session"})

	err := h.Webhooks.IngestWebhook(context.Background(), "stripe", payload, signed(t, "whsec_wrong", payload))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	err = h.Webhooks.IngestWebhook(context.Background(), "paypal", payload, signed(t, testutil.WebhookSecret, payload))
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	err = h.Webhooks.IngestWebhook(context.Background(), "", payload, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidProvider)

	err = h.Webhooks.IngestWebhook(context.Background(), "stripe", []byte("{not json"), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	var count int64
	require.NoError(t, h.DB.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUnsupportedEventsAreAcknowledged(t *testing.T) {
	h := testutil.NewHarness(t)

	require.NoError(t, deliver(t, h, stripeEvent(t, "evt_customer", "customer.created", map[string]any{"id": "cus_1", "object": "customer"})))
	require.NoError(t, deliver(t, h, stripeEvent(t, "evt_unpaid", "checkout.session.completed", map[string]any{
		"id": "cs_async", "object": "checkout.session", "payment_status": "unpaid",
	})))
}

func TestUnmatchedPaymentIsMarkedProcessed(t *testing.T) {
	h := testutil.NewHarness(t)

	require.NoError(t, deliver(t, h, stripeEvent(t, "evt_orphan", "checkout.session.completed", paidSession("cs_nobody", "pi_x", 500))))
	record := loadEvent(t, h, "evt_orphan")
	assert.NotNil(t, record.ProcessedAt)
	assert.Nil(t, record.TenantID)
}

func TestExpiredSessionWebhookClearsCache(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	invoice, sessionID := openInvoice(t, h, tenant.ID, nil, "200")

	require.NoError(t, deliver(t, h, stripeEvent(t, "evt_expired", "checkout.session.expired", map[string]any{
		"id": sessionID, "object": "checkout.session",
	})))

	stored, err := h.Invoices.Get(testutil.TenantCtx(tenant.ID), invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CheckoutSessionID)
	assert.Nil(t, stored.CheckoutSessionURL)
}

func TestAccountUpdatedSyncsTenant(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t, func(tn *tenantdomain.Tenant) {
		account := "acct_pending"
		tn.MarketplaceAccountID = &account
	})

	require.NoError(t, deliver(t, h, stripeEvent(t, "evt_account", "account.updated", map[string]any{
		"id":                "acct_pending",
		"object":            "account",
		"details_submitted": true,
		"charges_enabled":   true,
		"payouts_enabled":   true,
	})))

	synced, err := h.Tenants.Get(context.Background(), tenant.ID)
	require.NoError(t, err)
	account, ok := synced.MarketplaceAccount()
	assert.True(t, ok)
	assert.Equal(t, "acct_pending", account)
}

func TestDuplicateDeliveryChainsOneMilestone(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	h.EnableChaining(t, tenant.ID, true)

	deposit := invoicedomain.MilestoneDeposit
	invoice, sessionID := openInvoice(t, h, tenant.ID, &deposit, "500")
	h.SeedSchedule(t, &studydomain.Study{ID: invoice.StudyID, TenantID: tenant.ID},
		invoicedomain.MilestoneSiteVisitComplete, "Site visit fee", "1500")

	first := stripeEvent(t, "evt_dep_1", "checkout.session.completed", paidSession(sessionID, "pi_dep", 50000))
	second := stripeEvent(t, "evt_dep_2", "checkout.session.completed", paidSession(sessionID, "pi_dep", 50000))
	require.NoError(t, deliver(t, h, first))
	require.NoError(t, deliver(t, h, second))
	assert.ErrorIs(t, deliver(t, h, first), paymentdomain.ErrEventAlreadyProcessed)

	var next []invoicedomain.Invoice
	require.NoError(t, h.DB.Where("tenant_id = ? AND milestone_type = ?", tenant.ID, string(invoicedomain.MilestoneSiteVisitComplete)).Find(&next).Error)
	require.Len(t, next, 1)
	assert.Equal(t, "1500.00", next[0].TotalAmount.StringFixed(2))
	require.NotNil(t, next[0].PreviousInvoiceID)
	assert.Equal(t, invoice.ID, *next[0].PreviousInvoiceID)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, next[0].Status)
	assert.Equal(t, []string{next[0].InvoiceNumber}, h.Notifier.AutoGenerated)
}
