package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/reservebill/internal/audit/domain"
	"github.com/smallbiznis/reservebill/internal/config"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	"github.com/smallbiznis/reservebill/internal/observability"
	stripeadapter "github.com/smallbiznis/reservebill/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	"github.com/smallbiznis/reservebill/internal/server"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	"github.com/smallbiznis/reservebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

type apiError struct {
	Error struct {
		Type   string `json:"type"`
		Code   string `json:"code"`
		Errors []struct {
			Field string `json:"field"`
			Code  string `json:"code"`
		} `json:"errors"`
	} `json:"error"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type testServer struct {
	h      *testutil.Harness
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := testutil.NewHarness(t)
	engine := server.NewEngine(observability.Config{}, h.Log)
	srv := server.NewServer(server.ServerParams{
		Gin:           engine,
		Cfg:           config.Config{PublicBaseURL: "https://app.reservebill.test"},
		Log:           h.Log,
		InvoiceSvc:    h.Invoices,
		WebhookSvc:    h.Webhooks,
		CreditMemoSvc: h.CreditMemo,
		CheckoutSvc:   h.Checkout,
		PaymentSvc:    h.Payments,
		SettingsSvc:   h.Settings,
		AuditSvc:      h.Audit,
		Metrics:       h.Metrics,
	})
	srv.RegisterAPIRoutes()
	srv.RegisterWebhookRoutes()
	srv.RegisterPublicRoutes()
	srv.RegisterFallback()

	return &testServer{h: h, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path string, tenantID snowflake.ID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch value := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(value)
	default:
		raw, err := json.Marshal(value)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != 0 {
		req.Header.Set(server.HeaderTenant, tenantID.String())
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createInvoice(t *testing.T, tenantID snowflake.ID, unitPrice string) invoicedomain.Invoice {
	t.Helper()
	study := s.h.SeedStudy(t, tenantID)
	rec := s.do(t, http.MethodPost, "/api/invoices", tenantID, map[string]any{
		"study_id": study.ID.String(),
		"line_items": []map[string]any{
			{"description": "Reserve study", "quantity": "1", "unit_price": unitPrice},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[envelope[invoicedomain.Invoice]](t, rec).Data
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAPIRequiresTenantHeader(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/invoices", 0, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[apiError](t, rec)
	assert.Equal(t, "validation_error", body.Error.Type)
	require.Len(t, body.Error.Errors, 1)
	assert.Equal(t, "invalid_tenant", body.Error.Errors[0].Code)
}

func TestUnknownRouteIsJSONNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/nope", 0, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route_not_found", decode[apiError](t, rec).Error.Code)
}

func TestCreateAndFetchInvoice(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)

	created := s.createInvoice(t, tenant.ID, "1000")
	assert.Equal(t, "INV-2025-00001", created.InvoiceNumber)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, created.Status)
	assert.True(t, testutil.Dec("1000").Equal(created.TotalAmount))

	rec := s.do(t, http.MethodGet, "/api/invoices/"+created.ID.String(), tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decode[envelope[invoicedomain.Invoice]](t, rec).Data
	assert.Equal(t, created.ID, fetched.ID)
	require.Len(t, fetched.LineItems, 1)

	other := s.h.SeedTenant(t)
	rec = s.do(t, http.MethodGet, "/api/invoices/"+created.ID.String(), other.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invoice_not_found", decode[apiError](t, rec).Error.Code)

	rec = s.do(t, http.MethodGet, "/api/invoices/not-a-number", tenant.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateInvoiceValidationMapsToBadRequest(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	study := s.h.SeedStudy(t, tenant.ID)

	rec := s.do(t, http.MethodPost, "/api/invoices", tenant.ID, map[string]any{
		"study_id":   study.ID.String(),
		"line_items": []map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[apiError](t, rec)
	require.Len(t, body.Error.Errors, 1)
	assert.Equal(t, "invalid_line_items", body.Error.Errors[0].Code)
	assert.Equal(t, "line_items", body.Error.Errors[0].Field)

	rec = s.do(t, http.MethodPost, "/api/invoices", tenant.ID, []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceStateErrorsMapToConflict(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	invoice := s.createInvoice(t, tenant.ID, "1000")

	rec := s.do(t, http.MethodPost, "/api/invoices/"+invoice.ID.String()+"/send", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decode[envelope[invoicedomain.Invoice]](t, rec).Data
	assert.Equal(t, invoicedomain.InvoiceStatusSent, sent.Status)
	require.NotNil(t, sent.DueDate)

	rec = s.do(t, http.MethodPut, "/api/invoices/"+invoice.ID.String()+"/line-items", tenant.ID, map[string]any{
		"line_items": []map[string]any{{"description": "Revised", "quantity": "1", "unit_price": "10"}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[apiError](t, rec)
	assert.Equal(t, "invalid_state", body.Error.Type)
	assert.Equal(t, "invoice_not_draft", body.Error.Code)

	rec = s.do(t, http.MethodPost, "/api/invoices/"+invoice.ID.String()+"/void", tenant.ID, map[string]any{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, invoicedomain.InvoiceStatusVoided, decode[envelope[invoicedomain.Invoice]](t, rec).Data.Status)
}

func TestListInvoicesEndpoint(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	s.createInvoice(t, tenant.ID, "100")
	s.createInvoice(t, tenant.ID, "200")

	rec := s.do(t, http.MethodGet, "/api/invoices?status=draft", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[envelope[[]invoicedomain.Invoice]](t, rec).Data, 2)

	rec = s.do(t, http.MethodGet, "/api/invoices?status=paid", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[envelope[[]invoicedomain.Invoice]](t, rec).Data)

	rec = s.do(t, http.MethodGet, "/api/invoices?status=lost", tenant.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/invoices?overdue=maybe", tenant.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualPaymentEndpoints(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	invoice := s.createInvoice(t, tenant.ID, "1000")
	path := "/api/invoices/" + invoice.ID.String() + "/payments"

	rec := s.do(t, http.MethodPost, path, tenant.ID, map[string]any{
		"amount":    "400",
		"method":    "check",
		"reference": "chk-1001",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[envelope[struct {
		Invoice invoicedomain.Invoice       `json:"invoice"`
		Payment paymentdomain.PaymentRecord `json:"payment"`
	}]](t, rec).Data
	assert.Equal(t, invoicedomain.InvoiceStatusPartiallyPaid, result.Invoice.Status)
	assert.Equal(t, paymentdomain.MethodCheck, result.Payment.Method)

	rec = s.do(t, http.MethodPost, path, tenant.ID, map[string]any{
		"amount":    "400",
		"method":    "check",
		"reference": "chk-1001",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[apiError](t, rec)
	assert.Equal(t, "conflict", body.Error.Type)
	assert.Equal(t, "payment_already_recorded", body.Error.Code)

	rec = s.do(t, http.MethodPost, path, tenant.ID, map[string]any{"amount": "10", "method": "barter"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, path, tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[envelope[[]paymentdomain.PaymentRecord]](t, rec).Data, 1)
}

func TestPaymentURLEndpointsReuseSession(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	invoice := s.createInvoice(t, tenant.ID, "1000")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/invoices/"+invoice.ID.String()+"/send", tenant.ID, nil).Code)

	rec := s.do(t, http.MethodPost, "/api/invoices/"+invoice.ID.String()+"/payment-url", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	url := decode[envelope[map[string]string]](t, rec).Data["url"]
	assert.Equal(t, "https://checkout.test/pay/cs_test_1", url)

	rec = s.do(t, http.MethodPost, "/public/invoices/"+invoice.ID.String()+"/checkout", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, url, decode[envelope[map[string]string]](t, rec).Data["url"])
	assert.Equal(t, 1, s.h.Gateway.Calls())

	rec = s.do(t, http.MethodPost, "/public/invoices/"+invoice.ID.String()+"/checkout", 0, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentURLGatewayFailureIsUnavailable(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	invoice := s.createInvoice(t, tenant.ID, "1000")
	s.h.Gateway.Err = assert.AnError

	rec := s.do(t, http.MethodPost, "/api/invoices/"+invoice.ID.String()+"/payment-url", tenant.ID, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "payment_gateway_unavailable", decode[apiError](t, rec).Error.Code)
}

func TestCreditMemoEndpoints(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	invoice := s.createInvoice(t, tenant.ID, "1000")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/invoices/"+invoice.ID.String()+"/send", tenant.ID, nil).Code)

	rec := s.do(t, http.MethodPost, "/api/credit-memos", tenant.ID, map[string]any{
		"invoice_id": invoice.ID.String(),
		"amount":     "400",
		"reason":     "scope reduced",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	memo := decode[envelope[creditmemodomain.CreditMemo]](t, rec).Data
	assert.Equal(t, "CM-2025-00001", memo.CreditMemoNumber)

	rec = s.do(t, http.MethodPost, "/api/credit-memos/"+memo.ID.String()+"/apply", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, creditmemodomain.CreditMemoStatusApplied, decode[envelope[creditmemodomain.CreditMemo]](t, rec).Data.Status)

	rec = s.do(t, http.MethodGet, "/api/invoices/"+invoice.ID.String(), tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decode[envelope[invoicedomain.Invoice]](t, rec).Data
	assert.True(t, testutil.Dec("600").Equal(stored.BalanceDue()))

	rec = s.do(t, http.MethodPost, "/api/credit-memos/"+memo.ID.String()+"/apply", tenant.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "credit_memo_not_draft", decode[apiError](t, rec).Error.Code)

	rec = s.do(t, http.MethodGet, "/api/invoices/"+invoice.ID.String()+"/credit-memos", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[envelope[[]creditmemodomain.CreditMemo]](t, rec).Data, 1)

	rec = s.do(t, http.MethodPost, "/api/credit-memos/"+memo.ID.String()+"/refund", tenant.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_external_payment", decode[apiError](t, rec).Error.Code)

	rec = s.do(t, http.MethodPost, "/api/credit-memos/"+memo.ID.String()+"/void", tenant.ID, map[string]any{"reason": "issued in error"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, creditmemodomain.CreditMemoStatusVoided, decode[envelope[creditmemodomain.CreditMemo]](t, rec).Data.Status)
}

func TestSettingsEndpoints(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)

	rec := s.do(t, http.MethodGet, "/api/settings/invoice", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settings := decode[envelope[settingsdomain.TenantInvoiceSettings]](t, rec).Data
	assert.Equal(t, "INV", settings.InvoicePrefix)

	rec = s.do(t, http.MethodPut, "/api/settings/invoice", tenant.ID, map[string]any{"invoice_prefix": "RS"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "RS", decode[envelope[settingsdomain.TenantInvoiceSettings]](t, rec).Data.InvoicePrefix)

	rec = s.do(t, http.MethodPut, "/api/settings/invoice", tenant.ID, map[string]any{"number_padding": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_number_padding", decode[apiError](t, rec).Error.Errors[0].Code)
}

func TestAuditLogEndpointRecordsActor(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	study := s.h.SeedStudy(t, tenant.ID)

	raw, err := json.Marshal(map[string]any{
		"study_id":   study.ID.String(),
		"line_items": []map[string]any{{"description": "Deposit", "quantity": "1", "unit_price": "500"}},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/invoices", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.HeaderTenant, tenant.ID.String())
	req.Header.Set(server.HeaderActor, "staff-7")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/audit-logs?action=invoice.created", tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	logs := decode[envelope[[]auditdomain.AuditLog]](t, rec).Data
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, "staff-7", *logs[0].ActorID)

	rec = s.do(t, http.MethodGet, "/api/audit-logs?start_at=yesterday", tenant.ID, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_start_at", decode[apiError](t, rec).Error.Errors[0].Code)
}

func TestWebhookEndpointSettlesAndAcknowledgesReplays(t *testing.T) {
	s := newTestServer(t)
	tenant := s.h.SeedTenant(t)
	invoice := s.createInvoice(t, tenant.ID, "1000")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/invoices/"+invoice.ID.String()+"/send", tenant.ID, nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/invoices/"+invoice.ID.String()+"/payment-url", tenant.ID, nil).Code)

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_http_1",
		"object":      "event",
		"type":        "checkout.session.completed",
		"created":     time.Now().Unix(),
		"api_version": "2025-01-27.acacia",
		"data": map[string]any{"object": map[string]any{
			"id":             "cs_test_1",
			"object":         "checkout.session",
			"payment_status": "paid",
			"payment_intent": "pi_http_1",
			"amount_total":   100000,
			"currency":       "usd",
		}},
	})
	require.NoError(t, err)

	post := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set(stripeadapter.SignatureHeader, signature)
		rec := httptest.NewRecorder()
		s.engine.ServeHTTP(rec, req)
		return rec
	}
	signature := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testutil.WebhookSecret,
		Timestamp: time.Now(),
	}).Header

	rec := post(signature)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = post(signature)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post("t=1,v1=deadbeef")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", decode[apiError](t, rec).Error.Errors[0].Code)

	stored, err := s.h.Invoices.Get(testutil.TenantCtx(tenant.ID), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, stored.Status)
}

func TestWebhookEndpointUnknownProvider(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/webhooks/paypal", 0, []byte(`{}`))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "provider_not_found", decode[apiError](t, rec).Error.Code)
}
