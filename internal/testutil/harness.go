package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/reservebill/internal/audit/domain"
	auditrepo "github.com/smallbiznis/reservebill/internal/audit/repository"
	auditservice "github.com/smallbiznis/reservebill/internal/audit/service"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	checkoutservice "github.com/smallbiznis/reservebill/internal/checkout/service"
	"github.com/smallbiznis/reservebill/internal/clock"
	"github.com/smallbiznis/reservebill/internal/config"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	creditmemorepo "github.com/smallbiznis/reservebill/internal/creditmemo/repository"
	creditmemoservice "github.com/smallbiznis/reservebill/internal/creditmemo/service"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/reservebill/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/reservebill/internal/invoice/service"
	milestonedomain "github.com/smallbiznis/reservebill/internal/milestone/domain"
	milestoneservice "github.com/smallbiznis/reservebill/internal/milestone/service"
	numberingdomain "github.com/smallbiznis/reservebill/internal/numbering/domain"
	numberingservice "github.com/smallbiznis/reservebill/internal/numbering/service"
	"github.com/smallbiznis/reservebill/internal/observability/metrics"
	"github.com/smallbiznis/reservebill/internal/payment/adapters"
	stripeadapter "github.com/smallbiznis/reservebill/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/reservebill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/reservebill/internal/payment/service"
	paymentwebhook "github.com/smallbiznis/reservebill/internal/payment/webhook"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	settingsrepo "github.com/smallbiznis/reservebill/internal/settings/repository"
	settingsservice "github.com/smallbiznis/reservebill/internal/settings/service"
	studyrepo "github.com/smallbiznis/reservebill/internal/study/repository"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/reservebill/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/reservebill/internal/tenant/service"
	"github.com/smallbiznis/reservebill/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const WebhookSecret = "whsec_test_secret"

// Epoch is the default fake clock start.
var Epoch = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

// Harness is the full service graph wired with fakes at the edges.
type Harness struct {
	DB       *gorm.DB
	Clock    *clock.FakeClock
	Node     *snowflake.Node
	Log      *zap.Logger
	Metrics  *metrics.BillingMetrics
	Registry *prometheus.Registry

	Gateway  *FakeGateway
	Notifier *FakeNotifier
	Refunder *FakeRefunder
	Locker   *FakeLocker

	Audit      auditdomain.Service
	Settings   settingsdomain.Service
	Numbering  numberingdomain.Service
	Tenants    tenantdomain.Service
	Invoices   invoicedomain.Service
	CreditMemo creditmemodomain.Service
	Checkout   checkoutdomain.Service
	Milestone  milestonedomain.Service
	Payments   paymentdomain.Service
	Webhooks   paymentdomain.WebhookService
}

func NewHarness(t testing.TB) *Harness {
	t.Helper()

	h := &Harness{
		DB:       OpenDB(t),
		Clock:    clock.NewFakeClock(Epoch),
		Node:     NewNode(t),
		Log:      zap.NewNop(),
		Registry: prometheus.NewRegistry(),
		Gateway:  &FakeGateway{},
		Notifier: &FakeNotifier{},
		Refunder: &FakeRefunder{},
		Locker:   &FakeLocker{},
	}
	h.Metrics = metrics.NewBillingMetrics(h.Registry, metrics.Config{ServiceName: "reservebill-test", Environment: "test"})

	cfg := config.Config{Stripe: config.StripeConfig{WebhookSecret: WebhookSecret}}
	billingCfg := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	h.Audit = auditservice.NewService(auditservice.Params{
		DB: h.DB, Log: h.Log, GenID: h.Node, Clock: h.Clock, Repo: auditrepo.Provide(),
	})
	settingsRepository := settingsrepo.Provide()
	h.Settings = settingsservice.NewService(settingsservice.Params{
		DB: h.DB, Log: h.Log, Clock: h.Clock, Repo: settingsRepository,
	})
	h.Numbering = numberingservice.NewService(numberingservice.Params{
		DB: h.DB, Log: h.Log, Clock: h.Clock, Repo: settingsRepository, BillingCfg: billingCfg, Metrics: h.Metrics,
	})
	h.Tenants = tenantservice.NewService(tenantservice.Params{
		Log: h.Log, Clock: h.Clock, Repo: tenantrepo.NewRepository(h.DB),
	})
	h.Invoices = invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:           h.DB,
		Log:          h.Log,
		GenID:        h.Node,
		Clock:        h.Clock,
		Repo:         invoicerepo.Provide(),
		NumberingSvc: h.Numbering,
		SettingsSvc:  h.Settings,
		Directory:    studyrepo.ProvideDirectory(h.DB),
		BillingCfg:   billingCfg,
		Notifier:     h.Notifier,
		AuditSvc:     h.Audit,
	})
	h.CreditMemo = creditmemoservice.NewService(creditmemoservice.Params{
		DB:           h.DB,
		Log:          h.Log,
		GenID:        h.Node,
		Clock:        h.Clock,
		Repo:         creditmemorepo.Provide(),
		InvoiceSvc:   h.Invoices,
		NumberingSvc: h.Numbering,
		TenantSvc:    h.Tenants,
		Refunder:     h.Refunder,
		AuditSvc:     h.Audit,
		BillingCfg:   billingCfg,
	})
	h.Checkout = checkoutservice.NewService(checkoutservice.Params{
		Log:        h.Log,
		Clock:      h.Clock,
		InvoiceSvc: h.Invoices,
		TenantSvc:  h.Tenants,
		Gateway:    h.Gateway,
		BillingCfg: billingCfg,
		Metrics:    h.Metrics,
	})
	h.Milestone = milestoneservice.NewService(milestoneservice.Params{
		Log:         h.Log,
		Cfg:         cfg,
		InvoiceSvc:  h.Invoices,
		SettingsSvc: h.Settings,
		Workflow:    studyrepo.ProvideWorkflow(h.DB),
		Locker:      h.Locker,
		Notifier:    h.Notifier,
		Metrics:     h.Metrics,
	})
	paymentRepository := paymentrepo.Provide()
	h.Payments = paymentservice.NewService(paymentservice.Params{
		DB:           h.DB,
		Log:          h.Log,
		GenID:        h.Node,
		Clock:        h.Clock,
		Repo:         paymentRepository,
		InvoiceSvc:   h.Invoices,
		MilestoneSvc: h.Milestone,
		Notifier:     h.Notifier,
		AuditSvc:     h.Audit,
		Metrics:      h.Metrics,
	})
	h.Webhooks = paymentwebhook.NewService(paymentwebhook.Params{
		DB:          h.DB,
		Log:         h.Log,
		GenID:       h.Node,
		Clock:       h.Clock,
		Repo:        paymentRepository,
		PaymentSvc:  h.Payments,
		Adapters:    adapters.NewRegistry(adapters.SecretsFromConfig(cfg), stripeadapter.NewFactory()),
		CheckoutSvc: h.Checkout,
		TenantSvc:   h.Tenants,
		Metrics:     h.Metrics,
	})
	return h
}

// NewNode returns a snowflake node for ids in tests.
func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new snowflake node: %v", err)
	}
	return node
}

// TenantCtx scopes ctx to tenantID.
func TenantCtx(tenantID snowflake.ID) context.Context {
	return tenantctx.WithTenantID(context.Background(), tenantID)
}

// Dec parses a decimal literal, failing loudly on typos.
func Dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
