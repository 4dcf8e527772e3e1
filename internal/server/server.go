package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/reservebill/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	"github.com/smallbiznis/reservebill/internal/config"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	"github.com/smallbiznis/reservebill/internal/observability"
	obsmiddleware "github.com/smallbiznis/reservebill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/reservebill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/reservebill/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	"github.com/smallbiznis/reservebill/internal/ratelimit"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the gin engine and the Server and runs the listener.
// Binaries decide which route groups to register.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	invoiceSvc    invoicedomain.Service
	creditMemoSvc creditmemodomain.Service
	checkoutSvc   checkoutdomain.Service
	paymentSvc    paymentdomain.Service
	webhookSvc    paymentdomain.WebhookService
	settingsSvc   settingsdomain.Service
	auditSvc      auditdomain.Service
	checkoutLimit *ratelimit.PublicCheckoutLimiter
	metrics       *obsmetrics.BillingMetrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	WebhookSvc paymentdomain.WebhookService

	CreditMemoSvc creditmemodomain.Service         `optional:"true"`
	CheckoutSvc   checkoutdomain.Service           `optional:"true"`
	PaymentSvc    paymentdomain.Service            `optional:"true"`
	SettingsSvc   settingsdomain.Service           `optional:"true"`
	AuditSvc      auditdomain.Service              `optional:"true"`
	CheckoutLimit *ratelimit.PublicCheckoutLimiter `optional:"true"`
	Metrics       *obsmetrics.BillingMetrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		invoiceSvc:    p.InvoiceSvc,
		creditMemoSvc: p.CreditMemoSvc,
		checkoutSvc:   p.CheckoutSvc,
		paymentSvc:    p.PaymentSvc,
		webhookSvc:    p.WebhookSvc,
		settingsSvc:   p.SettingsSvc,
		auditSvc:      p.AuditSvc,
		checkoutLimit: p.CheckoutLimit,
		metrics:       p.Metrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// RegisterAPIRoutes mounts the tenant-scoped staff API.
func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api", TenantContext(), ActorContext())

	invoices := api.Group("/invoices")
	{
		invoices.POST("", s.CreateInvoice)
		invoices.GET("", s.ListInvoices)
		invoices.GET("/:id", s.GetInvoiceByID)
		invoices.PUT("/:id/line-items", s.UpdateInvoiceLineItems)
		invoices.POST("/:id/send", s.SendInvoice)
		invoices.POST("/:id/void", s.VoidInvoice)
		invoices.POST("/:id/payments", s.RecordManualPayment)
		invoices.GET("/:id/payments", s.ListInvoicePayments)
		invoices.GET("/:id/credit-memos", s.ListInvoiceCreditMemos)
		invoices.POST("/:id/payment-url", s.CreateInvoicePaymentURL)
	}

	creditMemos := api.Group("/credit-memos")
	{
		creditMemos.POST("", s.CreateCreditMemo)
		creditMemos.GET("/:id", s.GetCreditMemo)
		creditMemos.POST("/:id/apply", s.ApplyCreditMemo)
		creditMemos.POST("/:id/void", s.VoidCreditMemo)
		creditMemos.POST("/:id/refund", s.RefundCreditMemo)
	}

	api.GET("/settings/invoice", s.GetInvoiceSettings)
	api.PUT("/settings/invoice", s.UpdateInvoiceSettings)

	api.GET("/audit-logs", s.ListAuditLogs)
}

// RegisterWebhookRoutes mounts the gateway callbacks. They carry no tenant
// header; the adapter verifies the signature instead.
func (s *Server) RegisterWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

// RegisterPublicRoutes mounts the unauthenticated payment-link endpoint.
func (s *Server) RegisterPublicRoutes() {
	public := s.engine.Group("/public", TenantContext())
	public.POST("/invoices/:id/checkout", s.PublicCheckout)
}

// RegisterFallback answers unknown routes with the JSON error shape.
func (s *Server) RegisterFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrRouteNotFound)
	})
}
