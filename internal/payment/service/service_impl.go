package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	auditdomain "github.com/smallbiznis/reservebill/internal/audit/domain"
	"github.com/smallbiznis/reservebill/internal/audit/masking"
	"github.com/smallbiznis/reservebill/internal/clock"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	milestonedomain "github.com/smallbiznis/reservebill/internal/milestone/domain"
	notificationdomain "github.com/smallbiznis/reservebill/internal/notification/domain"
	"github.com/smallbiznis/reservebill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	"github.com/smallbiznis/reservebill/pkg/db"
	"github.com/smallbiznis/reservebill/pkg/money"
	"github.com/smallbiznis/reservebill/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         paymentdomain.Repository
	InvoiceSvc   invoicedomain.Service
	MilestoneSvc milestonedomain.Service     `optional:"true"`
	Notifier     notificationdomain.Notifier `optional:"true"`
	AuditSvc     auditdomain.Service         `optional:"true"`
	Metrics      *metrics.BillingMetrics     `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         paymentdomain.Repository
	invoiceSvc   invoicedomain.Service
	milestoneSvc milestonedomain.Service
	notifier     notificationdomain.Notifier
	auditSvc     auditdomain.Service
	metrics      *metrics.BillingMetrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		invoiceSvc:   p.InvoiceSvc,
		milestoneSvc: p.MilestoneSvc,
		notifier:     p.Notifier,
		auditSvc:     p.AuditSvc,
		metrics:      p.Metrics,
	}
}

func (s *Service) OnPaymentSucceeded(ctx context.Context, event paymentdomain.PaymentSucceeded) (*paymentdomain.Settlement, error) {
	event.SessionID = strings.TrimSpace(event.SessionID)
	event.PaymentReference = strings.TrimSpace(event.PaymentReference)
	if event.SessionID == "" || event.PaymentReference == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if event.AmountMinor <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	amount := money.FromMinorUnits(event.AmountMinor)
	now := s.clock.Now()

	var settlement *paymentdomain.Settlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceForPayment(ctx, tx, event)
		if err != nil {
			return err
		}
		if invoice == nil {
			return nil
		}
		ctx = tenantctx.WithTenantID(ctx, invoice.TenantID)

		if event.Currency != "" && !strings.EqualFold(event.Currency, invoice.Currency) {
			s.log.Warn("payment currency differs from invoice currency",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("payment_currency", event.Currency),
				zap.String("invoice_currency", invoice.Currency),
			)
		}

		reference := event.PaymentReference
		sessionID := event.SessionID
		record := &paymentdomain.PaymentRecord{
			ID:                s.genID.Generate(),
			TenantID:          invoice.TenantID,
			InvoiceID:         invoice.ID,
			Amount:            amount,
			PaymentDate:       now,
			Method:            paymentdomain.MethodCard,
			ExternalReference: &reference,
			CheckoutSessionID: &sessionID,
			IsAutomatic:       true,
			CreatedAt:         now,
		}
		inserted, err := s.repo.InsertPayment(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			return paymentdomain.ErrPaymentAlreadyRecorded
		}

		updated, err := s.invoiceSvc.RecordPaymentTx(ctx, tx, invoicedomain.RecordPaymentRequest{
			InvoiceID: invoice.ID,
			Amount:    amount,
			Source:    invoicedomain.PaymentSourceGateway,
			Reference: reference,
		})
		if err != nil {
			return err
		}

		settlement = &paymentdomain.Settlement{Invoice: updated, Payment: record}
		return nil
	})
	if err != nil {
		if errors.Is(err, paymentdomain.ErrPaymentAlreadyRecorded) {
			s.metrics.RecordPaymentDuplicate()
			s.log.Info("duplicate payment confirmation ignored",
				zap.String("session_id", event.SessionID),
				zap.String("payment_reference", masking.MaskSecret(event.PaymentReference)),
			)
		} else {
			s.metrics.RecordSettlementError(err)
		}
		return nil, err
	}
	if settlement == nil {
		s.log.Info("payment confirmation matched no invoice",
			zap.String("session_id", event.SessionID),
			zap.String("payment_reference", masking.MaskSecret(event.PaymentReference)),
		)
		return nil, nil
	}

	ctx = tenantctx.WithTenantID(ctx, settlement.Invoice.TenantID)
	s.afterSettlement(ctx, settlement, invoicedomain.PaymentSourceGateway)
	return settlement, nil
}

// invoiceForPayment locks the invoice a confirmation settles. The cached
// session is gone once an invoice is paid or voided, so the ids from the
// session metadata are tried next.
func (s *Service) invoiceForPayment(ctx context.Context, tx *gorm.DB, event paymentdomain.PaymentSucceeded) (*invoicedomain.Invoice, error) {
	invoice, err := s.invoiceSvc.FindByCheckoutSession(ctx, tx, event.SessionID)
	if err != nil || invoice != nil {
		return invoice, err
	}
	if event.InvoiceID == 0 || event.TenantID == 0 {
		return nil, nil
	}

	invoice, err = s.invoiceSvc.LockForUpdate(tenantctx.WithTenantID(ctx, event.TenantID), tx, event.InvoiceID)
	if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
		return nil, nil
	}
	return invoice, err
}

func (s *Service) RecordManualPayment(ctx context.Context, req paymentdomain.ManualPaymentRequest) (*paymentdomain.Settlement, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, invoicedomain.ErrInvalidTenant
	}
	if req.InvoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	amount := money.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if req.Method == "" {
		req.Method = paymentdomain.MethodOther
	}
	if !req.Method.Valid() {
		return nil, paymentdomain.ErrInvalidMethod
	}

	var reference *string
	if req.Reference != nil {
		if trimmed := strings.TrimSpace(*req.Reference); trimmed != "" {
			reference = &trimmed
		}
	}

	now := s.clock.Now()
	paymentDate := now
	if req.Date != nil && !req.Date.IsZero() {
		paymentDate = req.Date.UTC()
	}

	var settlement *paymentdomain.Settlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.invoiceSvc.RecordPaymentTx(ctx, tx, invoicedomain.RecordPaymentRequest{
			InvoiceID: req.InvoiceID,
			Amount:    amount,
			Source:    invoicedomain.PaymentSourceManual,
		})
		if err != nil {
			return err
		}

		record := &paymentdomain.PaymentRecord{
			ID:                s.genID.Generate(),
			TenantID:          tenantID,
			InvoiceID:         updated.ID,
			Amount:            amount,
			PaymentDate:       paymentDate,
			Method:            req.Method,
			ExternalReference: reference,
			IsAutomatic:       false,
			Note:              strings.TrimSpace(req.Note),
			CreatedAt:         now,
		}
		inserted, err := s.repo.InsertPayment(ctx, tx, record)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrPaymentAlreadyRecorded
			}
			return err
		}
		if !inserted {
			return paymentdomain.ErrPaymentAlreadyRecorded
		}

		settlement = &paymentdomain.Settlement{Invoice: updated, Payment: record}
		return nil
	})
	if err != nil {
		s.metrics.RecordSettlementError(err)
		return nil, err
	}

	s.afterSettlement(ctx, settlement, invoicedomain.PaymentSourceManual)
	return settlement, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.PaymentRecord, error) {
	invoice, err := s.invoiceSvc.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByInvoice(ctx, s.db, invoice.TenantID, invoice.ID)
}

// afterSettlement runs the best-effort follow-ups of a committed payment.
func (s *Service) afterSettlement(ctx context.Context, settlement *paymentdomain.Settlement, source invoicedomain.PaymentSource) {
	invoice := settlement.Invoice
	payment := settlement.Payment

	s.metrics.RecordPaymentSettled(string(source))
	s.log.Info("payment recorded",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("payment_id", payment.ID.String()),
		zap.String("amount", payment.Amount.StringFixed(money.Precision)),
		zap.String("status", string(invoice.Status)),
		zap.String("source", string(source)),
	)

	s.emitAudit(ctx, invoice, payment, source)

	if s.notifier != nil {
		if err := s.notifier.SendReceipt(ctx, invoice, payment.Amount, deref(payment.ExternalReference)); err != nil {
			s.log.Warn("failed to send payment receipt",
				zap.String("invoice_id", invoice.ID.String()),
				zap.Error(err),
			)
		}
	}

	if s.milestoneSvc != nil && invoice.Status == invoicedomain.InvoiceStatusPaid && invoice.HasMilestone() {
		s.milestoneSvc.TryGenerateNextMilestone(ctx, invoice)
	}
}

func (s *Service) emitAudit(ctx context.Context, invoice *invoicedomain.Invoice, payment *paymentdomain.PaymentRecord, source invoicedomain.PaymentSource) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"invoice_id":        invoice.ID.String(),
		"invoice_number":    invoice.InvoiceNumber,
		"amount":            payment.Amount.StringFixed(money.Precision),
		"method":            string(payment.Method),
		"source":            string(source),
		"status":            string(invoice.Status),
		"balance_due":       invoice.BalanceDue().StringFixed(money.Precision),
		"payment_reference": deref(payment.ExternalReference),
	}

	// Manual entries take the actor from the request context.
	actorType := ""
	if payment.IsAutomatic {
		actorType = string(auditdomain.ActorTypeGateway)
	}
	tenantID := invoice.TenantID
	targetID := payment.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &tenantID, actorType, nil, "payment.recorded", "payment", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.Error(err))
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
