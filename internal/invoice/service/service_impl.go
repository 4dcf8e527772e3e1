package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/reservebill/internal/audit/domain"
	"github.com/smallbiznis/reservebill/internal/clock"
	"github.com/smallbiznis/reservebill/internal/config"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/reservebill/internal/notification/domain"
	numberingdomain "github.com/smallbiznis/reservebill/internal/numbering/domain"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	studydomain "github.com/smallbiznis/reservebill/internal/study/domain"
	"github.com/smallbiznis/reservebill/pkg/db"
	"github.com/smallbiznis/reservebill/pkg/money"
	"github.com/smallbiznis/reservebill/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         invoicedomain.Repository
	NumberingSvc numberingdomain.Service
	SettingsSvc  settingsdomain.Service
	Directory    studydomain.Directory
	BillingCfg   *config.BillingConfigHolder `optional:"true"`
	Notifier     notificationdomain.Notifier `optional:"true"`
	AuditSvc     auditdomain.Service         `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo         invoicedomain.Repository
	numberingSvc numberingdomain.Service
	settingsSvc  settingsdomain.Service
	directory    studydomain.Directory
	billingCfg   *config.BillingConfigHolder
	notifier     notificationdomain.Notifier
	auditSvc     auditdomain.Service
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:         p.Repo,
		numberingSvc: p.NumberingSvc,
		settingsSvc:  p.SettingsSvc,
		directory:    p.Directory,
		billingCfg:   p.BillingCfg,
		notifier:     p.Notifier,
		auditSvc:     p.AuditSvc,
	}
}

var maxTaxRate = decimal.NewFromInt(100)

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (*invoicedomain.Invoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.StudyID == 0 {
		return nil, invoicedomain.ErrInvalidStudy
	}
	if req.Milestone != nil && !req.Milestone.Valid() {
		return nil, invoicedomain.ErrInvalidMilestone
	}
	if err := validateLineItems(req.LineItems); err != nil {
		return nil, err
	}

	study, err := s.directory.GetStudy(ctx, tenantID, req.StudyID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup study")
	}
	if study == nil {
		return nil, invoicedomain.ErrStudyNotFound
	}

	settings, err := s.settingsSvc.GetForTenant(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "load invoice settings")
	}

	taxRate := settings.DefaultTaxRate
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(maxTaxRate) {
		return nil, invoicedomain.ErrInvalidTaxRate
	}

	discount := decimal.Zero
	if req.DiscountAmount != nil {
		discount = money.Round(*req.DiscountAmount)
	}
	if discount.IsNegative() {
		return nil, invoicedomain.ErrInvalidDiscount
	}

	totals := invoicedomain.ComputeTotals(req.LineItems, taxRate, discount)
	if totals.Total.IsNegative() {
		return nil, invoicedomain.ErrInvalidDiscount
	}

	now := s.clock.Now()
	invoice := &invoicedomain.Invoice{
		TenantID: tenantID,
		StudyID:  study.ID,
		BillTo: invoicedomain.BillTo{
			Name:    billToName(study),
			Email:   strings.TrimSpace(study.ContactEmail),
			Address: strings.TrimSpace(study.ContactAddress),
		},
		Subtotal:            totals.Subtotal,
		TaxRate:             taxRate,
		TaxAmount:           totals.TaxAmount,
		DiscountAmount:      discount,
		DiscountDescription: strings.TrimSpace(req.DiscountDescription),
		TotalAmount:         totals.Total,
		AmountPaid:          decimal.Zero,
		AmountCredited:      decimal.Zero,
		Currency:            settings.Currency,
		Status:              invoicedomain.InvoiceStatusDraft,
		IssueDate:           now,
		MilestoneType:       req.Milestone,
		PreviousInvoiceID:   req.PreviousInvoiceID,
		Notes:               strings.TrimSpace(req.Notes),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.DueDate != nil {
		due := req.DueDate.UTC()
		invoice.DueDate = &due
	}

	err = numberingdomain.Retry(ctx, s.billingCfg.Get().SequenceMaxRetries, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			number, err := s.numberingSvc.NextNumberTx(ctx, tx, tenantID, numberingdomain.KindInvoice)
			if err != nil {
				return err
			}

			invoice.ID = s.genID.Generate()
			invoice.InvoiceNumber = number
			if err := s.repo.Insert(ctx, tx, invoice); err != nil {
				return err
			}

			lines := s.buildLineItems(tenantID, invoice.ID, req.LineItems, now)
			if err := s.repo.ReplaceLineItems(ctx, tx, invoice.ID, lines); err != nil {
				return err
			}
			invoice.LineItems = lines
			return nil
		})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, invoicedomain.ErrInvoiceNumberInUse
		}
		return nil, err
	}

	s.log.Info("invoice created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("total_amount", invoice.TotalAmount.StringFixed(money.Precision)),
	)
	s.emitAudit(ctx, "invoice.created", invoice, nil)

	if settings.AutoSendOnCreate {
		sent, err := s.MarkSent(ctx, invoice.ID)
		if err != nil {
			s.log.Warn("auto send on create failed",
				zap.String("invoice_id", invoice.ID.String()),
				zap.Error(err),
			)
			return invoice, nil
		}
		return sent, nil
	}
	return invoice, nil
}

func (s *Service) CreateMilestoneInvoice(ctx context.Context, studyID snowflake.ID, milestone invoicedomain.MilestoneType, items []invoicedomain.LineItemInput) (*invoicedomain.Invoice, error) {
	return s.Create(ctx, invoicedomain.CreateInvoiceRequest{
		StudyID:   studyID,
		Milestone: &milestone,
		LineItems: items,
	})
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}

	invoice, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}

	lines, err := s.repo.ListLineItems(ctx, s.db, invoice.ID)
	if err != nil {
		return nil, err
	}
	invoice.LineItems = lines
	return invoice, nil
}

func (s *Service) UpdateLineItems(ctx context.Context, id snowflake.ID, items []invoicedomain.LineItemInput) (*invoicedomain.Invoice, error) {
	if err := validateLineItems(items); err != nil {
		return nil, err
	}

	var updated *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.LockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrInvoiceNotDraft
		}

		totals := invoicedomain.ComputeTotals(items, invoice.TaxRate, invoice.DiscountAmount)
		if totals.Total.IsNegative() {
			return invoicedomain.ErrInvalidDiscount
		}

		now := s.clock.Now()
		invoice.Subtotal = totals.Subtotal
		invoice.TaxAmount = totals.TaxAmount
		invoice.TotalAmount = totals.Total
		invoice.UpdatedAt = now

		lines := s.buildLineItems(invoice.TenantID, invoice.ID, items, now)
		if err := s.repo.ReplaceLineItems(ctx, tx, invoice.ID, lines); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		invoice.LineItems = lines
		updated = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, "invoice.line_items_updated", updated, map[string]any{
		"line_item_count": len(updated.LineItems),
	})
	return updated, nil
}

func (s *Service) MarkSent(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := s.settingsSvc.GetForTenant(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "load invoice settings")
	}

	var (
		sent           *invoicedomain.Invoice
		previousStatus invoicedomain.InvoiceStatus
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.LockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		switch invoice.Status {
		case invoicedomain.InvoiceStatusPaid:
			return invoicedomain.ErrInvoiceAlreadyPaid
		case invoicedomain.InvoiceStatusVoided:
			return invoicedomain.ErrInvoiceVoided
		}

		now := s.clock.Now()
		previousStatus = invoice.Status
		if invoice.SentAt == nil {
			invoice.SentAt = &now
		}
		if invoice.DueDate == nil {
			due := now.AddDate(0, 0, settings.DefaultPaymentTermsDays)
			invoice.DueDate = &due
		}
		invoicedomain.ApplyStatus(invoice, now)
		invoice.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		sent = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.ListLineItems(ctx, s.db, sent.ID)
	if err == nil {
		sent.LineItems = lines
	}

	s.emitAudit(ctx, "invoice.sent", sent, map[string]any{
		"previous_status": string(previousStatus),
	})
	if s.notifier != nil {
		if err := s.notifier.SendInvoice(ctx, sent); err != nil {
			s.log.Warn("send invoice notification failed",
				zap.String("invoice_id", sent.ID.String()),
				zap.Error(err),
			)
		}
	}
	return sent, nil
}

func (s *Service) RecordPayment(ctx context.Context, req invoicedomain.RecordPaymentRequest) (*invoicedomain.Invoice, error) {
	var updated *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.RecordPaymentTx(ctx, tx, req)
		if err != nil {
			return err
		}
		updated = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, "invoice.payment_recorded", updated, map[string]any{
		"amount": money.Round(req.Amount).StringFixed(money.Precision),
		"source": string(req.Source),
	})
	return updated, nil
}

func (s *Service) RecordPaymentTx(ctx context.Context, tx *gorm.DB, req invoicedomain.RecordPaymentRequest) (*invoicedomain.Invoice, error) {
	if req.InvoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	amount := money.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, invoicedomain.ErrInvalidAmount
	}

	invoice, err := s.LockForUpdate(ctx, tx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	gateway := req.Source == invoicedomain.PaymentSourceGateway
	closed := invoice.Status == invoicedomain.InvoiceStatusVoided || invoice.Status == invoicedomain.InvoiceStatusPaid
	switch {
	case closed && gateway:
		// Captured gateway money lands on a closed invoice as overpayment.
		s.log.Warn("gateway payment on closed invoice",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("status", string(invoice.Status)),
			zap.String("amount", amount.StringFixed(money.Precision)),
		)
	case invoice.Status == invoicedomain.InvoiceStatusVoided:
		return nil, invoicedomain.ErrInvoiceVoided
	case invoice.Status == invoicedomain.InvoiceStatusPaid:
		return nil, invoicedomain.ErrInvoiceAlreadyPaid
	}

	now := s.clock.Now()
	invoice.AmountPaid = invoice.AmountPaid.Add(amount)
	// PaymentReference holds gateway references only; refunds go through it.
	if reference := strings.TrimSpace(req.Reference); reference != "" && gateway {
		invoice.PaymentReference = &reference
	}
	if invoice.BalanceDue().IsNegative() && invoice.OverpaidAt == nil {
		invoice.OverpaidAt = &now
		s.log.Warn("invoice overpaid",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("amount_paid", invoice.AmountPaid.StringFixed(money.Precision)),
			zap.String("total_amount", invoice.TotalAmount.StringFixed(money.Precision)),
			zap.String("source", string(req.Source)),
		)
	}
	invoicedomain.ApplyStatus(invoice, now)
	clearSessionWhenPaid(invoice)
	invoice.UpdatedAt = now

	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) Void(ctx context.Context, id snowflake.ID, reason string) (*invoicedomain.Invoice, error) {
	reason = strings.TrimSpace(reason)

	var (
		voided         *invoicedomain.Invoice
		previousStatus invoicedomain.InvoiceStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.LockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		switch invoice.Status {
		case invoicedomain.InvoiceStatusVoided:
			return invoicedomain.ErrInvoiceVoided
		case invoicedomain.InvoiceStatusPaid:
			return invoicedomain.ErrInvoiceNotVoidable
		}

		now := s.clock.Now()
		previousStatus = invoice.Status
		invoice.Status = invoicedomain.InvoiceStatusVoided
		invoice.VoidedAt = &now
		if reason != "" {
			invoice.VoidReason = &reason
		}
		clearSession(invoice)
		invoice.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		voided = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"previous_status": string(previousStatus),
	}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.emitAudit(ctx, "invoice.voided", voided, metadata)
	return voided, nil
}

func (s *Service) LockForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}

	invoice, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) FindByCheckoutSession(ctx context.Context, tx *gorm.DB, sessionID string) (*invoicedomain.Invoice, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil
	}
	return s.repo.FindByCheckoutSessionForUpdate(ctx, tx, sessionID)
}

func (s *Service) ExistsForMilestone(ctx context.Context, tenantID, studyID snowflake.ID, milestone invoicedomain.MilestoneType) (bool, error) {
	return s.repo.ExistsForMilestone(ctx, s.db, tenantID, studyID, milestone)
}

func (s *Service) SetCheckoutSession(ctx context.Context, id snowflake.ID, session invoicedomain.CheckoutSession, expectedSessionID *string) (bool, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return false, err
	}
	return s.repo.SetCheckoutSession(ctx, s.db, tenantID, id, session, expectedSessionID, s.clock.Now())
}

func (s *Service) ClearCheckoutSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	return s.repo.ClearCheckoutSession(ctx, s.db, sessionID, s.clock.Now())
}

func (s *Service) RecomputeCredits(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.LockForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	amounts, err := s.repo.AppliedCreditAmounts(ctx, tx, invoice.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	invoice.AmountCredited = money.Sum(amounts...)
	invoicedomain.ApplyStatus(invoice, now)
	clearSessionWhenPaid(invoice)
	invoice.UpdatedAt = now

	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// clearSessionWhenPaid drops the cached checkout session once nothing is
// due, so the pay link stops offering a settled invoice.
func clearSessionWhenPaid(invoice *invoicedomain.Invoice) {
	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		clearSession(invoice)
	}
}

func clearSession(invoice *invoicedomain.Invoice) {
	invoice.CheckoutSessionID = nil
	invoice.CheckoutSessionURL = nil
	invoice.CheckoutSessionExpiresAt = nil
}

func (s *Service) buildLineItems(tenantID, invoiceID snowflake.ID, items []invoicedomain.LineItemInput, now time.Time) []invoicedomain.LineItem {
	lines := make([]invoicedomain.LineItem, 0, len(items))
	for i, item := range items {
		lines = append(lines, invoicedomain.LineItem{
			ID:          s.genID.Generate(),
			TenantID:    tenantID,
			InvoiceID:   invoiceID,
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   money.Round(item.UnitPrice),
			Amount:      item.Amount(),
			Position:    i + 1,
			CreatedAt:   now,
		})
	}
	return lines
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"study_id":       invoice.StudyID.String(),
		"status":         string(invoice.Status),
		"total_amount":   invoice.TotalAmount.StringFixed(money.Precision),
		"balance_due":    invoice.BalanceDue().StringFixed(money.Precision),
	}
	if invoice.HasMilestone() {
		metadata["milestone_type"] = string(*invoice.MilestoneType)
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := invoice.ID.String()
	tenantID := invoice.TenantID
	_ = s.auditSvc.AuditLog(ctx, &tenantID, "", nil, action, "invoice", &targetID, metadata)
}

func (s *Service) tenantIDFromContext(ctx context.Context) (snowflake.ID, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return 0, invoicedomain.ErrInvalidTenant
	}
	return tenantID, nil
}

func validateLineItems(items []invoicedomain.LineItemInput) error {
	if len(items) == 0 {
		return invoicedomain.ErrInvalidLineItems
	}
	for _, item := range items {
		if strings.TrimSpace(item.Description) == "" {
			return errors.Wrap(invoicedomain.ErrInvalidLineItems, "description is required")
		}
		if !item.Quantity.IsPositive() {
			return errors.Wrap(invoicedomain.ErrInvalidLineItems, "quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return errors.Wrap(invoicedomain.ErrInvalidLineItems, "unit price cannot be negative")
		}
	}
	return nil
}

func billToName(study *studydomain.Study) string {
	if name := strings.TrimSpace(study.ContactName); name != "" {
		return name
	}
	return strings.TrimSpace(study.Name)
}
