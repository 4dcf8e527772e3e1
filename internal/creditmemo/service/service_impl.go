package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/reservebill/internal/audit/domain"
	"github.com/smallbiznis/reservebill/internal/clock"
	"github.com/smallbiznis/reservebill/internal/config"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	numberingdomain "github.com/smallbiznis/reservebill/internal/numbering/domain"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
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
	Repo         creditmemodomain.Repository
	InvoiceSvc   invoicedomain.Service
	NumberingSvc numberingdomain.Service
	TenantSvc    tenantdomain.Service        `optional:"true"`
	Refunder     creditmemodomain.Refunder   `optional:"true"`
	AuditSvc     auditdomain.Service         `optional:"true"`
	BillingCfg   *config.BillingConfigHolder `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo         creditmemodomain.Repository
	invoiceSvc   invoicedomain.Service
	numberingSvc numberingdomain.Service
	tenantSvc    tenantdomain.Service
	refunder     creditmemodomain.Refunder
	auditSvc     auditdomain.Service
	billingCfg   *config.BillingConfigHolder
}

func NewService(p Params) creditmemodomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("creditmemo.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:         p.Repo,
		invoiceSvc:   p.InvoiceSvc,
		numberingSvc: p.NumberingSvc,
		tenantSvc:    p.TenantSvc,
		refunder:     p.Refunder,
		auditSvc:     p.AuditSvc,
		billingCfg:   p.BillingCfg,
	}
}

func (s *Service) Create(ctx context.Context, req creditmemodomain.CreateCreditMemoRequest) (*creditmemodomain.CreditMemo, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.InvoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	amount := money.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, creditmemodomain.ErrInvalidAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, creditmemodomain.ErrInvalidReason
	}

	var memo *creditmemodomain.CreditMemo
	err = numberingdomain.Retry(ctx, s.billingCfg.Get().SequenceMaxRetries, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoice, err := s.invoiceSvc.LockForUpdate(ctx, tx, req.InvoiceID)
			if err != nil {
				return err
			}
			if invoice.Status == invoicedomain.InvoiceStatusVoided {
				return creditmemodomain.ErrInvoiceNotCreditable
			}
			if amount.GreaterThan(invoice.BalanceDue()) {
				return creditmemodomain.ErrCreditExceedsBalance
			}

			number, err := s.numberingSvc.NextNumberTx(ctx, tx, tenantID, numberingdomain.KindCreditMemo)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			memo = &creditmemodomain.CreditMemo{
				ID:               s.genID.Generate(),
				TenantID:         tenantID,
				CreditMemoNumber: number,
				InvoiceID:        invoice.ID,
				Amount:           amount,
				IssueDate:        now,
				Reason:           reason,
				BillTo:           invoice.BillTo,
				Status:           creditmemodomain.CreditMemoStatusDraft,
				IsRefund:         req.IsRefund,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			return s.repo.Insert(ctx, tx, memo)
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("credit memo created",
		zap.String("credit_memo_id", memo.ID.String()),
		zap.String("credit_memo_number", memo.CreditMemoNumber),
		zap.String("invoice_id", memo.InvoiceID.String()),
	)
	s.emitAudit(ctx, "credit_memo.created", memo, nil)
	return memo, nil
}

func (s *Service) Apply(ctx context.Context, id snowflake.ID, appliedBy string) (*creditmemodomain.CreditMemo, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	appliedBy = strings.TrimSpace(appliedBy)

	var (
		memo    *creditmemodomain.CreditMemo
		balance decimal.Decimal
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockMemo(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if locked.Status != creditmemodomain.CreditMemoStatusDraft {
			return creditmemodomain.ErrCreditMemoNotDraft
		}

		invoice, err := s.invoiceSvc.LockForUpdate(ctx, tx, locked.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.Status == invoicedomain.InvoiceStatusVoided {
			return creditmemodomain.ErrInvoiceNotCreditable
		}
		if locked.Amount.GreaterThan(invoice.BalanceDue()) {
			return creditmemodomain.ErrCreditExceedsBalance
		}

		now := s.clock.Now()
		locked.Status = creditmemodomain.CreditMemoStatusApplied
		locked.AppliedAt = &now
		if appliedBy != "" {
			locked.AppliedBy = &appliedBy
		}
		locked.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, locked); err != nil {
			return err
		}

		updated, err := s.invoiceSvc.RecomputeCredits(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		memo = locked
		balance = updated.BalanceDue()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, "credit_memo.applied", memo, map[string]any{
		"invoice_balance_due": balance.StringFixed(money.Precision),
	})
	return memo, nil
}

func (s *Service) Void(ctx context.Context, id snowflake.ID, reason string) (*creditmemodomain.CreditMemo, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	var (
		memo       *creditmemodomain.CreditMemo
		wasApplied bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockMemo(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if locked.Status == creditmemodomain.CreditMemoStatusVoided {
			return creditmemodomain.ErrCreditMemoVoided
		}
		if locked.RefundedAt != nil {
			return creditmemodomain.ErrCreditMemoRefunded
		}

		wasApplied = locked.Status == creditmemodomain.CreditMemoStatusApplied
		if wasApplied {
			// Lock order matches Apply: memo, then invoice.
			if _, err := s.invoiceSvc.LockForUpdate(ctx, tx, locked.InvoiceID); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		locked.Status = creditmemodomain.CreditMemoStatusVoided
		locked.VoidedAt = &now
		if reason != "" {
			locked.VoidReason = &reason
		}
		locked.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, locked); err != nil {
			return err
		}

		if wasApplied {
			if _, err := s.invoiceSvc.RecomputeCredits(ctx, tx, locked.InvoiceID); err != nil {
				return err
			}
		}
		memo = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, "credit_memo.voided", memo, map[string]any{
		"was_applied": wasApplied,
		"reason":      reason,
	})
	return memo, nil
}

func (s *Service) ProcessRefund(ctx context.Context, id snowflake.ID) (*creditmemodomain.CreditMemo, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var (
		memo      *creditmemodomain.CreditMemo
		reference string
		currency  string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockMemo(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if locked.Status != creditmemodomain.CreditMemoStatusApplied {
			return creditmemodomain.ErrCreditMemoNotApplied
		}
		if locked.RefundedAt != nil {
			return creditmemodomain.ErrCreditMemoRefunded
		}

		invoice, err := s.invoiceSvc.LockForUpdate(ctx, tx, locked.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.PaymentReference == nil || strings.TrimSpace(*invoice.PaymentReference) == "" {
			return creditmemodomain.ErrNoExternalPayment
		}

		now := s.clock.Now()
		locked.IsRefund = true
		locked.RefundedAt = &now
		locked.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, locked); err != nil {
			return err
		}

		memo = locked
		reference = strings.TrimSpace(*invoice.PaymentReference)
		currency = invoice.Currency
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, "credit_memo.refund_marked", memo, nil)
	s.requestRefund(ctx, memo, reference, currency)
	return memo, nil
}

func (s *Service) requestRefund(ctx context.Context, memo *creditmemodomain.CreditMemo, reference, currency string) {
	if s.refunder == nil {
		s.log.Warn("no refunder configured, refund left for manual processing",
			zap.String("credit_memo_id", memo.ID.String()),
		)
		return
	}

	req := creditmemodomain.RefundRequest{
		TenantID:         memo.TenantID,
		PaymentReference: reference,
		AmountMinor:      money.ToMinorUnits(memo.Amount),
		Currency:         currency,
		IdempotencyKey:   "credit_memo_refund_" + memo.ID.String(),
	}
	if s.tenantSvc != nil {
		tenant, err := s.tenantSvc.Get(ctx, memo.TenantID)
		if err != nil {
			s.log.Warn("tenant lookup for refund routing failed",
				zap.String("tenant_id", memo.TenantID.String()),
				zap.Error(err),
			)
		} else if account, ok := tenant.MarketplaceAccount(); ok {
			req.ConnectedAccount = account
		}
	}

	refundID, err := s.refunder.Refund(ctx, req)
	if err != nil {
		s.log.Warn("gateway refund failed",
			zap.String("credit_memo_id", memo.ID.String()),
			zap.Int64("amount_minor", req.AmountMinor),
			zap.Error(err),
		)
		return
	}
	s.log.Info("gateway refund issued",
		zap.String("credit_memo_id", memo.ID.String()),
		zap.String("refund_id", refundID),
	)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*creditmemodomain.CreditMemo, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, creditmemodomain.ErrInvalidCreditMemoID
	}
	memo, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if memo == nil {
		return nil, creditmemodomain.ErrCreditMemoNotFound
	}
	return memo, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]creditmemodomain.CreditMemo, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if invoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	return s.repo.ListByInvoice(ctx, s.db, tenantID, invoiceID)
}

func (s *Service) lockMemo(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*creditmemodomain.CreditMemo, error) {
	if id == 0 {
		return nil, creditmemodomain.ErrInvalidCreditMemoID
	}
	memo, err := s.repo.FindByIDForUpdate(ctx, tx, tenantID, id)
	if err != nil {
		return nil, errors.Wrap(err, "lock credit memo")
	}
	if memo == nil {
		return nil, creditmemodomain.ErrCreditMemoNotFound
	}
	return memo, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, memo *creditmemodomain.CreditMemo, extra map[string]any) {
	if s.auditSvc == nil || memo == nil {
		return
	}
	metadata := map[string]any{
		"credit_memo_number": memo.CreditMemoNumber,
		"invoice_id":         memo.InvoiceID.String(),
		"amount":             memo.Amount.StringFixed(money.Precision),
		"status":             string(memo.Status),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := memo.ID.String()
	tenantID := memo.TenantID
	_ = s.auditSvc.AuditLog(ctx, &tenantID, "", nil, action, "credit_memo", &targetID, metadata)
}

func (s *Service) tenantIDFromContext(ctx context.Context) (snowflake.ID, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return 0, creditmemodomain.ErrInvalidTenant
	}
	return tenantID, nil
}
