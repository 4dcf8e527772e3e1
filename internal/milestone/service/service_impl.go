package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/smallbiznis/reservebill/internal/config"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	milestonedomain "github.com/smallbiznis/reservebill/internal/milestone/domain"
	notificationdomain "github.com/smallbiznis/reservebill/internal/notification/domain"
	"github.com/smallbiznis/reservebill/internal/observability/metrics"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	studydomain "github.com/smallbiznis/reservebill/internal/study/domain"
	"github.com/smallbiznis/reservebill/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyMilestoneLock   = "milestone:%s:%s:%s"
	defaultLockTimeout = 30 * time.Second
)

var errNoScheduledLines = errors.New("no_scheduled_lines")

type Params struct {
	fx.In

	Log         *zap.Logger
	Cfg         config.Config
	InvoiceSvc  invoicedomain.Service
	SettingsSvc settingsdomain.Service
	Workflow    studydomain.Workflow
	Locker      milestonedomain.Locker      `optional:"true"`
	Notifier    notificationdomain.Notifier `optional:"true"`
	Metrics     *metrics.BillingMetrics     `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	lockTTL     time.Duration
	invoiceSvc  invoicedomain.Service
	settingsSvc settingsdomain.Service
	workflow    studydomain.Workflow
	locker      milestonedomain.Locker
	notifier    notificationdomain.Notifier
	metrics     *metrics.BillingMetrics
}

func NewService(p Params) milestonedomain.Service {
	lockTTL := time.Duration(p.Cfg.RateLimit.MilestoneLockTTL) * time.Second
	if lockTTL <= 0 {
		lockTTL = defaultLockTimeout
	}
	return &Service{
		log:         p.Log.Named("milestone.service"),
		lockTTL:     lockTTL,
		invoiceSvc:  p.InvoiceSvc,
		settingsSvc: p.SettingsSvc,
		workflow:    p.Workflow,
		locker:      p.Locker,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
	}
}

func (s *Service) TryGenerateNextMilestone(ctx context.Context, paid *invoicedomain.Invoice) *invoicedomain.Invoice {
	if paid == nil || !paid.HasMilestone() || paid.Status != invoicedomain.InvoiceStatusPaid {
		return nil
	}
	next, ok := milestonedomain.NextMilestone(*paid.MilestoneType)
	if !ok {
		return nil
	}

	log := s.log.With(
		zap.String("tenant_id", paid.TenantID.String()),
		zap.String("study_id", paid.StudyID.String()),
		zap.String("paid_invoice_id", paid.ID.String()),
		zap.String("next_milestone", string(next)),
	)
	ctx = tenantctx.WithTenantID(ctx, paid.TenantID)

	settings, err := s.settingsSvc.GetForTenant(ctx, paid.TenantID)
	if err != nil {
		log.Warn("load invoice settings failed", zap.Error(err))
		s.metrics.RecordMilestoneInvoice(string(next), metrics.MilestoneResultFailed)
		return nil
	}
	if !settings.AutoGenerateNextMilestone {
		return nil
	}

	if s.locker != nil {
		release, acquired, err := s.locker.Acquire(ctx, lockKey(paid.TenantID, paid.StudyID, next), s.lockTTL)
		if err != nil {
			log.Warn("acquire milestone lock failed", zap.Error(err))
			s.metrics.RecordMilestoneInvoice(string(next), metrics.MilestoneResultFailed)
			return nil
		}
		if !acquired {
			log.Info("milestone generation already in progress")
			s.metrics.RecordMilestoneInvoice(string(next), metrics.MilestoneResultSkipped)
			return nil
		}
		defer release()
	}

	created, err := s.generate(ctx, paid, next)
	switch {
	case err == nil && created == nil:
		log.Info("next milestone invoice already exists")
		s.metrics.RecordMilestoneInvoice(string(next), metrics.MilestoneResultSkipped)
		return nil
	case errors.Is(err, errNoScheduledLines):
		log.Info("no scheduled lines for next milestone")
		s.metrics.RecordMilestoneInvoice(string(next), metrics.MilestoneResultSkipped)
		return nil
	case err != nil:
		log.Warn("generate next milestone invoice failed", zap.Error(err))
		s.metrics.RecordMilestoneInvoice(string(next), metrics.MilestoneResultFailed)
		return nil
	}

	log.Info("next milestone invoice generated",
		zap.String("invoice_id", created.ID.String()),
		zap.String("invoice_number", created.InvoiceNumber),
	)
	s.metrics.RecordMilestoneInvoice(string(next), metrics.MilestoneResultGenerated)

	if settings.NotifyOnAutoGenerate && s.notifier != nil {
		if err := s.notifier.SendAutoGeneratedNotice(ctx, created, paid); err != nil {
			log.Warn("send auto generated notice failed",
				zap.String("invoice_id", created.ID.String()),
				zap.Error(err),
			)
		}
	}
	return created
}

// generate returns nil without error when the successor already exists.
func (s *Service) generate(ctx context.Context, paid *invoicedomain.Invoice, next invoicedomain.MilestoneType) (*invoicedomain.Invoice, error) {
	exists, err := s.invoiceSvc.ExistsForMilestone(ctx, paid.TenantID, paid.StudyID, next)
	if err != nil {
		return nil, errors.Wrap(err, "check existing milestone invoice")
	}
	if exists {
		return nil, nil
	}

	scheduled, err := s.workflow.NextMilestoneLineItems(ctx, paid.TenantID, paid.StudyID, string(next))
	if err != nil {
		return nil, errors.Wrap(err, "load milestone schedule")
	}
	if len(scheduled) == 0 {
		return nil, errNoScheduledLines
	}

	previousID := paid.ID
	return s.invoiceSvc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		StudyID:           paid.StudyID,
		Milestone:         &next,
		LineItems:         toLineItems(scheduled),
		PreviousInvoiceID: &previousID,
	})
}

func toLineItems(lines []studydomain.ScheduledLine) []invoicedomain.LineItemInput {
	return lo.Map(lines, func(line studydomain.ScheduledLine, _ int) invoicedomain.LineItemInput {
		return invoicedomain.LineItemInput{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		}
	})
}

func lockKey(tenantID, studyID snowflake.ID, milestone invoicedomain.MilestoneType) string {
	return fmt.Sprintf(keyMilestoneLock, tenantID.String(), studyID.String(), milestone)
}
