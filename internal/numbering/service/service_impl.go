package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/reservebill/internal/clock"
	"github.com/smallbiznis/reservebill/internal/config"
	numberingdomain "github.com/smallbiznis/reservebill/internal/numbering/domain"
	"github.com/smallbiznis/reservebill/internal/numbering/format"
	"github.com/smallbiznis/reservebill/internal/observability/metrics"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       settingsdomain.Repository
	BillingCfg *config.BillingConfigHolder `optional:"true"`
	Metrics    *metrics.BillingMetrics     `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       settingsdomain.Repository
	billingCfg *config.BillingConfigHolder
	metrics    *metrics.BillingMetrics
}

func NewService(p Params) numberingdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("numbering.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		billingCfg: p.BillingCfg,
		metrics:    p.Metrics,
	}
}

func (s *Service) NextNumber(ctx context.Context, tenantID snowflake.ID, kind numberingdomain.Kind) (string, error) {
	var number string
	err := numberingdomain.Retry(ctx, s.billingCfg.Get().SequenceMaxRetries, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			allocated, err := s.NextNumberTx(ctx, tx, tenantID, kind)
			if err != nil {
				return err
			}
			number = allocated
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return number, nil
}

func (s *Service) NextNumberTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, kind numberingdomain.Kind) (string, error) {
	if tenantID == 0 {
		return "", numberingdomain.ErrInvalidTenant
	}
	if !kind.Valid() {
		return "", numberingdomain.ErrInvalidKind
	}

	now := s.clock.Now()
	if err := s.repo.Ensure(ctx, tx, settingsdomain.DefaultSettings(tenantID, now)); err != nil {
		return "", errors.Wrap(err, "ensure tenant settings")
	}

	row, err := s.repo.FindForUpdate(ctx, tx, tenantID)
	if err != nil {
		return "", errors.Wrap(err, "lock tenant settings")
	}
	if row == nil {
		return "", numberingdomain.ErrSequenceConflict
	}

	expectedVersion := row.Version
	seq, prefix := allocate(row, kind, now)

	number, err := format.Format(row.NumberFormat, prefix, now, seq, row.NumberPadding)
	if err != nil {
		return "", errors.Wrapf(err, "format %s number", kind)
	}

	row.UpdatedAt = now
	saved, err := s.repo.Save(ctx, tx, row, expectedVersion)
	if err != nil {
		return "", errors.Wrap(err, "persist sequence")
	}
	if !saved {
		s.log.Debug("sequence version conflict",
			zap.String("tenant_id", tenantID.String()),
			zap.String("kind", string(kind)),
		)
		s.metrics.RecordSequenceConflict(string(kind))
		return "", numberingdomain.ErrSequenceConflict
	}

	return number, nil
}
