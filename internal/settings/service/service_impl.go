package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reservebill/internal/clock"
	"github.com/smallbiznis/reservebill/internal/numbering/format"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	"github.com/smallbiznis/reservebill/pkg/db"
	"github.com/smallbiznis/reservebill/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxPrefixLength       = 20
	maxPaymentTermsDays   = 365
	updateConflictRetries = 3
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  settingsdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  settingsdomain.Repository
}

func NewService(p Params) settingsdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("settings.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context) (*settingsdomain.TenantInvoiceSettings, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, settingsdomain.ErrInvalidTenant
	}
	return s.GetForTenant(ctx, tenantID)
}

func (s *Service) GetForTenant(ctx context.Context, tenantID snowflake.ID) (*settingsdomain.TenantInvoiceSettings, error) {
	if tenantID == 0 {
		return nil, settingsdomain.ErrInvalidTenant
	}

	item, err := s.repo.Find(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if item != nil {
		return item, nil
	}

	if err := s.repo.Ensure(ctx, s.db, settingsdomain.DefaultSettings(tenantID, s.clock.Now())); err != nil {
		return nil, errors.Wrap(err, "create default settings")
	}
	item, err = s.repo.Find(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, settingsdomain.ErrSettingsConflict
	}
	return item, nil
}

func (s *Service) Update(ctx context.Context, req settingsdomain.UpdateSettingsRequest) (*settingsdomain.TenantInvoiceSettings, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, settingsdomain.ErrInvalidTenant
	}
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	var updated *settingsdomain.TenantInvoiceSettings
	retryable := func(err error) bool { return errors.Is(err, settingsdomain.ErrSettingsConflict) }
	err := db.WithRetry(ctx, updateConflictRetries, retryable, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			if err := s.repo.Ensure(ctx, tx, settingsdomain.DefaultSettings(tenantID, now)); err != nil {
				return err
			}
			item, err := s.repo.FindForUpdate(ctx, tx, tenantID)
			if err != nil {
				return err
			}
			if item == nil {
				return settingsdomain.ErrSettingsConflict
			}

			expectedVersion := item.Version
			applyUpdate(item, req)
			item.UpdatedAt = now

			saved, err := s.repo.Save(ctx, tx, item, expectedVersion)
			if err != nil {
				return err
			}
			if !saved {
				return settingsdomain.ErrSettingsConflict
			}
			updated = item
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice settings updated",
		zap.String("tenant_id", tenantID.String()),
		zap.Int64("version", updated.Version),
	)
	return updated, nil
}

func validateUpdate(req settingsdomain.UpdateSettingsRequest) error {
	for _, prefix := range []*string{req.InvoicePrefix, req.CreditMemoPrefix} {
		if prefix == nil {
			continue
		}
		value := strings.TrimSpace(*prefix)
		if value == "" || len(value) > maxPrefixLength || strings.ContainsAny(value, "{}") {
			return settingsdomain.ErrInvalidPrefix
		}
	}
	if req.NumberFormat != nil {
		if err := format.Validate(strings.TrimSpace(*req.NumberFormat)); err != nil {
			return errors.Wrap(settingsdomain.ErrInvalidNumberFormat, err.Error())
		}
	}
	if req.NumberPadding != nil && (*req.NumberPadding < 1 || *req.NumberPadding > settingsdomain.MaxNumberPadding) {
		return settingsdomain.ErrInvalidNumberPadding
	}
	for _, freq := range []*settingsdomain.ResetFrequency{req.InvoiceResetFrequency, req.CreditMemoResetFrequency} {
		if freq != nil && !freq.Valid() {
			return settingsdomain.ErrInvalidResetFrequency
		}
	}
	if req.DefaultPaymentTermsDays != nil && (*req.DefaultPaymentTermsDays < 0 || *req.DefaultPaymentTermsDays > maxPaymentTermsDays) {
		return settingsdomain.ErrInvalidPaymentTerms
	}
	if req.DefaultTaxRate != nil && (req.DefaultTaxRate.IsNegative() || req.DefaultTaxRate.GreaterThan(decimal.NewFromInt(100))) {
		return settingsdomain.ErrInvalidTaxRate
	}
	return nil
}

func applyUpdate(item *settingsdomain.TenantInvoiceSettings, req settingsdomain.UpdateSettingsRequest) {
	if req.InvoicePrefix != nil {
		item.InvoicePrefix = strings.TrimSpace(*req.InvoicePrefix)
	}
	if req.NumberFormat != nil {
		item.NumberFormat = strings.TrimSpace(*req.NumberFormat)
	}
	if req.NumberPadding != nil {
		item.NumberPadding = *req.NumberPadding
	}
	if req.InvoiceResetFrequency != nil {
		item.InvoiceResetFrequency = *req.InvoiceResetFrequency
	}
	if req.CreditMemoPrefix != nil {
		item.CreditMemoPrefix = strings.TrimSpace(*req.CreditMemoPrefix)
	}
	if req.CreditMemoResetFrequency != nil {
		item.CreditMemoResetFrequency = *req.CreditMemoResetFrequency
	}
	if req.AutoGenerateNextMilestone != nil {
		item.AutoGenerateNextMilestone = *req.AutoGenerateNextMilestone
	}
	if req.AutoSendOnCreate != nil {
		item.AutoSendOnCreate = *req.AutoSendOnCreate
	}
	if req.NotifyOnAutoGenerate != nil {
		item.NotifyOnAutoGenerate = *req.NotifyOnAutoGenerate
	}
	if req.DefaultPaymentTermsDays != nil {
		item.DefaultPaymentTermsDays = *req.DefaultPaymentTermsDays
	}
	if req.DefaultTaxRate != nil {
		item.DefaultTaxRate = *req.DefaultTaxRate
	}
	if req.LogoURL != nil {
		item.LogoURL = strings.TrimSpace(*req.LogoURL)
	}
	if req.AccentColor != nil {
		item.AccentColor = strings.TrimSpace(*req.AccentColor)
	}
	if req.FooterText != nil {
		item.FooterText = *req.FooterText
	}
}
