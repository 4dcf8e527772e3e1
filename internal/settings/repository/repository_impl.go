package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reservebill/internal/settings/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Ensure(ctx context.Context, db *gorm.DB, defaults domain.TenantInvoiceSettings) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}}, DoNothing: true}).
		Create(&defaults).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.TenantInvoiceSettings, error) {
	var item domain.TenantInvoiceSettings
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.TenantID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.TenantInvoiceSettings, error) {
	return r.Find(ctx, db.Clauses(clause.Locking{Strength: "UPDATE"}), tenantID)
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, s *domain.TenantInvoiceSettings, expectedVersion int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE tenant_invoice_settings SET
			invoice_prefix = ?, number_format = ?, number_padding = ?,
			invoice_next_number = ?, invoice_reset_frequency = ?,
			invoice_last_reset_year = ?, invoice_last_reset_month = ?,
			credit_memo_prefix = ?, credit_memo_next_number = ?, credit_memo_reset_frequency = ?,
			credit_memo_last_reset_year = ?, credit_memo_last_reset_month = ?,
			auto_generate_next_milestone = ?, auto_send_on_create = ?, notify_on_auto_generate = ?,
			default_payment_terms_days = ?, default_tax_rate = ?, currency = ?,
			logo_url = ?, accent_color = ?, footer_text = ?,
			version = version + 1, updated_at = ?
		 WHERE tenant_id = ? AND version = ?`,
		s.InvoicePrefix, s.NumberFormat, s.NumberPadding,
		s.InvoiceNextNumber, s.InvoiceResetFrequency,
		s.InvoiceLastResetYear, s.InvoiceLastResetMonth,
		s.CreditMemoPrefix, s.CreditMemoNextNumber, s.CreditMemoResetFrequency,
		s.CreditMemoLastResetYear, s.CreditMemoLastResetMonth,
		s.AutoGenerateNextMilestone, s.AutoSendOnCreate, s.NotifyOnAutoGenerate,
		s.DefaultPaymentTermsDays, s.DefaultTaxRate, s.Currency,
		s.LogoURL, s.AccentColor, s.FooterText,
		s.UpdatedAt,
		s.TenantID, expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.Version = expectedVersion + 1
	return true, nil
}
