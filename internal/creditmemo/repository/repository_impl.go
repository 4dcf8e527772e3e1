package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, memo *domain.CreditMemo) error {
	if memo == nil {
		return nil
	}
	return db.WithContext(ctx).Create(memo).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.CreditMemo, error) {
	return r.findOne(ctx, db, tenantID, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.CreditMemo, error) {
	return r.findOne(ctx, db.Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.CreditMemo, error) {
	var memo domain.CreditMemo
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Limit(1).
		Find(&memo).Error
	if err != nil {
		return nil, err
	}
	if memo.ID == 0 {
		return nil, nil
	}
	return &memo, nil
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) ([]domain.CreditMemo, error) {
	var memos []domain.CreditMemo
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ?", tenantID, invoiceID).
		Order("created_at asc, id asc").
		Find(&memos).Error
	if err != nil {
		return nil, err
	}
	return memos, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, memo *domain.CreditMemo) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_memos
		 SET status = ?, applied_at = ?, applied_by = ?, voided_at = ?, void_reason = ?,
		     is_refund = ?, refunded_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		memo.Status,
		memo.AppliedAt,
		memo.AppliedBy,
		memo.VoidedAt,
		memo.VoidReason,
		memo.IsRefund,
		memo.RefundedAt,
		memo.UpdatedAt,
		memo.TenantID,
		memo.ID,
	).Error
}
