package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reservebill/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	if invoice == nil {
		return nil
	}
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) ReplaceLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, items []domain.LineItem) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM invoice_line_items WHERE invoice_id = ?`,
		invoiceID,
	).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) ListLineItems(ctx context.Context, db *gorm.DB, invoiceIDs ...snowflake.ID) ([]domain.LineItem, error) {
	var items []domain.LineItem
	if len(invoiceIDs) == 0 {
		return items, nil
	}
	err := db.WithContext(ctx).
		Where("invoice_id IN ?", invoiceIDs).
		Order("invoice_id asc, position asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db.Where("tenant_id = ? AND id = ?", tenantID, id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id))
}

func (r *repo) FindByCheckoutSessionForUpdate(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Invoice, error) {
	return r.findOne(ctx, db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("checkout_session_id = ?", sessionID))
}

func (r *repo) findOne(ctx context.Context, stmt *gorm.DB) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := stmt.WithContext(ctx).Limit(1).Find(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	var items []*domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("tenant_id = ?", filter.TenantID)

	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.StudyID != nil {
		stmt = stmt.Where("study_id = ?", *filter.StudyID)
	}
	if filter.OverdueAt != nil {
		stmt = stmt.Where("status IN ? AND due_date IS NOT NULL AND due_date < ?",
			[]domain.InvoiceStatus{domain.InvoiceStatusSent, domain.InvoiceStatusPartiallyPaid},
			filter.OverdueAt.UTC(),
		)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET subtotal = ?, tax_rate = ?, tax_amount = ?, discount_amount = ?,
		     discount_description = ?, total_amount = ?, amount_paid = ?, amount_credited = ?,
		     status = ?, due_date = ?, sent_at = ?, paid_at = ?,
		     checkout_session_id = ?, checkout_session_url = ?, checkout_session_expires_at = ?,
		     payment_reference = ?, overpaid_at = ?, void_reason = ?, voided_at = ?,
		     notes = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL`,
		invoice.Subtotal,
		invoice.TaxRate,
		invoice.TaxAmount,
		invoice.DiscountAmount,
		invoice.DiscountDescription,
		invoice.TotalAmount,
		invoice.AmountPaid,
		invoice.AmountCredited,
		invoice.Status,
		invoice.DueDate,
		invoice.SentAt,
		invoice.PaidAt,
		invoice.CheckoutSessionID,
		invoice.CheckoutSessionURL,
		invoice.CheckoutSessionExpiresAt,
		invoice.PaymentReference,
		invoice.OverpaidAt,
		invoice.VoidReason,
		invoice.VoidedAt,
		invoice.Notes,
		invoice.UpdatedAt,
		invoice.TenantID,
		invoice.ID,
	).Error
}

func (r *repo) ExistsForMilestone(ctx context.Context, db *gorm.DB, tenantID, studyID snowflake.ID, milestone domain.MilestoneType) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("tenant_id = ? AND study_id = ? AND milestone_type = ? AND status <> ?",
			tenantID, studyID, milestone, domain.InvoiceStatusVoided).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) SetCheckoutSession(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, session domain.CheckoutSession, expectedSessionID *string, now time.Time) (bool, error) {
	query := `UPDATE invoices
		 SET checkout_session_id = ?, checkout_session_url = ?, checkout_session_expires_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL AND status NOT IN (?, ?)`
	args := []any{
		session.ID,
		session.URL,
		session.ExpiresAt.UTC(),
		now,
		tenantID,
		id,
		domain.InvoiceStatusVoided,
		domain.InvoiceStatusPaid,
	}
	if expectedSessionID == nil {
		query += ` AND checkout_session_id IS NULL`
	} else {
		query += ` AND checkout_session_id = ?`
		args = append(args, *expectedSessionID)
	}

	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ClearCheckoutSession(ctx context.Context, db *gorm.DB, sessionID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET checkout_session_id = NULL, checkout_session_url = NULL,
		     checkout_session_expires_at = NULL, updated_at = ?
		 WHERE checkout_session_id = ?`,
		now,
		sessionID,
	).Error
}

type creditAmountRow struct {
	Amount decimal.Decimal
}

func (r *repo) AppliedCreditAmounts(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]decimal.Decimal, error) {
	var rows []creditAmountRow
	err := db.WithContext(ctx).Raw(
		`SELECT amount
		 FROM credit_memos
		 WHERE invoice_id = ? AND status = ?`,
		invoiceID,
		"applied",
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	amounts := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		amounts = append(amounts, row.Amount)
	}
	return amounts, nil
}
