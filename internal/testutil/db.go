// Package testutil wires the billing services against an in-memory SQLite
// database for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE tenants (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		subscription_tier TEXT,
		marketplace_account_id TEXT,
		marketplace_onboarding_complete BOOLEAN NOT NULL DEFAULT FALSE,
		marketplace_payouts_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		platform_fee_rate TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE tenant_invoice_settings (
		tenant_id BIGINT PRIMARY KEY,
		invoice_prefix TEXT NOT NULL,
		number_format TEXT NOT NULL,
		number_padding INTEGER NOT NULL,
		invoice_next_number BIGINT NOT NULL,
		invoice_reset_frequency TEXT NOT NULL,
		invoice_last_reset_year INTEGER NOT NULL DEFAULT 0,
		invoice_last_reset_month INTEGER NOT NULL DEFAULT 0,
		credit_memo_prefix TEXT NOT NULL,
		credit_memo_next_number BIGINT NOT NULL,
		credit_memo_reset_frequency TEXT NOT NULL,
		credit_memo_last_reset_year INTEGER NOT NULL DEFAULT 0,
		credit_memo_last_reset_month INTEGER NOT NULL DEFAULT 0,
		auto_generate_next_milestone BOOLEAN NOT NULL DEFAULT FALSE,
		auto_send_on_create BOOLEAN NOT NULL DEFAULT FALSE,
		notify_on_auto_generate BOOLEAN NOT NULL DEFAULT FALSE,
		default_payment_terms_days INTEGER NOT NULL DEFAULT 30,
		default_tax_rate TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT 'usd',
		logo_url TEXT NOT NULL DEFAULT '',
		accent_color TEXT NOT NULL DEFAULT '',
		footer_text TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE reserve_studies (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		property_name TEXT NOT NULL DEFAULT '',
		contact_name TEXT NOT NULL DEFAULT '',
		contact_email TEXT NOT NULL DEFAULT '',
		contact_address TEXT NOT NULL DEFAULT '',
		deleted_at DATETIME
	)`,
	`CREATE TABLE study_milestone_schedules (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		study_id BIGINT NOT NULL,
		milestone_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL DEFAULT '1',
		unit_price TEXT NOT NULL DEFAULT '0',
		position INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE invoices (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		invoice_number TEXT NOT NULL,
		study_id BIGINT NOT NULL,
		bill_to_name TEXT NOT NULL DEFAULT '',
		bill_to_email TEXT NOT NULL DEFAULT '',
		bill_to_address TEXT NOT NULL DEFAULT '',
		subtotal TEXT NOT NULL,
		tax_rate TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		discount_description TEXT NOT NULL DEFAULT '',
		total_amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		amount_credited TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		issue_date DATETIME,
		due_date DATETIME,
		sent_at DATETIME,
		paid_at DATETIME,
		milestone_type TEXT,
		previous_invoice_id BIGINT,
		checkout_session_id TEXT,
		checkout_session_url TEXT,
		checkout_session_expires_at DATETIME,
		payment_reference TEXT,
		overpaid_at DATETIME,
		void_reason TEXT,
		voided_at DATETIME,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		updated_at DATETIME,
		deleted_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_invoices_tenant_number ON invoices(tenant_id, invoice_number)`,
	`CREATE INDEX idx_invoices_checkout_session ON invoices(checkout_session_id)`,
	`CREATE TABLE invoice_line_items (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		invoice_id BIGINT NOT NULL,
		description TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		amount TEXT NOT NULL,
		position INTEGER NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE credit_memos (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		credit_memo_number TEXT NOT NULL,
		invoice_id BIGINT NOT NULL,
		amount TEXT NOT NULL,
		issue_date DATETIME,
		reason TEXT NOT NULL DEFAULT '',
		bill_to_name TEXT NOT NULL DEFAULT '',
		bill_to_email TEXT NOT NULL DEFAULT '',
		bill_to_address TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		applied_at DATETIME,
		applied_by TEXT,
		voided_at DATETIME,
		void_reason TEXT,
		is_refund BOOLEAN NOT NULL DEFAULT FALSE,
		refunded_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_credit_memos_tenant_number ON credit_memos(tenant_id, credit_memo_number)`,
	`CREATE TABLE payment_records (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		invoice_id BIGINT NOT NULL,
		amount TEXT NOT NULL,
		payment_date DATETIME NOT NULL,
		method TEXT NOT NULL,
		external_reference TEXT,
		checkout_session_id TEXT,
		is_automatic BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT NOT NULL DEFAULT '',
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payment_records_external_reference ON payment_records(external_reference)`,
	`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event ON payment_events(provider, provider_event_id)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME
	)`,
}

// OpenDB returns an isolated in-memory database with the billing schema.
// The pool is pinned to one connection so concurrent callers serialize on
// it the way row locks serialize them on postgres.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
