package testutil

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	studydomain "github.com/smallbiznis/reservebill/internal/study/domain"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
)

type TenantOption func(*tenantdomain.Tenant)

func WithTier(tier string) TenantOption {
	return func(t *tenantdomain.Tenant) { t.SubscriptionTier = &tier }
}

// WithMarketplace links an onboarded, payout-enabled sub-account.
func WithMarketplace(account string) TenantOption {
	return func(t *tenantdomain.Tenant) {
		t.MarketplaceAccountID = &account
		t.MarketplaceOnboardingComplete = true
		t.MarketplacePayoutsEnabled = true
	}
}

func WithFeeRate(rate string) TenantOption {
	return func(t *tenantdomain.Tenant) {
		value := decimal.RequireFromString(rate)
		t.PlatformFeeRate = &value
	}
}

func (h *Harness) SeedTenant(t testing.TB, opts ...TenantOption) *tenantdomain.Tenant {
	t.Helper()
	tenant := &tenantdomain.Tenant{
		ID:        h.Node.Generate(),
		Name:      "Cascade Reserve Consulting",
		CreatedAt: h.Clock.Now(),
		UpdatedAt: h.Clock.Now(),
	}
	for _, opt := range opts {
		opt(tenant)
	}
	if err := h.DB.Create(tenant).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return tenant
}

func (h *Harness) SeedStudy(t testing.TB, tenantID snowflake.ID) *studydomain.Study {
	t.Helper()
	study := &studydomain.Study{
		ID:             h.Node.Generate(),
		TenantID:       tenantID,
		Name:           "Harbor View Towers Reserve Study",
		PropertyName:   "Harbor View Towers",
		ContactName:    "Harbor View HOA Board",
		ContactEmail:   "board@harborview.test",
		ContactAddress: "100 Harbor Way, Seattle WA",
	}
	if err := h.DB.Create(study).Error; err != nil {
		t.Fatalf("seed study: %v", err)
	}
	return study
}

// SeedSchedule plans a single fee line for milestone on the study.
func (h *Harness) SeedSchedule(t testing.TB, study *studydomain.Study, milestone invoicedomain.MilestoneType, description, unitPrice string) {
	t.Helper()
	line := &studydomain.ScheduledLine{
		ID:            h.Node.Generate(),
		TenantID:      study.TenantID,
		StudyID:       study.ID,
		MilestoneType: string(milestone),
		Description:   description,
		Quantity:      decimal.NewFromInt(1),
		UnitPrice:     decimal.RequireFromString(unitPrice),
		Position:      1,
	}
	if err := h.DB.Create(line).Error; err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
}

// EnableChaining turns on next-milestone generation for the tenant.
func (h *Harness) EnableChaining(t testing.TB, tenantID snowflake.ID, notify bool) {
	t.Helper()
	enabled := true
	_, err := h.Settings.Update(TenantCtx(tenantID), settingsdomain.UpdateSettingsRequest{
		AutoGenerateNextMilestone: &enabled,
		NotifyOnAutoGenerate:      &notify,
	})
	if err != nil {
		t.Fatalf("enable chaining: %v", err)
	}
}

// Line is shorthand for a single-quantity line item.
func Line(description, unitPrice string) invoicedomain.LineItemInput {
	return invoicedomain.LineItemInput{
		Description: description,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.RequireFromString(unitPrice),
	}
}
