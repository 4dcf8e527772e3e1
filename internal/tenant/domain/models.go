package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SubscriptionTier string

const (
	TierStarter    SubscriptionTier = "starter"
	TierPro        SubscriptionTier = "pro"
	TierEnterprise SubscriptionTier = "enterprise"
)

// Tenant is the billing slice of a reserve-study firm: its subscription tier
// and the marketplace sub-account payments are routed to.
type Tenant struct {
	ID                            snowflake.ID     `json:"id" gorm:"primaryKey"`
	Name                          string           `json:"name"`
	SubscriptionTier              *string          `json:"subscription_tier,omitempty"`
	MarketplaceAccountID          *string          `json:"marketplace_account_id,omitempty"`
	MarketplaceOnboardingComplete bool             `json:"marketplace_onboarding_complete"`
	MarketplacePayoutsEnabled     bool             `json:"marketplace_payouts_enabled"`
	PlatformFeeRate               *decimal.Decimal `json:"platform_fee_rate,omitempty" gorm:"type:numeric(6,4)"`
	CreatedAt                     time.Time        `json:"created_at"`
	UpdatedAt                     time.Time        `json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// MarketplaceAccount returns the sub-account id when payments can be routed
// to it: onboarding finished and payouts enabled.
func (t *Tenant) MarketplaceAccount() (string, bool) {
	if t == nil || t.MarketplaceAccountID == nil {
		return "", false
	}
	account := strings.TrimSpace(*t.MarketplaceAccountID)
	if account == "" || !t.MarketplaceOnboardingComplete || !t.MarketplacePayoutsEnabled {
		return "", false
	}
	return account, true
}

func (t *Tenant) Tier() string {
	if t == nil || t.SubscriptionTier == nil {
		return ""
	}
	return strings.TrimSpace(*t.SubscriptionTier)
}

// MarketplaceStatus is the onboarding state reported by the gateway for a
// sub-account.
type MarketplaceStatus struct {
	AccountID          string
	OnboardingComplete bool
	PayoutsEnabled     bool
}
