package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFeeRateFallsBackToDefaultTier(t *testing.T) {
	cfg := DefaultBillingConfig()

	assert.True(t, cfg.FeeRate("starter").Equal(decimal.RequireFromString("0.02")))
	assert.True(t, cfg.FeeRate("Pro").Equal(decimal.RequireFromString("0.015")))
	assert.True(t, cfg.FeeRate("enterprise").Equal(decimal.RequireFromString("0.01")))
	assert.True(t, cfg.FeeRate("").Equal(decimal.RequireFromString("0.015")))
	assert.True(t, cfg.FeeRate("platinum").Equal(decimal.RequireFromString("0.015")))
}

func TestValidateBillingConfig(t *testing.T) {
	assert.NoError(t, ValidateBillingConfig(DefaultBillingConfig()))

	badRate := DefaultBillingConfig()
	badRate.FeeTiers[0].Rate = "abc"
	assert.Error(t, ValidateBillingConfig(badRate))

	missingDefault := DefaultBillingConfig()
	missingDefault.DefaultTier = "gold"
	assert.Error(t, ValidateBillingConfig(missingDefault))

	badMargin := DefaultBillingConfig()
	badMargin.Checkout.ReuseMargin = 48 * time.Hour
	assert.Error(t, ValidateBillingConfig(badMargin))
}

func TestHolderWithoutValueReturnsDefaults(t *testing.T) {
	var holder *BillingConfigHolder
	assert.Equal(t, DefaultBillingConfig().DefaultTier, holder.Get().DefaultTier)
	assert.Equal(t, 24*time.Hour, (&BillingConfigHolder{}).Get().Checkout.SessionLifetime)
}
