package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPlatformFeeRoundsUp(t *testing.T) {
	assert.Equal(t, int64(1500), PlatformFee(decimal.RequireFromString("1000.00"), decimal.RequireFromString("0.015")))
	// 333.33 × 0.015 = 4.99995 → 500 cents
	assert.Equal(t, int64(500), PlatformFee(decimal.RequireFromString("333.33"), decimal.RequireFromString("0.015")))
	assert.Equal(t, int64(0), PlatformFee(decimal.Zero, decimal.RequireFromString("0.015")))
	assert.Equal(t, int64(0), PlatformFee(decimal.RequireFromString("10"), decimal.Zero))
}

func TestMinorUnitConversion(t *testing.T) {
	assert.Equal(t, int64(100000), ToMinorUnits(decimal.RequireFromString("1000")))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1), ToMinorUnits(decimal.RequireFromString("0.005")))
	assert.True(t, FromMinorUnits(100000).Equal(decimal.RequireFromString("1000.00")))
	assert.Equal(t, "0.07", FromMinorUnits(7).StringFixed(2))
}

func TestRoundAndSum(t *testing.T) {
	assert.Equal(t, "10.13", Round(decimal.RequireFromString("10.125")).StringFixed(2))
	assert.True(t, Sum(decimal.NewFromInt(1), decimal.RequireFromString("2.50")).Equal(decimal.RequireFromString("3.5")))
}
