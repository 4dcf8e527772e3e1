package service_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	numberingdomain "github.com/smallbiznis/reservebill/internal/numbering/domain"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	"github.com/smallbiznis/reservebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextNumberDefaultFormat(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	ctx := testutil.TenantCtx(tenant.ID)

	first, err := h.Numbering.NextNumber(ctx, tenant.ID, numberingdomain.KindInvoice)
	require.NoError(t, err)
	second, err := h.Numbering.NextNumber(ctx, tenant.ID, numberingdomain.KindInvoice)
	require.NoError(t, err)
	memo, err := h.Numbering.NextNumber(ctx, tenant.ID, numberingdomain.KindCreditMemo)
	require.NoError(t, err)

	assert.Equal(t, "INV-2025-00001", first)
	assert.Equal(t, "INV-2025-00002", second)
	assert.Equal(t, "CM-2025-00001", memo)
}

func TestNextNumberRejectsBadInput(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	ctx := testutil.TenantCtx(tenant.ID)

	_, err := h.Numbering.NextNumber(ctx, 0, numberingdomain.KindInvoice)
	assert.ErrorIs(t, err, numberingdomain.ErrInvalidTenant)

	_, err = h.Numbering.NextNumber(ctx, tenant.ID, numberingdomain.Kind("receipt"))
	assert.ErrorIs(t, err, numberingdomain.ErrInvalidKind)
}

func TestNextNumberConcurrentAllocationsAreUniqueAndGapless(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	ctx := testutil.TenantCtx(tenant.ID)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := h.Numbering.NextNumber(ctx, tenant.ID, numberingdomain.KindInvoice)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[number] = true
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, numbers, workers)
	for i := 1; i <= workers; i++ {
		assert.True(t, numbers[expectedNumber(2025, i)], "missing %s", expectedNumber(2025, i))
	}
}

func TestYearlyResetStartsOverInNewYear(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	ctx := testutil.TenantCtx(tenant.ID)
	setFrequency(t, h, tenant.ID, settingsdomain.ResetYearly)

	h.Clock.Set(time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC))
	allocate(t, h, tenant.ID, 3)

	h.Clock.Set(time.Date(2026, time.January, 1, 8, 0, 0, 0, time.UTC))
	number, err := h.Numbering.NextNumber(ctx, tenant.ID, numberingdomain.KindInvoice)
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-00001", number)
}

func TestMonthlyResetUsesMonthToken(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	ctx := testutil.TenantCtx(tenant.ID)
	setFrequency(t, h, tenant.ID, settingsdomain.ResetMonthly)

	format := "{PREFIX}-{YEAR}{MONTH}-{NUMBER}"
	padding := 3
	_, err := h.Settings.Update(ctx, settingsdomain.UpdateSettingsRequest{NumberFormat: &format, NumberPadding: &padding})
	require.NoError(t, err)

	h.Clock.Set(time.Date(2025, time.April, 30, 12, 0, 0, 0, time.UTC))
	allocate(t, h, tenant.ID, 2)

	h.Clock.Set(time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC))
	number, err := h.Numbering.NextNumber(ctx, tenant.ID, numberingdomain.KindInvoice)
	require.NoError(t, err)
	assert.Equal(t, "INV-202505-001", number)
}

func TestNeverResetKeepsCountingAcrossYears(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	ctx := testutil.TenantCtx(tenant.ID)

	h.Clock.Set(time.Date(2025, time.December, 31, 12, 0, 0, 0, time.UTC))
	allocate(t, h, tenant.ID, 2)

	h.Clock.Set(time.Date(2026, time.January, 2, 12, 0, 0, 0, time.UTC))
	number, err := h.Numbering.NextNumber(ctx, tenant.ID, numberingdomain.KindInvoice)
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-00003", number)
}

func allocate(t *testing.T, h *testutil.Harness, tenantID snowflake.ID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := h.Numbering.NextNumber(testutil.TenantCtx(tenantID), tenantID, numberingdomain.KindInvoice)
		require.NoError(t, err)
	}
}

func setFrequency(t *testing.T, h *testutil.Harness, tenantID snowflake.ID, freq settingsdomain.ResetFrequency) {
	t.Helper()
	_, err := h.Settings.Update(testutil.TenantCtx(tenantID), settingsdomain.UpdateSettingsRequest{InvoiceResetFrequency: &freq})
	require.NoError(t, err)
}

func expectedNumber(year, seq int) string {
	return fmt.Sprintf("INV-%d-%05d", year, seq)
}
