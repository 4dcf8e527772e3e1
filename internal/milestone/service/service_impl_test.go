package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	studydomain "github.com/smallbiznis/reservebill/internal/study/domain"
	"github.com/smallbiznis/reservebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paidMilestone(t *testing.T, h *testutil.Harness, study *studydomain.Study, milestone invoicedomain.MilestoneType) *invoicedomain.Invoice {
	t.Helper()
	ctx := testutil.TenantCtx(study.TenantID)
	invoice, err := h.Invoices.CreateMilestoneInvoice(ctx, study.ID, milestone,
		[]invoicedomain.LineItemInput{testutil.Line("Milestone fee", "500")})
	require.NoError(t, err)
	paid, err := h.Invoices.RecordPayment(ctx, invoicedomain.RecordPaymentRequest{
		InvoiceID: invoice.ID, Amount: testutil.Dec("500"), Source: invoicedomain.PaymentSourceManual,
	})
	require.NoError(t, err)
	require.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
	return paid
}

func countMilestone(t *testing.T, h *testutil.Harness, study *studydomain.Study, milestone invoicedomain.MilestoneType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.DB.Model(&invoicedomain.Invoice{}).
		Where("study_id = ? AND milestone_type = ?", study.ID, string(milestone)).
		Count(&count).Error)
	return count
}

func TestGeneratesSuccessorInvoice(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	study := h.SeedStudy(t, tenant.ID)
	h.EnableChaining(t, tenant.ID, true)
	h.SeedSchedule(t, study, invoicedomain.MilestoneSiteVisitComplete, "Site visit and inspection", "1500")
	paid := paidMilestone(t, h, study, invoicedomain.MilestoneDeposit)

	created := h.Milestone.TryGenerateNextMilestone(context.Background(), paid)
	require.NotNil(t, created)
	require.NotNil(t, created.MilestoneType)
	assert.Equal(t, invoicedomain.MilestoneSiteVisitComplete, *created.MilestoneType)
	require.NotNil(t, created.PreviousInvoiceID)
	assert.Equal(t, paid.ID, *created.PreviousInvoiceID)
	assert.Equal(t, "1500.00", created.TotalAmount.StringFixed(2))
	require.Len(t, created.LineItems, 1)
	assert.Equal(t, "Site visit and inspection", created.LineItems[0].Description)
	assert.Equal(t, []string{created.InvoiceNumber}, h.Notifier.AutoGenerated)

	assert.Nil(t, h.Milestone.TryGenerateNextMilestone(context.Background(), paid))
	assert.Equal(t, int64(1), countMilestone(t, h, study, invoicedomain.MilestoneSiteVisitComplete))
}

func TestConcurrentTriggersCreateOneInvoice(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	study := h.SeedStudy(t, tenant.ID)
	h.EnableChaining(t, tenant.ID, false)
	h.SeedSchedule(t, study, invoicedomain.MilestoneSiteVisitComplete, "Site visit", "1500")
	paid := paidMilestone(t, h, study, invoicedomain.MilestoneDeposit)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Milestone.TryGenerateNextMilestone(context.Background(), paid)
		}()
	}
	wg.Wait()
	h.Milestone.TryGenerateNextMilestone(context.Background(), paid)

	assert.Equal(t, int64(1), countMilestone(t, h, study, invoicedomain.MilestoneSiteVisitComplete))
	assert.Empty(t, h.Notifier.AutoGenerated)
}

func TestSkipsWhenLockHeldElsewhere(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	study := h.SeedStudy(t, tenant.ID)
	h.EnableChaining(t, tenant.ID, false)
	h.SeedSchedule(t, study, invoicedomain.MilestoneSiteVisitComplete, "Site visit", "1500")
	paid := paidMilestone(t, h, study, invoicedomain.MilestoneDeposit)

	release, ok, err := h.Locker.Acquire(context.Background(),
		"milestone:"+tenant.ID.String()+":"+study.ID.String()+":site_visit_complete", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Nil(t, h.Milestone.TryGenerateNextMilestone(context.Background(), paid))
	assert.Zero(t, countMilestone(t, h, study, invoicedomain.MilestoneSiteVisitComplete))

	release()
	assert.NotNil(t, h.Milestone.TryGenerateNextMilestone(context.Background(), paid))
}

func TestNoGenerationWhenNotApplicable(t *testing.T) {
	h := testutil.NewHarness(t)
	tenant := h.SeedTenant(t)
	study := h.SeedStudy(t, tenant.ID)
	h.SeedSchedule(t, study, invoicedomain.MilestoneSiteVisitComplete, "Site visit", "1500")
	paid := paidMilestone(t, h, study, invoicedomain.MilestoneDeposit)

	assert.Nil(t, h.Milestone.TryGenerateNextMilestone(context.Background(), paid), "chaining disabled")

	h.EnableChaining(t, tenant.ID, false)

	final := paidMilestone(t, h, study, invoicedomain.MilestoneFinalDelivery)
	assert.Nil(t, h.Milestone.TryGenerateNextMilestone(context.Background(), final), "no successor")

	unscheduled := paidMilestone(t, h, study, invoicedomain.MilestoneSiteVisitComplete)
	assert.Nil(t, h.Milestone.TryGenerateNextMilestone(context.Background(), unscheduled), "empty schedule")

	unpaid, err := h.Invoices.CreateMilestoneInvoice(testutil.TenantCtx(tenant.ID), study.ID, invoicedomain.MilestoneDeposit,
		[]invoicedomain.LineItemInput{testutil.Line("Deposit", "100")})
	require.NoError(t, err)
	assert.Nil(t, h.Milestone.TryGenerateNextMilestone(context.Background(), unpaid), "unpaid")

	assert.Nil(t, h.Milestone.TryGenerateNextMilestone(context.Background(), nil))
	assert.Equal(t, int64(1), countMilestone(t, h, study, invoicedomain.MilestoneSiteVisitComplete))
}
