package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentTemplate struct {
	to       []string
	template string
	subject  string
	data     map[string]any
}

type recordingProvider struct {
	sent []sentTemplate
}

func (p *recordingProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (p *recordingProvider) SendTemplate(ctx context.Context, to []string, templateName string, subject string, data any) error {
	p.sent = append(p.sent, sentTemplate{to: to, template: templateName, subject: subject, data: data.(map[string]any)})
	return nil
}

type stubSettings struct {
	settings *settingsdomain.TenantInvoiceSettings
	err      error
}

func (s stubSettings) Get(ctx context.Context) (*settingsdomain.TenantInvoiceSettings, error) {
	return s.settings, s.err
}

func (s stubSettings) GetForTenant(ctx context.Context, tenantID snowflake.ID) (*settingsdomain.TenantInvoiceSettings, error) {
	return s.settings, s.err
}

func (s stubSettings) Update(ctx context.Context, req settingsdomain.UpdateSettingsRequest) (*settingsdomain.TenantInvoiceSettings, error) {
	return nil, errors.New("not implemented")
}

func newInvoice() *invoicedomain.Invoice {
	milestone := invoicedomain.MilestoneSiteVisitComplete
	return &invoicedomain.Invoice{
		ID:             10,
		TenantID:       1,
		InvoiceNumber:  "INV-2025-00002",
		BillTo:         invoicedomain.BillTo{Name: "Harbor View HOA", Email: "board@harborview.test"},
		TotalAmount:    decimal.RequireFromString("2500"),
		AmountPaid:     decimal.Zero,
		AmountCredited: decimal.Zero,
		Currency:       "usd",
		MilestoneType:  &milestone,
	}
}

func TestSendReceiptUsesBranding(t *testing.T) {
	provider := &recordingProvider{}
	notifier := NewEmailNotifier(Params{
		Log:   zap.NewNop(),
		Email: provider,
		SettingsSvc: stubSettings{settings: &settingsdomain.TenantInvoiceSettings{
			AccentColor: "#ff0000",
			FooterText:  "Thanks!",
		}},
	})

	err := notifier.SendReceipt(context.Background(), newInvoice(), decimal.RequireFromString("1000"), "pi_123")
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)

	sent := provider.sent[0]
	assert.Equal(t, []string{"board@harborview.test"}, sent.to)
	assert.Equal(t, templatePaymentReceipt, sent.template)
	assert.Equal(t, "1000.00", sent.data["AmountPaid"])
	assert.Equal(t, "pi_123", sent.data["Reference"])
	assert.Equal(t, "#ff0000", sent.data["AccentColor"])
	assert.Equal(t, "USD", sent.data["Currency"])
}

func TestAutoGeneratedNoticeCarriesMilestone(t *testing.T) {
	provider := &recordingProvider{}
	notifier := NewEmailNotifier(Params{
		Log:         zap.NewNop(),
		Email:       provider,
		SettingsSvc: stubSettings{err: errors.New("db down")},
	})

	previous := &invoicedomain.Invoice{InvoiceNumber: "INV-2025-00001"}
	err := notifier.SendAutoGeneratedNotice(context.Background(), newInvoice(), previous)
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)
	assert.Equal(t, "Site Visit Complete", provider.sent[0].data["Milestone"])
	assert.Equal(t, "INV-2025-00001", provider.sent[0].data["PreviousInvoiceNumber"])
	assert.Equal(t, defaultAccentColor, provider.sent[0].data["AccentColor"])
}

func TestNotifierSkipsMissingRecipient(t *testing.T) {
	provider := &recordingProvider{}
	notifier := NewEmailNotifier(Params{
		Log:         zap.NewNop(),
		Email:       provider,
		SettingsSvc: stubSettings{settings: &settingsdomain.TenantInvoiceSettings{}},
	})

	invoice := newInvoice()
	invoice.BillTo.Email = ""
	require.NoError(t, notifier.SendInvoice(context.Background(), invoice))
	assert.Empty(t, provider.sent)
}
