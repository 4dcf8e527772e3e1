package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/reservebill/internal/notification/domain"
	"github.com/smallbiznis/reservebill/internal/providers/email"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	"github.com/smallbiznis/reservebill/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	templateInvoiceSent        = "invoice_sent"
	templatePaymentReceipt     = "payment_receipt"
	templateMilestoneGenerated = "milestone_generated"

	defaultAccentColor = "#1f4e79"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Email       email.Provider
	SettingsSvc settingsdomain.Service
}

// EmailNotifier renders the embedded templates with tenant branding and
// mails them to the invoice's bill-to address.
type EmailNotifier struct {
	log         *zap.Logger
	email       email.Provider
	settingsSvc settingsdomain.Service
}

func NewEmailNotifier(p Params) notificationdomain.Notifier {
	return &EmailNotifier{
		log:         p.Log.Named("notification.service"),
		email:       p.Email,
		settingsSvc: p.SettingsSvc,
	}
}

func (n *EmailNotifier) SendInvoice(ctx context.Context, invoice *invoicedomain.Invoice) error {
	data := n.baseData(ctx, invoice)
	if invoice.DueDate != nil {
		data["DueDate"] = invoice.DueDate.Format("January 2, 2006")
	}
	subject := fmt.Sprintf("Invoice %s", invoice.InvoiceNumber)
	return n.send(ctx, invoice, templateInvoiceSent, subject, data)
}

func (n *EmailNotifier) SendReceipt(ctx context.Context, invoice *invoicedomain.Invoice, amountPaid decimal.Decimal, reference string) error {
	data := n.baseData(ctx, invoice)
	data["AmountPaid"] = money.Round(amountPaid).StringFixed(money.Precision)
	data["Reference"] = strings.TrimSpace(reference)
	subject := fmt.Sprintf("Payment received for invoice %s", invoice.InvoiceNumber)
	return n.send(ctx, invoice, templatePaymentReceipt, subject, data)
}

func (n *EmailNotifier) SendAutoGeneratedNotice(ctx context.Context, invoice *invoicedomain.Invoice, previous *invoicedomain.Invoice) error {
	data := n.baseData(ctx, invoice)
	if previous != nil {
		data["PreviousInvoiceNumber"] = previous.InvoiceNumber
	}
	if invoice.HasMilestone() {
		data["Milestone"] = milestoneLabel(*invoice.MilestoneType)
	}
	subject := fmt.Sprintf("Invoice %s for the next milestone", invoice.InvoiceNumber)
	return n.send(ctx, invoice, templateMilestoneGenerated, subject, data)
}

func (n *EmailNotifier) send(ctx context.Context, invoice *invoicedomain.Invoice, templateName, subject string, data map[string]any) error {
	recipient := strings.TrimSpace(invoice.BillTo.Email)
	if recipient == "" {
		n.log.Info("invoice has no bill-to email, skipping notification",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("template", templateName),
		)
		return nil
	}
	if err := n.email.SendTemplate(ctx, []string{recipient}, templateName, subject, data); err != nil {
		return err
	}
	n.log.Debug("notification sent",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("template", templateName),
	)
	return nil
}

func (n *EmailNotifier) baseData(ctx context.Context, invoice *invoicedomain.Invoice) map[string]any {
	data := map[string]any{
		"RecipientName": invoice.BillTo.Name,
		"InvoiceNumber": invoice.InvoiceNumber,
		"BalanceDue":    invoice.BalanceDue().StringFixed(money.Precision),
		"Currency":      strings.ToUpper(invoice.Currency),
		"AccentColor":   defaultAccentColor,
	}

	settings, err := n.settingsSvc.GetForTenant(ctx, invoice.TenantID)
	if err != nil {
		n.log.Warn("load branding failed", zap.String("tenant_id", invoice.TenantID.String()), zap.Error(err))
		return data
	}
	if settings.AccentColor != "" {
		data["AccentColor"] = settings.AccentColor
	}
	data["FooterText"] = settings.FooterText
	return data
}

func milestoneLabel(m invoicedomain.MilestoneType) string {
	words := strings.Split(string(m), "_")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}
