package email

import (
	"context"
	"strings"

	"github.com/smallbiznis/reservebill/internal/config"
	"go.uber.org/zap"
)

// Provider delivers HTML mail. SendTemplate renders one of the embedded
// templates by base name first.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, subject string, data any) error
}

// NewFromConfig picks SMTP when a host is configured and a discarding
// provider otherwise.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if strings.TrimSpace(cfg.Email.SMTPHost) == "" {
		log.Info("smtp not configured, email notifications disabled")
		return &discardProvider{log: log.Named("email.discard")}
	}
	return NewSMTP(Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}

type discardProvider struct {
	log *zap.Logger
}

func (p *discardProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	p.log.Debug("email discarded", zap.Int("recipients", len(to)), zap.String("subject", subject))
	return nil
}

func (p *discardProvider) SendTemplate(ctx context.Context, to []string, templateName string, subject string, data any) error {
	if _, err := Render(templateName, data); err != nil {
		return err
	}
	return p.Send(ctx, to, subject, "")
}
