package providers

import (
	"context"

	"farm-automation/internal/models"
	"farm-automation/pkg/email"
)

// EmailProvider delivers alerts over SMTP.
type EmailProvider struct {
	cfg email.Config
}

func NewEmail(cfg email.Config) *EmailProvider {
	return &EmailProvider{cfg: cfg}
}

func (p *EmailProvider) Channel() models.Channel { return models.ChannelEmail }

func (p *EmailProvider) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	return email.Send(ctx, p.cfg, recipient, subject, body)
}
