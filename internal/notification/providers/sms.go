package providers

import (
	"context"
	"fmt"

	"farm-automation/internal/models"
	"farm-automation/pkg/sms"
)

type smsSender interface {
	Send(toNumber, body string) (string, error)
}

// SMSProvider texts the alert subject and body to a phone number.
type SMSProvider struct {
	client smsSender
}

func NewSMS(accountSID, authToken, fromNumber string) *SMSProvider {
	return &SMSProvider{client: sms.New(accountSID, authToken, fromNumber)}
}

func (p *SMSProvider) Channel() models.Channel { return models.ChannelSMS }

// Send runs the Twilio call in the background so that ctx can cut the wait
// short; the request itself is not cancellable.
func (p *SMSProvider) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	type result struct {
		sid string
		err error
	}
	done := make(chan result, 1)
	go func() {
		sid, err := p.client.Send(recipient, fmt.Sprintf("%s: %s", subject, body))
		done <- result{sid: sid, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("sms to %s: %w", recipient, ctx.Err())
	case r := <-done:
		return r.sid, r.err
	}
}
