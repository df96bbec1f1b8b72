package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-automation/internal/models"
)

type stubSMS struct {
	to, body string
	block    chan struct{}
	err      error
}

func (s *stubSMS) Send(toNumber, body string) (string, error) {
	if s.block != nil {
		<-s.block
	}
	s.to, s.body = toNumber, body
	return "SM123", s.err
}

type stubTelegram struct {
	params *bot.SendMessageParams
	err    error
}

func (s *stubTelegram) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &tgmodels.Message{ID: 42}, nil
}

func TestSMSProviderSendsSubjectAndBody(t *testing.T) {
	stub := &stubSMS{}
	p := &SMSProvider{client: stub}

	sid, err := p.Send(context.Background(), "+15550001", "[HIGH] Temperature is too high", "42°C")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
	assert.Equal(t, "+15550001", stub.to)
	assert.Equal(t, "[HIGH] Temperature is too high: 42°C", stub.body)
	assert.Equal(t, models.ChannelSMS, p.Channel())
}

func TestSMSProviderRespectsDeadline(t *testing.T) {
	stub := &stubSMS{block: make(chan struct{})}
	defer close(stub.block)
	p := &SMSProvider{client: stub}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Send(ctx, "+15550001", "s", "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTelegramProviderUsesNumericChatIDs(t *testing.T) {
	stub := &stubTelegram{}
	p := &TelegramProvider{sender: stub}

	id, err := p.Send(context.Background(), "-100200300", "subject", "body")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, int64(-100200300), stub.params.ChatID)
	assert.Equal(t, "subject\n\nbody", stub.params.Text)

	_, err = p.Send(context.Background(), "@farm_ops", "subject", "body")
	require.NoError(t, err)
	assert.Equal(t, "@farm_ops", stub.params.ChatID)
}

func TestTelegramProviderReportsErrors(t *testing.T) {
	p := &TelegramProvider{sender: &stubTelegram{err: errors.New("chat not found")}}
	_, err := p.Send(context.Background(), "1", "s", "b")
	assert.ErrorContains(t, err, "chat not found")

	_, err = NewTelegram("").Send(context.Background(), "1", "s", "b")
	assert.Error(t, err)
}
