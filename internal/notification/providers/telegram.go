package providers

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"farm-automation/internal/models"
)

type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramProvider is the push channel: it posts alerts to Telegram chats.
type TelegramProvider struct {
	token string

	mu     sync.Mutex
	sender telegramSender
}

func NewTelegram(token string) *TelegramProvider {
	return &TelegramProvider{token: token}
}

func (p *TelegramProvider) Channel() models.Channel { return models.ChannelPush }

// client creates the bot on first use and keeps it once it connected.
func (p *TelegramProvider) client() (telegramSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender != nil {
		return p.sender, nil
	}
	if p.token == "" {
		return nil, fmt.Errorf("missing telegram bot token")
	}
	b, err := bot.New(p.token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	p.sender = b
	return b, nil
}

func (p *TelegramProvider) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	sender, err := p.client()
	if err != nil {
		return "", err
	}

	var chatID any = recipient
	if id, err := strconv.ParseInt(recipient, 10, 64); err == nil {
		chatID = id
	}

	msg, err := sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   subject + "\n\n" + body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send Telegram message to chat_id %s: %w", recipient, err)
	}
	return strconv.Itoa(msg.ID), nil
}
