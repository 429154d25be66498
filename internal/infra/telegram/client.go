// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/telebot.v3"
)

var ErrAlertsDisabled = errors.New("telegram alerts need both a token and a chat id")

// Alerter implements alert.Notifier using the gopkg.in/telebot.v3 library.
// It never polls for updates; it only sends to one operator chat.
type Alerter struct {
	bot    *telebot.Bot
	chatID int64
}

// NewAlerter builds an offline bot so startup does not depend on the
// Telegram API being reachable.
func NewAlerter(token string, chatID int64) (*Alerter, error) {
	if token == "" || chatID == 0 {
		return nil, ErrAlertsDisabled
	}
	b, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("could not create Telegram bot: %w", err)
	}
	return &Alerter{bot: b, chatID: chatID}, nil
}

// Alert sends text to the operator chat.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recipient := &telebot.Chat{ID: a.chatID} // Group or channel chat
	if _, err := a.bot.Send(recipient, text, &telebot.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("failed to send Telegram alert: %w", err)
	}
	return nil
}
