package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier sends plain text messages outside of a conversation, e.g. broadcasts.
type Notifier struct {
	api *tgbotapi.BotAPI
}

func NewNotifier(api *tgbotapi.BotAPI) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}
