package notify

import (
	"context"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/xandylearning/zulip-sub000/internal/errors"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink sends event summaries to one chat. The bot client is created on
// first use so startup does not depend on the Telegram API.
type TelegramSink struct {
	token  string
	chatID int64

	mu     sync.Mutex
	bot    telegramSender
	newBot func(token string) (telegramSender, error)
}

func NewTelegramSink(token string, chatID int64) *TelegramSink {
	return &TelegramSink{
		token:  token,
		chatID: chatID,
		newBot: func(token string) (telegramSender, error) {
			return tgbotapi.NewBotAPI(token)
		},
	}
}

func (t *TelegramSink) Name() string {
	return "telegram"
}

func (t *TelegramSink) client() (telegramSender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := t.newBot(t.token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init telegram bot")
	}
	t.bot = bot
	return bot, nil
}

func (t *TelegramSink) Send(ctx context.Context, evt Event) error {
	bot, err := t.client()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := bot.Send(tgbotapi.NewMessage(t.chatID, evt.Summary())); err != nil {
		return errors.Wrap(err, "failed to send telegram message")
	}
	slog.Debug("Telegram notification sent", "chat_id", t.chatID, "event_id", evt.ID)
	return nil
}
