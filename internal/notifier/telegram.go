// Package notifier dispatches match notifications to users over
// Telegram. The engine treats it as a thin external sink: the ledger,
// not the notifier, guarantees at-most-once delivery.
package notifier

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/verify"
)

// Sender delivers one message to one user chat.
type Sender interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Telegram sends through the Bot API.
type Telegram struct {
	api    *tgbotapi.BotAPI
	logger zerolog.Logger
}

func NewTelegram(token string, logger zerolog.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}
	return &Telegram{
		api:    api,
		logger: logger,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) error {
	if t == nil || t.api == nil {
		return fmt.Errorf("telegram notifier is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	message := tgbotapi.NewMessage(chatID, text)
	message.DisableWebPagePreview = true
	if _, err := t.api.Send(message); err != nil {
		return fmt.Errorf("send telegram message chat_id=%d: %w", chatID, err)
	}
	return nil
}

const excerptLimit = 400

// FormatMatch renders the user-facing notification text.
func FormatMatch(post db.Post, result verify.Result) string {
	var b strings.Builder
	b.WriteString("Найдено объявление")
	if post.GroupTitle != "" {
		b.WriteString(" в «")
		b.WriteString(post.GroupTitle)
		b.WriteString("»")
	}
	b.WriteString(":\n\n")
	b.WriteString(excerpt(post.Text))
	if result.Reason != "" {
		b.WriteString("\n\n")
		b.WriteString(result.Reason)
	}
	return b.String()
}

func excerpt(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= excerptLimit {
		return trimmed
	}
	return string(runes[:excerptLimit]) + "…"
}
