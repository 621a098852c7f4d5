// Package notifier contains the Telegram delivery side of the bridge.
package notifier

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/rs/zerolog"

	"github.com/kosvc/max-bridge/internal/domain"
)

// TelegramNotifier implements domain.Notifier over the Telegram Bot API
type TelegramNotifier struct {
	bot    *tgbot.Bot
	logger zerolog.Logger
}

// NewTelegram creates a notifier from a bot token
func NewTelegram(token string, logger zerolog.Logger) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	bot, err := tgbot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info().Msg("Telegram bot created successfully")

	return &TelegramNotifier{
		bot:    bot,
		logger: logger.With().Str("component", "telegram_notifier").Logger(),
	}, nil
}

// Raw returns the underlying telegram bot for handler registration
func (n *TelegramNotifier) Raw() *tgbot.Bot {
	return n.bot
}

// Start runs the bot update loop (blocking call)
func (n *TelegramNotifier) Start(ctx context.Context) {
	n.logger.Info().Msg("Starting Telegram bot...")
	n.bot.Start(ctx)
	n.logger.Info().Msg("Telegram bot stopped")
}

// NotifyText sends plain text to a Telegram chat. The target is either an
// owner's private chat or a linked group.
func (n *TelegramNotifier) NotifyText(ctx context.Context, chatID int64, text string) error {
	_, err := n.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

var _ domain.Notifier = (*TelegramNotifier)(nil)
