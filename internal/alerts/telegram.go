package alerts

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramAlerter pushes alerts to a Telegram chat.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramAlerter creates a Telegram-backed alerter. It validates the token
// against the Bot API before returning.
func NewTelegramAlerter(token string, chatID int64, log zerolog.Logger) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Int64("chat_id", chatID).Msg("Telegram alerter connected")
	return &TelegramAlerter{bot: bot, chatID: chatID, log: log}, nil
}

// Send posts the alert as a Markdown message.
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	msg := tgbotapi.NewMessage(t.chatID, formatAlert(alert))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

func formatAlert(alert Alert) string {
	var emoji string
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	default:
		emoji = "ℹ️"
	}

	text := fmt.Sprintf("%s *%s*\n%s\n", emoji, alert.Title, alert.Message)
	for key, value := range alert.Fields {
		text += fmt.Sprintf("`%s`: %v\n", key, value)
	}
	text += fmt.Sprintf("_%s_", alert.Timestamp.Format(time.RFC3339))
	return text
}
