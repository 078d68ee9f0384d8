// Package notify implements the alerting surface Guardian and the OMS
// use to reach a human operator, grounded on bot/telegram.go's
// tgbotapi wiring but narrowed to a single alert method — command
// handling and dashboard-style reporting stay out of scope.
package notify

import (
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Notifier is the seam Guardian and the stop-loss retry loop depend
// on, so a test double can be substituted without a live bot token.
type Notifier interface {
	SendAlert(level Level, message string) error
}

// TelegramNotifier sends alerts to a single configured chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier reads TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID from
// the environment, matching the teacher's bot.NewTelegramBot.
func NewTelegramNotifier() (*TelegramNotifier, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if chatIDStr == "" {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 notifier initialized")
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

func (n *TelegramNotifier) SendAlert(level Level, message string) error {
	prefix := "ℹ️"
	switch level {
	case LevelWarning:
		prefix = "⚠️"
	case LevelCritical:
		prefix = "🚨"
	}
	msg := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("%s [%s] %s", prefix, level, message))
	_, err := n.api.Send(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to send telegram alert")
	}
	return err
}

// NullNotifier discards every alert; used when no bot token is
// configured so the rest of the system can run unmodified.
type NullNotifier struct{}

func (NullNotifier) SendAlert(level Level, message string) error {
	log.Warn().Str("level", string(level)).Str("message", message).Msg("notifier not configured, alert dropped")
	return nil
}
