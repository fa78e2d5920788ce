package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

// TelegramNotifier sends connection alerts to an operator chat. A notifier
// without a bot is disabled and every call is a no-op.
type TelegramNotifier struct {
	Bot           *tgbotapi.BotAPI
	defaultChatID int64
	log           *slog.Logger
}

var _ interfaces.Notifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(token string, defaultChatID int64, log *slog.Logger) *TelegramNotifier {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "telegram"))
	if token == "" {
		return &TelegramNotifier{defaultChatID: defaultChatID, log: log}
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Warn("telegram bot token issue, alerts disabled", slog.Any("error", err))
		return &TelegramNotifier{defaultChatID: defaultChatID, log: log}
	}
	return &TelegramNotifier{Bot: bot, defaultChatID: defaultChatID, log: log}
}

func (t *TelegramNotifier) Enabled() bool {
	return t.Bot != nil
}

func (t *TelegramNotifier) NotifyConnectionStatus(_ context.Context, conn *entities.Connection, previous, current entities.ConnectionStatus) error {
	if t.Bot == nil {
		return nil
	}
	chatID := conn.AlertChatID
	if chatID == 0 {
		chatID = t.defaultChatID
	}
	if chatID == 0 {
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, formatStatusAlert(conn, previous, current))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.Bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

func formatStatusAlert(conn *entities.Connection, previous, current entities.ConnectionStatus) string {
	icon := "✅"
	if current == entities.ConnectionDisconnected {
		icon = "⚠️"
	}
	return fmt.Sprintf("%s *Connection %s*\nInstance: `%s`\nTenant: `%s`\nStatus: %s → *%s*",
		icon, current, conn.InstanceName, conn.TenantID, previous, current)
}
