package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier pushes operational alerts to a Telegram chat. Delivery is
// best effort; a failed send is logged and dropped.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

func NewTelegramNotifier(token string, chatID int64, log *slog.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &TelegramNotifier{
		api:    api,
		chatID: chatID,
		log:    log,
	}, nil
}

func (n *TelegramNotifier) Alert(message string) {
	if _, err := n.api.Send(tgbotapi.NewMessage(n.chatID, message)); err != nil {
		n.log.Error("send ops alert", "err", err)
	}
}
