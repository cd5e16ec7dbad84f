// README: Telegram bot client used for customer live-location messages.
package infra

import (
	"fmt"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
)

func NewTelegram(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return api, nil
}
