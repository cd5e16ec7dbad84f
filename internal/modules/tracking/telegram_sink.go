// README: Telegram live-location messages for chat tracking sessions.
package tracking

import (
	"context"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
)

// BotSender is satisfied by *tgbotapi.BotAPI.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramSink sends a live location when a chat session starts, edits it on
// every refresh and deletes it on stop. Sessions without a chat are ignored.
type TelegramSink struct {
	bot        BotSender
	livePeriod time.Duration
}

func NewTelegramSink(bot BotSender, livePeriod time.Duration) *TelegramSink {
	return &TelegramSink{bot: bot, livePeriod: livePeriod}
}

func (t *TelegramSink) Start(_ context.Context, s Session, u Update) (int, error) {
	if s.Key.Chat == 0 || u.Position == nil {
		return 0, nil
	}
	loc := tgbotapi.NewLocation(s.Key.Chat, u.Position.Lat, u.Position.Lng)
	loc.LivePeriod = int(t.livePeriod.Seconds())
	msg, err := t.bot.Send(loc)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (t *TelegramSink) Refresh(_ context.Context, s Session, u Update) error {
	if s.Key.Chat == 0 || s.LastMessageID == 0 || u.Position == nil {
		return nil
	}
	edit := tgbotapi.EditMessageLiveLocationConfig{
		BaseEdit: tgbotapi.BaseEdit{
			BaseChatMessage: tgbotapi.BaseChatMessage{
				ChatConfig: tgbotapi.ChatConfig{ChatID: s.Key.Chat},
				MessageID:  s.LastMessageID,
			},
		},
		Latitude:  u.Position.Lat,
		Longitude: u.Position.Lng,
	}
	_, err := t.bot.Request(edit)
	return err
}

func (t *TelegramSink) Stop(_ context.Context, s Session, _ Update) error {
	if s.Key.Chat == 0 || s.LastMessageID == 0 {
		return nil
	}
	_, err := t.bot.Request(tgbotapi.NewDeleteMessage(s.Key.Chat, s.LastMessageID))
	return err
}
