// Package notify отправляет служебные алерты администраторам.
// Если Telegram не настроен, алерты пишутся только в лог.
package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/config"
)

// Notifier — канал доставки алертов.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// New выбирает канал по конфигурации: Telegram или только лог.
func New(cfg *config.Config) (Notifier, error) {
	if !cfg.AlertsEnabled() {
		return LogNotifier{}, nil
	}
	return NewTelegram(cfg.AlertTelegramToken, cfg.AlertTelegramChatID)
}

// Telegram отправляет алерты в чат администраторов.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegram создаёт бота для алертов. Сеть при создании не используется.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram-бота для алертов: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Notify отправляет сообщение в чат администраторов.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(t.chatID), text)); err != nil {
		log.WithError(err).WithField("chat_id", t.chatID).Error("Ошибка отправки алерта")
		return err
	}
	return nil
}

// LogNotifier пишет алерты в лог.
type LogNotifier struct{}

// Notify пишет алерт в лог с уровнем Warn.
func (LogNotifier) Notify(_ context.Context, text string) error {
	log.WithField("alert", true).Warn(text)
	return nil
}
