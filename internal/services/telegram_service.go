package services

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramService wraps the bot API for the chat surface. A nil receiver is
// a disabled integration: every method degrades to a no-op so callers do
// not need to guard.
type TelegramService struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger
}

func NewTelegramService(botToken string, logger *zap.Logger) (*TelegramService, error) {
	if botToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramService{bot: bot, log: logger.Named("telegram")}, nil
}

func (t *TelegramService) SendMessage(chatID int64, text string) {
	if t == nil || chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// SendConfirmPrompt asks the user to confirm or dismiss a proposed task.
// The record id rides in the callback data and comes back through the
// webhook as "ingest:<id>:yes|no".
func (t *TelegramService) SendConfirmPrompt(chatID int64, title string, recordID int64) {
	if t == nil || chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(chatID,
		fmt.Sprintf("Looks like a task: <b>%s</b>\nSchedule it?", title))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Schedule it", fmt.Sprintf("ingest:%d:yes", recordID)),
			tgbotapi.NewInlineKeyboardButtonData("Dismiss", fmt.Sprintf("ingest:%d:no", recordID)),
		),
	)
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Warn("confirm prompt failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (t *TelegramService) AnswerCallback(callbackID string) {
	if t == nil {
		return
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		t.log.Warn("callback ack failed", zap.Error(err))
	}
}

func (t *TelegramService) SetWebhook(url string) error {
	if t == nil || url == "" {
		return nil
	}
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	if _, err := t.bot.Request(wh); err != nil {
		return err
	}
	t.log.Info("webhook registered", zap.String("url", url))
	return nil
}
