package notifier

import (
	"context"
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"
)

// telegramSender delivers operator alerts to a Telegram chat.
type telegramSender struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func newTelegramSender(token string, chatID int64) (*telegramSender, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat_id are required")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: nil, // send-only; no update polling
	})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: bot, chat: &tele.Chat{ID: chatID}}, nil
}

func (t *telegramSender) SendAlert(ctx context.Context, text string) error {
	// telebot has no context plumbing; bound the call with a deadline check.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(t.chat, text)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("telegram send timed out")
	}
}
