// Package telegram delivers push nudges as Telegram bot messages.
package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/hrygo/nudger/plugin/notify"
)

const DefaultParseMode = "Markdown"

// DefaultTimeout bounds a single Bot API request.
const DefaultTimeout = 30 * time.Second

// botSender is the part of *tgbotapi.BotAPI used for delivery.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Pusher implements notify.Pusher. The push target is the Telegram chat ID.
type Pusher struct {
	bot botSender
}

// NewPusher connects to the Bot API with token. Requests give up after
// timeout, or DefaultTimeout when it is not positive.
func NewPusher(token string, timeout time.Duration) (*Pusher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DisableCompression: true,
		},
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Telegram bot")
	}
	return &Pusher{bot: bot}, nil
}

func (p *Pusher) Push(ctx context.Context, target, title, body string, metadata map[string]string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return &notify.ChannelError{Code: notify.CodeInvalidRecipient, Message: "invalid chat ID " + target, Err: err}
	}
	msg := tgbotapi.NewMessage(chatID, formatText(title, body))
	msg.ParseMode = DefaultParseMode

	slog.Debug("telegram: sending nudge", "chat_id", chatID, "nudge_id", metadata["nudgeId"])
	return notify.Call(ctx, func() error {
		if _, err := p.bot.Send(msg); err != nil {
			return classify(err)
		}
		return nil
	})
}

func formatText(title, body string) string {
	if title == "" {
		return body
	}
	return "*" + strings.TrimSpace(title) + "*\n" + body
}

// classify maps Bot API errors onto channel error codes.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return notify.FromStatus(apiErr.Code, apiErr.Message)
	}
	return &notify.ChannelError{Code: notify.CodeTransport, Message: "telegram request failed", Err: err}
}
