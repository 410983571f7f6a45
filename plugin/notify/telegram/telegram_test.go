package telegram

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/nudger/plugin/notify"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

// hangingBot never answers until released.
type hangingBot struct {
	release chan struct{}
}

func (h *hangingBot) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-h.release
	return tgbotapi.Message{}, nil
}

func TestPush(t *testing.T) {
	bot := &fakeBot{}
	p := &Pusher{bot: bot}

	require.NoError(t, p.Push(context.Background(), "42", "Keep it up", "Your streak is alive", nil))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, "*Keep it up*\nYour streak is alive", bot.sent[0].Text)
	assert.Equal(t, DefaultParseMode, bot.sent[0].ParseMode)
}

func TestPushErrors(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		botErr    error
		retryable bool
	}{
		{name: "invalid chat id", target: "abc", retryable: false},
		{name: "blocked by user", target: "1", botErr: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, retryable: false},
		{name: "flood control", target: "1", botErr: &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}, retryable: true},
		{name: "network", target: "1", botErr: errors.New("connection reset"), retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pusher{bot: &fakeBot{err: tt.botErr}}
			err := p.Push(context.Background(), tt.target, "t", "b", nil)
			var chErr *notify.ChannelError
			require.ErrorAs(t, err, &chErr)
			assert.Equal(t, tt.retryable, chErr.IsRetryable())
		})
	}
}

func TestPushCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bot := &fakeBot{}
	err := (&Pusher{bot: bot}).Push(ctx, "1", "t", "b", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, bot.sent)
}

func TestPushHonoursDeadline(t *testing.T) {
	bot := &hangingBot{release: make(chan struct{})}
	defer close(bot.release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := (&Pusher{bot: bot}).Push(ctx, "1", "t", "b", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
