package server

import (
	"log/slog"
	"time"

	"github.com/hrygo/nudger/internal/profile"
	"github.com/hrygo/nudger/plugin/content"
	"github.com/hrygo/nudger/plugin/email"
	"github.com/hrygo/nudger/plugin/notify"
	"github.com/hrygo/nudger/plugin/notify/telegram"
	"github.com/hrygo/nudger/plugin/webhook"
	"github.com/hrygo/nudger/server/service/nudge"
	"github.com/hrygo/nudger/server/service/nudgestore"
	"github.com/hrygo/nudger/store"
)

// BuildDispatcher wires the nudge engine to the store and to the channels
// and content providers enabled in profile. recorder may be nil.
func BuildDispatcher(profile *profile.Profile, store *store.Store, engagement *nudgestore.Store, recorder nudge.Recorder, logger *slog.Logger) (*nudge.Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pusher, err := newPusher(profile, logger)
	if err != nil {
		return nil, err
	}
	mailer, err := newMailer(profile, logger)
	if err != nil {
		return nil, err
	}
	generator, err := newGenerator(profile, logger)
	if err != nil {
		return nil, err
	}

	return nudge.NewDispatcher(nudge.Dependencies{
		Users:      engagement,
		Population: engagement,
		Engagement: engagement,
		Records:    engagement,
		Content:    generator,
		Channel:    notify.NewNotifier(store, pusher, mailer),
		Locker:     newLocker(profile, store, logger),
	}, newDispatcherConfig(profile, recorder, logger))
}

func newDispatcherConfig(profile *profile.Profile, recorder nudge.Recorder, logger *slog.Logger) nudge.Config {
	return nudge.Config{
		Timing: nudge.TimingConfig{
			WeekendDelay: time.Duration(profile.WeekendDelayHours) * time.Hour,
		},
		Governor: nudge.GovernorConfig{
			DefaultMaxPerDay:  profile.DefaultMaxPerDay,
			DefaultMaxPerWeek: profile.DefaultMaxPerWeek,
			EnforceBackoff:    profile.EnforceBackoff,
		},
		Delivery: nudge.DeliveryConfig{
			PushTimeout:   profile.PushTimeout,
			EmailTimeout:  profile.EmailTimeout,
			MaxInFlight:   int64(profile.MaxInFlight),
			RatePerSecond: profile.ChannelRPS,
			Burst:         profile.ChannelBurst,
		},
		BatchSize:        profile.BatchSize,
		BatchConcurrency: profile.BatchConcurrency,
		Logger:           logger,
		Recorder:         recorder,
	}
}

// newPusher prefers Telegram over the generic webhook. A nil Pusher leaves
// push unconfigured so every dispatch falls back to email.
func newPusher(profile *profile.Profile, logger *slog.Logger) (notify.Pusher, error) {
	switch {
	case profile.TelegramBotToken != "":
		pusher, err := telegram.NewPusher(profile.TelegramBotToken, profile.PushTimeout)
		if err != nil {
			return nil, err
		}
		logger.Info("push channel enabled", "provider", "telegram")
		return pusher, nil
	case profile.PushWebhookURL != "":
		logger.Info("push channel enabled", "provider", "webhook", "url", profile.PushWebhookURL)
		return webhook.NewPusher(profile.PushWebhookURL), nil
	default:
		logger.Warn("no push channel configured")
		return nil, nil
	}
}

func newMailer(profile *profile.Profile, logger *slog.Logger) (notify.Mailer, error) {
	if profile.ResendAPIKey == "" {
		logger.Warn("no email channel configured")
		return nil, nil
	}
	mailer, err := email.NewMailer(&email.Config{APIKey: profile.ResendAPIKey, FromEmail: profile.EmailFrom, FromName: "Nudger", Timeout: profile.EmailTimeout})
	if err != nil {
		return nil, err
	}
	logger.Info("email channel enabled", "provider", "resend", "from", profile.EmailFrom)
	return mailer, nil
}

func newGenerator(profile *profile.Profile, logger *slog.Logger) (*content.Generator, error) {
	catalog, err := content.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	opts := []content.Option{content.WithLogger(logger)}
	if profile.IsAIEnabled() {
		rewriter := content.NewOpenAIRewriter(content.OpenAIConfig{
			APIKey:  profile.LLMAPIKey,
			BaseURL: profile.LLMBaseURL,
			Model:   profile.LLMModel,
			Timeout: profile.LLMTimeout,
		})
		opts = append(opts, content.WithRewriter(rewriter, profile.AIVariantRate))
		logger.Info("AI content variant enabled",
			"provider", profile.LLMProvider,
			"model", profile.LLMModel,
			"rate", profile.AIVariantRate,
		)
	}
	return content.NewGenerator(catalog, opts...), nil
}

// newLocker shares per-user leases through postgres. SQLite deployments run
// a single process, so an in-process lock is enough there.
func newLocker(profile *profile.Profile, store *store.Store, logger *slog.Logger) nudge.Locker {
	if profile.Driver == "postgres" {
		return nudge.NewLeaseLocker(store, profile.InstanceID, profile.LeaseTTL, profile.LockWait).WithLogger(logger)
	}
	return nudge.NewMemoryLocker(profile.LockWait)
}
