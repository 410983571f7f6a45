package nudge

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DeliveryConfig configures the push then email fallback chain.
type DeliveryConfig struct {
	PushTimeout  time.Duration
	EmailTimeout time.Duration
	// MaxInFlight bounds concurrent provider calls across all dispatches.
	MaxInFlight int64
	// RatePerSecond and Burst bound provider throughput. Zero disables.
	RatePerSecond float64
	Burst         int
}

// DefaultDeliveryConfig returns the production delivery defaults.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		PushTimeout:   10 * time.Second,
		EmailTimeout:  15 * time.Second,
		MaxInFlight:   32,
		RatePerSecond: 20,
		Burst:         10,
	}
}

// FallbackChain delivers a message via push, retrying once on a transient
// failure, and falls back to a single email attempt.
type FallbackChain struct {
	channel  NotificationChannel
	cfg      DeliveryConfig
	inFlight *semaphore.Weighted
	limiter  *rate.Limiter
	logger   *slog.Logger
	recorder Recorder
}

// NewFallbackChain creates a FallbackChain. logger and recorder may be nil.
func NewFallbackChain(channel NotificationChannel, cfg DeliveryConfig, logger *slog.Logger, recorder Recorder) *FallbackChain {
	def := DefaultDeliveryConfig()
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = def.PushTimeout
	}
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = def.EmailTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}

	chain := &FallbackChain{
		channel:  channel,
		cfg:      cfg,
		inFlight: semaphore.NewWeighted(cfg.MaxInFlight),
		logger:   logger,
		recorder: recorder,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		chain.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return chain
}

// Deliver runs the chain for one user. It never returns an error; a message
// that no channel accepted comes back with Delivered=false.
func (c *FallbackChain) Deliver(ctx context.Context, userID string, msg Message) *DeliveryResult {
	result := &DeliveryResult{}

	pushErr := c.attempt(ctx, result, userID, ChannelPush, 1, func(actx context.Context) error {
		return c.channel.SendPush(actx, userID, msg.Title, msg.Body, msg.Metadata)
	})
	if pushErr == nil {
		result.Delivered, result.Channel = true, ChannelPush
		return result
	}

	if IsTransient(pushErr) {
		pushErr = c.attempt(ctx, result, userID, ChannelPush, 2, func(actx context.Context) error {
			return c.channel.SendPush(actx, userID, msg.Title, msg.Body, msg.Metadata)
		})
		if pushErr == nil {
			result.Delivered, result.Channel = true, ChannelPush
			return result
		}
	}

	emailErr := c.attempt(ctx, result, userID, ChannelEmail, 1, func(actx context.Context) error {
		return c.channel.SendEmail(actx, userID, msg.Title, msg.Body)
	})
	if emailErr == nil {
		result.Delivered, result.Channel = true, ChannelEmail
	}
	return result
}

func (c *FallbackChain) attempt(ctx context.Context, result *DeliveryResult, userID, channel string, n int, send func(context.Context) error) error {
	timeout := c.cfg.PushTimeout
	if channel == ChannelEmail {
		timeout = c.cfg.EmailTimeout
	}

	start := time.Now()
	err := c.call(ctx, timeout, send)
	elapsed := time.Since(start)

	a := ChannelAttempt{Channel: channel, Attempt: n, Duration: elapsed}
	if err != nil {
		a.Error = err.Error()
		c.logger.Warn("nudge channel attempt failed",
			"user_id", userID,
			"channel", channel,
			"attempt", n,
			"transient", IsTransient(err),
			"duration", elapsed,
			"error", err,
		)
	} else {
		c.logger.Info("nudge channel attempt succeeded",
			"user_id", userID,
			"channel", channel,
			"attempt", n,
			"duration", elapsed,
		)
	}
	result.Attempts = append(result.Attempts, a)
	c.recorder.ObserveChannelAttempt(channel, err, elapsed)
	return err
}

func (c *FallbackChain) call(ctx context.Context, timeout time.Duration, send func(context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(actx); err != nil {
			return err
		}
	}
	if err := c.inFlight.Acquire(actx, 1); err != nil {
		return err
	}
	defer c.inFlight.Release(1)

	return send(actx)
}
