package nudge

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultBatchSize        = 500
	DefaultBatchConcurrency = 8
)

// Dependencies are the collaborators a Dispatcher drives.
type Dependencies struct {
	Users      UserStore
	Population PopulationSource
	Engagement EngagementLogStore
	Records    SendRecordStore
	Content    ContentGenerator
	Channel    NotificationChannel
	Locker     Locker
}

// Config tunes a Dispatcher.
type Config struct {
	Timing           TimingConfig
	Governor         GovernorConfig
	Delivery         DeliveryConfig
	BatchSize        int
	BatchConcurrency int
	Clock            func() time.Time
	Logger           *slog.Logger
	Recorder         Recorder
}

// Dispatcher runs the per-user dispatch state machine:
// lock, govern, generate, deliver, record.
type Dispatcher struct {
	deps     Dependencies
	cfg      Config
	timing   *TimingEngine
	governor *FrequencyGovernor
	chain    *FallbackChain
	batcher  TimezoneBatcher
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewDispatcher wires a Dispatcher. Records defaults to an in-memory store
// and Locker to an in-process locker.
func NewDispatcher(deps Dependencies, cfg Config) (*Dispatcher, error) {
	if deps.Users == nil {
		return nil, errors.New("user store is required")
	}
	if deps.Content == nil {
		return nil, errors.New("content generator is required")
	}
	if deps.Channel == nil {
		return nil, errors.New("notification channel is required")
	}
	if deps.Records == nil {
		deps.Records = NewMemorySendRecordStore()
	}
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Governor.Clock == nil {
		cfg.Governor.Clock = cfg.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}

	return &Dispatcher{
		deps:     deps,
		cfg:      cfg,
		timing:   NewTimingEngine(cfg.Timing),
		governor: NewFrequencyGovernor(deps.Users, deps.Records, deps.Engagement, cfg.Governor),
		chain:    NewFallbackChain(deps.Channel, cfg.Delivery, cfg.Logger, cfg.Recorder),
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		now:      cfg.Clock,
	}, nil
}

func (d *Dispatcher) Governor() *FrequencyGovernor {
	return d.governor
}

func (d *Dispatcher) Timing() *TimingEngine {
	return d.timing
}

// OptimalSendTime loads the user's profile and click history and computes
// the send instant for the local day of ref.
func (d *Dispatcher) OptimalSendTime(ctx context.Context, userID string, ref time.Time) (time.Time, error) {
	p, err := d.deps.Users.GetProfile(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	var samples []EngagementSample
	if d.deps.Engagement != nil {
		samples, err = d.deps.Engagement.RecentClickSamples(ctx, userID, d.timing.Lookback())
		if err != nil {
			return time.Time{}, errors.Wrap(err, "failed to load click samples")
		}
	}
	return d.timing.ComputeOptimalSendTime(p, samples, ref), nil
}

// DispatchToUser attempts one nudge for one user.
//
// Skips, channel failures and lock contention are reported through the
// result's Outcome. An error is returned for unknown users, which records
// nothing, and for failures of the backing stores. When bookkeeping fails
// after a terminal outcome the result is still returned with the error.
func (d *Dispatcher) DispatchToUser(ctx context.Context, userID, nudgeType string, params map[string]any) (*DispatchResult, error) {
	if nudgeType == "" {
		return nil, ErrInvalidNudgeType
	}
	start := time.Now()
	result := &DispatchResult{UserID: userID, NudgeType: nudgeType}

	unlock, ok, err := d.deps.Locker.TryLock(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock user %s", userID)
	}
	if !ok {
		d.recorder.ObserveLockContention()
		result.Outcome = OutcomeSkippedLocked
		return result, d.finish(ctx, result, start)
	}
	defer unlock()

	p, err := d.deps.Users.GetProfile(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load profile for user %s", userID)
	}
	if p == nil {
		return nil, errors.Wrapf(ErrUserNotFound, "user %s", userID)
	}

	decision, err := d.governor.Evaluate(ctx, p, nudgeType)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		result.Outcome = decision.Outcome
		d.logger.Info("nudge skipped", "user_id", userID, "nudge_type", nudgeType, "outcome", decision.Outcome, "reason", decision.Reason)
		return result, d.finish(ctx, result, start)
	}

	content, err := d.deps.Content.Generate(ctx, nudgeType, contentParams(p, params))
	if err != nil {
		d.logger.Warn("nudge content generation failed", "user_id", userID, "nudge_type", nudgeType, "error", err)
		content = nil
	}
	if content == nil {
		result.Outcome = OutcomeSkippedNoContent
		return result, d.finish(ctx, result, start)
	}

	result.NudgeID = uuid.NewString()
	metadata := map[string]string{
		"nudgeId":   result.NudgeID,
		"nudgeType": nudgeType,
	}
	if content.Priority != "" {
		metadata["priority"] = content.Priority
	}
	if content.Variant != "" {
		metadata["variant"] = content.Variant
	}

	delivery := d.chain.Deliver(ctx, userID, Message{Title: content.Title, Body: content.Body, Metadata: metadata})
	result.Attempts = delivery.Attempts
	result.Channel = delivery.Channel
	result.Outcome = OutcomeFailed
	if delivery.Delivered {
		result.Outcome = OutcomeDelivered
	}
	return result, d.finish(ctx, result, start)
}

// finish records the terminal outcome. Bookkeeping runs detached from
// cancellation so a delivered nudge is always counted against the cap.
func (d *Dispatcher) finish(ctx context.Context, result *DispatchResult, start time.Time) error {
	rctx := context.WithoutCancel(ctx)
	d.recorder.ObserveDispatch(result.NudgeType, result.Outcome, time.Since(start))

	if err := d.governor.RecordAttempt(rctx, result.UserID, result.NudgeType, result.Outcome); err != nil {
		d.logger.Error("failed to record nudge attempt", "user_id", result.UserID, "outcome", result.Outcome, "error", err)
		return err
	}
	if d.deps.Engagement != nil && (result.Outcome == OutcomeDelivered || result.Outcome == OutcomeFailed) {
		if err := d.deps.Engagement.RecordDelivery(rctx, result.UserID, result.NudgeType, result.Outcome, d.now()); err != nil {
			d.logger.Error("failed to log nudge delivery", "user_id", result.UserID, "outcome", result.Outcome, "error", err)
			return errors.Wrap(err, "failed to log nudge delivery")
		}
	}

	if result.Outcome == OutcomeFailed {
		d.logger.Warn("nudge delivery exhausted all channels", "user_id", result.UserID, "nudge_type", result.NudgeType, "attempts", len(result.Attempts))
	} else if result.Outcome == OutcomeDelivered {
		d.logger.Info("nudge delivered", "user_id", result.UserID, "nudge_type", result.NudgeType, "channel", result.Channel, "nudge_id", result.NudgeID)
	}
	return nil
}

func contentParams(p *Profile, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+5)
	out["user_id"] = p.UserID
	out["timezone"] = p.Timezone
	out["locale"] = p.Locale
	out["persona"] = p.Persona
	out["streak"] = p.CurrentStreak
	maps.Copy(out, params)
	return out
}
