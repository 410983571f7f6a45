package nudge

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultMaxPerDay       = 3
	DefaultMaxPerWeek      = 10
	DefaultBaseBackoffHour = 24
	DefaultMaxBackoffHour  = 168
)

// WindowKind selects the rolling window checked by CanSend.
type WindowKind string

const (
	WindowDaily  WindowKind = "daily"
	WindowWeekly WindowKind = "weekly"
)

// Duration is the length of the rolling window.
func (w WindowKind) Duration() time.Duration {
	if w == WindowWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// GovernorConfig holds the system-wide frequency defaults.
type GovernorConfig struct {
	DefaultMaxPerDay  int
	DefaultMaxPerWeek int
	BaseBackoffHours  int
	MaxBackoffHours   int
	// EnforceBackoff makes Evaluate skip users whose last delivery is
	// younger than their current backoff.
	EnforceBackoff bool
	// RepeatWindows is the minimum gap between two deliveries of the same
	// nudge type, keyed by type. Types without an entry may repeat freely.
	RepeatWindows map[string]time.Duration
	Clock         func() time.Time
}

// DefaultRepeatWindows keeps a streak warning to one per lapse.
func DefaultRepeatWindows() map[string]time.Duration {
	return map[string]time.Duration{
		TypeStreakWarning: 24 * time.Hour,
	}
}

// Decision is the governor's verdict for one dispatch.
type Decision struct {
	Allowed bool
	Outcome Outcome
	Reason  string
}

// FrequencyGovernor enforces per-user caps and computes backoff.
type FrequencyGovernor struct {
	users   UserStore
	records SendRecordStore
	clicks  EngagementLogStore
	cfg     GovernorConfig
}

// NewFrequencyGovernor creates a governor. clicks may be nil, in which case
// every delivery counts as ignored when computing backoff.
func NewFrequencyGovernor(users UserStore, records SendRecordStore, clicks EngagementLogStore, cfg GovernorConfig) *FrequencyGovernor {
	if cfg.DefaultMaxPerDay <= 0 {
		cfg.DefaultMaxPerDay = DefaultMaxPerDay
	}
	if cfg.DefaultMaxPerWeek <= 0 {
		cfg.DefaultMaxPerWeek = DefaultMaxPerWeek
	}
	if cfg.BaseBackoffHours <= 0 {
		cfg.BaseBackoffHours = DefaultBaseBackoffHour
	}
	if cfg.MaxBackoffHours <= 0 {
		cfg.MaxBackoffHours = DefaultMaxBackoffHour
	}
	if cfg.RepeatWindows == nil {
		cfg.RepeatWindows = DefaultRepeatWindows()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &FrequencyGovernor{users: users, records: records, clicks: clicks, cfg: cfg}
}

// Limits returns the effective daily and weekly caps for p.
func (g *FrequencyGovernor) Limits(p *Profile) (int, int) {
	daily, weekly := p.MaxPerDay, p.MaxPerWeek
	if daily <= 0 {
		daily = g.cfg.DefaultMaxPerDay
	}
	if weekly <= 0 {
		weekly = g.cfg.DefaultMaxPerWeek
	}
	return daily, weekly
}

// CanSend reports whether the user may receive another nudge within the
// given rolling window.
func (g *FrequencyGovernor) CanSend(ctx context.Context, userID string, window WindowKind) (bool, error) {
	p, err := g.users.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	if !p.NudgesEnabled {
		return false, nil
	}

	daily, weekly := g.Limits(p)
	limit := daily
	if window == WindowWeekly {
		limit = weekly
	}
	count, err := g.deliveredSince(ctx, userID, g.cfg.Clock().Add(-window.Duration()))
	if err != nil {
		return false, err
	}
	return count < limit, nil
}

// Evaluate applies every send rule for nudgeType to an already loaded profile.
func (g *FrequencyGovernor) Evaluate(ctx context.Context, p *Profile, nudgeType string) (Decision, error) {
	if !p.NudgesEnabled {
		return Decision{Outcome: OutcomeSkippedDisabled, Reason: "nudges disabled"}, nil
	}

	now := g.cfg.Clock()
	records, err := g.records.ListSendRecords(ctx, p.UserID, now.Add(-WindowWeekly.Duration()))
	if err != nil {
		return Decision{}, errors.Wrap(err, "failed to list send records")
	}

	daily, weekly := g.Limits(p)
	dayStart := now.Add(-WindowDaily.Duration())
	var inDay, inWeek int
	var lastDelivered, lastOfType time.Time
	for _, rec := range records {
		if rec.Outcome != OutcomeDelivered {
			continue
		}
		inWeek++
		if !rec.At.Before(dayStart) {
			inDay++
		}
		if rec.At.After(lastDelivered) {
			lastDelivered = rec.At
		}
		if rec.NudgeType == nudgeType && rec.At.After(lastOfType) {
			lastOfType = rec.At
		}
	}
	if inDay >= daily {
		return Decision{Outcome: OutcomeSkippedCap, Reason: "daily cap reached"}, nil
	}
	if inWeek >= weekly {
		return Decision{Outcome: OutcomeSkippedCap, Reason: "weekly cap reached"}, nil
	}
	if window := g.cfg.RepeatWindows[nudgeType]; window > 0 && !lastOfType.IsZero() && now.Sub(lastOfType) < window {
		return Decision{Outcome: OutcomeSkippedCap, Reason: nudgeType + " already delivered"}, nil
	}

	if g.cfg.EnforceBackoff && !lastDelivered.IsZero() {
		hours, err := g.ComputeBackoffHours(ctx, p.UserID)
		if err != nil {
			return Decision{}, err
		}
		if now.Sub(lastDelivered) < time.Duration(hours)*time.Hour {
			return Decision{Outcome: OutcomeSkippedBackoff, Reason: "backoff in effect"}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// RecordAttempt appends a send record for the outcome.
func (g *FrequencyGovernor) RecordAttempt(ctx context.Context, userID, nudgeType string, outcome Outcome) error {
	rec := SendRecord{
		UserID:    userID,
		NudgeType: nudgeType,
		Outcome:   outcome,
		At:        g.cfg.Clock(),
	}
	if err := g.records.AppendSendRecord(ctx, rec); err != nil {
		return errors.Wrapf(err, "failed to record %s attempt for user %s", outcome, userID)
	}
	return nil
}

// ComputeBackoffHours returns the minimum delay before the next nudge. It
// starts at the base delay and doubles for every further attempt in the
// latest run the user did not engage with, up to the maximum.
func (g *FrequencyGovernor) ComputeBackoffHours(ctx context.Context, userID string) (int, error) {
	now := g.cfg.Clock()
	lookback := time.Duration(g.cfg.MaxBackoffHours) * time.Hour * 4
	records, err := g.records.ListSendRecords(ctx, userID, now.Add(-lookback))
	if err != nil {
		return 0, errors.Wrap(err, "failed to list send records")
	}

	var clicks []EngagementSample
	if g.clicks != nil {
		clicks, err = g.clicks.RecentClickSamples(ctx, userID, lookback)
		if err != nil {
			return 0, errors.Wrap(err, "failed to load click samples")
		}
	}

	run := 0
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Outcome == OutcomeSkippedLocked {
			continue
		}
		if rec.Outcome == OutcomeDelivered && clickedAfter(clicks, rec.At) {
			break
		}
		run++
	}

	hours := g.cfg.BaseBackoffHours
	for i := 1; i < run && hours < g.cfg.MaxBackoffHours; i++ {
		hours *= 2
	}
	if hours > g.cfg.MaxBackoffHours {
		hours = g.cfg.MaxBackoffHours
	}
	return hours, nil
}

func clickedAfter(clicks []EngagementSample, at time.Time) bool {
	for _, c := range clicks {
		if !c.At.Before(at) {
			return true
		}
	}
	return false
}

func (g *FrequencyGovernor) deliveredSince(ctx context.Context, userID string, since time.Time) (int, error) {
	records, err := g.records.ListSendRecords(ctx, userID, since)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list send records")
	}
	count := 0
	for _, rec := range records {
		if rec.Outcome == OutcomeDelivered {
			count++
		}
	}
	return count, nil
}

// MemorySendRecordStore keeps send history in process memory. Suitable for
// single-instance deployments and tests.
type MemorySendRecordStore struct {
	mu      sync.RWMutex
	records map[string][]SendRecord
}

func NewMemorySendRecordStore() *MemorySendRecordStore {
	return &MemorySendRecordStore{records: make(map[string][]SendRecord)}
}

func (s *MemorySendRecordStore) AppendSendRecord(_ context.Context, rec SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = append(s.records[rec.UserID], rec)
	return nil
}

func (s *MemorySendRecordStore) ListSendRecords(_ context.Context, userID string, since time.Time) ([]SendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SendRecord
	for _, rec := range s.records[userID] {
		if !rec.At.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}
