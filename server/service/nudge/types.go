// Package nudge decides when a user should receive an engagement nudge,
// whether they may receive one at all, and delivers it through a push
// channel with an email fallback.
//
// The package owns no durable state. Profiles, send history, engagement
// samples and per-user leases live behind the interfaces in interfaces.go.
package nudge

import (
	"time"
)

// Outcome is the terminal state of one dispatch attempt.
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeSkippedCap       Outcome = "skipped_cap"
	OutcomeSkippedDisabled  Outcome = "skipped_disabled"
	OutcomeSkippedNoContent Outcome = "skipped_no_content"
	OutcomeSkippedLocked    Outcome = "skipped_locked"
	OutcomeSkippedBackoff   Outcome = "skipped_backoff"
	OutcomeFailed           Outcome = "failed"
)

// IsSkipped reports whether the outcome is one of the skipped_* states.
func (o Outcome) IsSkipped() bool {
	switch o {
	case OutcomeSkippedCap, OutcomeSkippedDisabled, OutcomeSkippedNoContent, OutcomeSkippedLocked, OutcomeSkippedBackoff:
		return true
	}
	return false
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeDelivered || o == OutcomeFailed || o.IsSkipped()
}

// Nudge types triggered by the built-in jobs. Generators may accept others.
const (
	TypeDailyTip        = "DAILY_TIP"
	TypeStreakWarning   = "STREAK_WARNING"
	TypeEveningReminder = "EVENING_REMINDER"
	TypeSocialProof     = "SOCIAL_PROOF_REALTIME"
	TypeCompetitiveProd = "COMPETITIVE_PROD"
)

// Profile is the per-user configuration the engine reads. It is never
// mutated by the engine.
type Profile struct {
	UserID             string
	Timezone           string
	NudgesEnabled      bool
	MaxPerDay          int
	MaxPerWeek         int
	PreferredHourLocal *int
	WeekendDeferral    bool

	// Facts forwarded to content generation and audience filters.
	Locale         string
	Persona        string
	CurrentStreak  int
	LastActivityAt time.Time
}

// SendRecord is one append-only row of send history.
type SendRecord struct {
	ID        string
	UserID    string
	NudgeType string
	Outcome   Outcome
	At        time.Time
}

// EngagementSample is a historical click on a nudge, expressed in the
// user's local hour.
type EngagementSample struct {
	UserID           string
	LocalHourOfClick int
	At               time.Time
}

// TimezoneCohort is a group of users sharing one timezone identifier.
type TimezoneCohort struct {
	Timezone      string    `json:"timezone"`
	OffsetMinutes int       `json:"offsetMinutes"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	UserIDs       []string  `json:"userIds"`
}

// Content is what a generator produced for one user.
type Content struct {
	Title    string
	Body     string
	Priority string
	Locale   string
	Variant  string
}

// Message is the payload handed to notification channels.
type Message struct {
	Title    string
	Body     string
	Metadata map[string]string
}

// Channel names reported in attempts.
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// ChannelAttempt records one call to a notification channel.
type ChannelAttempt struct {
	Channel  string        `json:"channel"`
	Attempt  int           `json:"attempt"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DeliveryResult is the final verdict of the fallback chain.
type DeliveryResult struct {
	Delivered bool             `json:"delivered"`
	Channel   string           `json:"channel,omitempty"`
	Attempts  []ChannelAttempt `json:"attempts"`
}

// DispatchResult describes the terminal state of a single user dispatch.
type DispatchResult struct {
	UserID      string           `json:"userId"`
	NudgeType   string           `json:"nudgeType"`
	NudgeID     string           `json:"nudgeId,omitempty"`
	Outcome     Outcome          `json:"outcome"`
	Channel     string           `json:"channel,omitempty"`
	Attempts    []ChannelAttempt `json:"attempts,omitempty"`
	ScheduledAt time.Time        `json:"scheduledAt"`
}

// BatchReport summarizes a DispatchBatch or PlanBatch run.
type BatchReport struct {
	RunID           string                     `json:"runId"`
	NudgeType       string                     `json:"nudgeType"`
	TargetLocalHour int                        `json:"targetLocalHour"`
	Cohorts         []TimezoneCohort           `json:"cohorts"`
	Results         map[string]*DispatchResult `json:"results"`
	Errors          map[string]string          `json:"errors,omitempty"`
	Cancelled       []string                   `json:"cancelled,omitempty"`
	Counts          map[Outcome]int            `json:"counts"`
}

func newBatchReport(runID, nudgeType string, targetLocalHour int) *BatchReport {
	return &BatchReport{
		RunID:           runID,
		NudgeType:       nudgeType,
		TargetLocalHour: targetLocalHour,
		Results:         make(map[string]*DispatchResult),
		Errors:          make(map[string]string),
		Counts:          make(map[Outcome]int),
	}
}
