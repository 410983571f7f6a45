package nudge

import (
	"context"
	"time"
)

// UserStore resolves a user's nudge profile.
// Implementations return an error wrapping ErrUserNotFound for unknown users.
type UserStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// PopulationSource pages through the user population for batch runs.
// Pages are ordered by user ID; afterUserID is exclusive.
type PopulationSource interface {
	ListProfiles(ctx context.Context, afterUserID string, limit int) ([]*Profile, error)
}

// EngagementLogStore holds click history and the delivery log.
type EngagementLogStore interface {
	RecentClickSamples(ctx context.Context, userID string, lookback time.Duration) ([]EngagementSample, error)
	RecordDelivery(ctx context.Context, userID, nudgeType string, outcome Outcome, at time.Time) error
}

// SendRecordStore is the append-only send history read by the governor.
type SendRecordStore interface {
	AppendSendRecord(ctx context.Context, rec SendRecord) error
	// ListSendRecords returns records at or after since, oldest first.
	ListSendRecords(ctx context.Context, userID string, since time.Time) ([]SendRecord, error)
}

// ContentGenerator produces nudge content. A nil Content means there is
// nothing worth sending.
type ContentGenerator interface {
	Generate(ctx context.Context, nudgeType string, params map[string]any) (*Content, error)
}

// NotificationChannel sends through the push and email providers.
type NotificationChannel interface {
	SendPush(ctx context.Context, userID, title, body string, metadata map[string]string) error
	SendEmail(ctx context.Context, userID, title, body string) error
}

// Recorder receives dispatch telemetry.
type Recorder interface {
	ObserveDispatch(nudgeType string, outcome Outcome, d time.Duration)
	ObserveChannelAttempt(channel string, err error, d time.Duration)
	ObserveLockContention()
	ObserveBatch(nudgeType string, users int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDispatch(string, Outcome, time.Duration)      {}
func (noopRecorder) ObserveChannelAttempt(string, error, time.Duration) {}
func (noopRecorder) ObserveLockContention()                              {}
func (noopRecorder) ObserveBatch(string, int)                            {}
