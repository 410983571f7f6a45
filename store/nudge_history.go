package store

// NudgeSendRecord is one append-only row of send history.
type NudgeSendRecord struct {
	ID        string
	UserID    string
	NudgeType string
	Outcome   string
	CreatedTs int64
}

// FindNudgeSendRecord specifies the conditions for listing send records.
// Results are ordered oldest first.
type FindNudgeSendRecord struct {
	UserID  *string
	Outcome *string
	SinceTs *int64
	Limit   int
}

// Engagement event types.
const (
	EngagementEventSent    = "NUDGE_SENT"
	EngagementEventClicked = "NUDGE_CLICKED"
)

// NudgeEngagementEvent is a row of the engagement log: a send or a click.
type NudgeEngagementEvent struct {
	ID        int64
	UserID    string
	NudgeType string
	EventType string
	Outcome   string
	LocalHour int32
	CreatedTs int64
}

// FindNudgeEngagementEvent specifies the conditions for listing engagement events.
// Results are ordered oldest first.
type FindNudgeEngagementEvent struct {
	UserID    *string
	EventType *string
	SinceTs   *int64
	Limit     int
}
