package store

// NudgeProfile is a user's nudge settings plus the activity facts used for
// targeting.
type NudgeProfile struct {
	UserID          string
	Timezone        string
	Locale          string
	Persona         string
	Email           string
	PushTarget      string
	PreferredHour   *int32
	MaxPerDay       int32
	MaxPerWeek      int32
	CurrentStreak   int32
	LastActivityTs  int64
	CreatedTs       int64
	UpdatedTs       int64
	NudgesEnabled   bool
	WeekendDeferral bool
}

// FindNudgeProfile specifies the conditions for listing profiles.
// Results are ordered by user ID; AfterUserID is exclusive.
type FindNudgeProfile struct {
	UserID      *string
	AfterUserID string
	Limit       int
}

// DeleteNudgeProfile specifies the profile to delete.
type DeleteNudgeProfile struct {
	UserID string
}
