package nudge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupByTimezone(t *testing.T) {
	ref := time.Date(2025, 1, 20, 3, 0, 0, 0, time.UTC)
	users := []*Profile{
		{UserID: "user-1", Timezone: "Asia/Tokyo"},
		{UserID: "user-2", Timezone: "America/New_York"},
		{UserID: "user-3", Timezone: "Asia/Tokyo"},
		{UserID: "user-4", Timezone: "America/New_York"},
	}

	cohorts := TimezoneBatcher{}.GroupByTimezone(users, 9, ref)
	require.Len(t, cohorts, 2)

	assert.Equal(t, "America/New_York", cohorts[0].Timezone)
	assert.Equal(t, []string{"user-2", "user-4"}, cohorts[0].UserIDs)
	assert.Equal(t, -300, cohorts[0].OffsetMinutes)
	assert.True(t, time.Date(2025, 1, 20, 14, 0, 0, 0, time.UTC).Equal(cohorts[0].ScheduledAt))

	assert.Equal(t, "Asia/Tokyo", cohorts[1].Timezone)
	assert.Equal(t, []string{"user-1", "user-3"}, cohorts[1].UserIDs)
	assert.Equal(t, 540, cohorts[1].OffsetMinutes)
	assert.True(t, time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC).Equal(cohorts[1].ScheduledAt))
}

func TestGroupByTimezoneKeepsRawIdentifiers(t *testing.T) {
	ref := time.Date(2025, 1, 20, 3, 0, 0, 0, time.UTC)
	users := []*Profile{
		{UserID: "a", Timezone: "UTC"},
		{UserID: "b", Timezone: "Etc/UTC"},
		{UserID: "c", Timezone: "Bogus/Zone"},
		nil,
	}

	cohorts := TimezoneBatcher{}.GroupByTimezone(users, 9, ref)
	require.Len(t, cohorts, 3)
	assert.Equal(t, "Bogus/Zone", cohorts[0].Timezone)
	assert.Equal(t, 0, cohorts[0].OffsetMinutes)
	assert.Equal(t, "Etc/UTC", cohorts[1].Timezone)
	assert.Equal(t, "UTC", cohorts[2].Timezone)
}

func TestGroupByTimezoneFoldsEmptyIntoUTC(t *testing.T) {
	ref := time.Date(2025, 1, 20, 3, 0, 0, 0, time.UTC)
	users := []*Profile{
		{UserID: "a", Timezone: "UTC"},
		{UserID: "b"},
		{UserID: "c", Timezone: "Asia/Tokyo"},
	}

	cohorts := TimezoneBatcher{}.GroupByTimezone(users, 9, ref)
	require.Len(t, cohorts, 2)
	assert.Equal(t, "Asia/Tokyo", cohorts[0].Timezone)
	assert.Equal(t, "UTC", cohorts[1].Timezone)
	assert.Equal(t, []string{"a", "b"}, cohorts[1].UserIDs)
}

func TestGroupByTimezoneEmpty(t *testing.T) {
	assert.Empty(t, TimezoneBatcher{}.GroupByTimezone(nil, 9, time.Now()))
}
