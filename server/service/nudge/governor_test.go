package nudge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGovernor(users *fakeUsers, records SendRecordStore, clicks EngagementLogStore, clock *fixedClock, enforce bool) *FrequencyGovernor {
	return NewFrequencyGovernor(users, records, clicks, GovernorConfig{Clock: clock.Now, EnforceBackoff: enforce})
}

func TestCanSend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		profile *Profile
		records []SendRecord
		window  WindowKind
		want    bool
	}{
		{
			name:    "no history",
			profile: &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 2, MaxPerWeek: 5},
			window:  WindowDaily,
			want:    true,
		},
		{
			name:    "disabled user blocked in every window",
			profile: &Profile{UserID: "u1", NudgesEnabled: false, MaxPerDay: 2, MaxPerWeek: 5},
			window:  WindowWeekly,
			want:    false,
		},
		{
			name:    "daily cap reached is inclusive",
			profile: &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 2, MaxPerWeek: 5},
			records: []SendRecord{
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-2 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-1 * time.Hour)},
			},
			window: WindowDaily,
			want:   false,
		},
		{
			name:    "skips do not count against the cap",
			profile: &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 2, MaxPerWeek: 5},
			records: []SendRecord{
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-2 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeSkippedCap, At: now.Add(-1 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeFailed, At: now.Add(-1 * time.Hour)},
			},
			window: WindowDaily,
			want:   true,
		},
		{
			name:    "sends older than a day leave daily window open",
			profile: &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 1, MaxPerWeek: 5},
			records: []SendRecord{
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-25 * time.Hour)},
			},
			window: WindowDaily,
			want:   true,
		},
		{
			name:    "weekly cap reached",
			profile: &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 1, MaxPerWeek: 2},
			records: []SendRecord{
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-3 * 24 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-2 * 24 * time.Hour)},
			},
			window: WindowWeekly,
			want:   false,
		},
		{
			name:    "system defaults apply when profile caps unset",
			profile: &Profile{UserID: "u1", NudgesEnabled: true},
			records: []SendRecord{
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-3 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-2 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-1 * time.Hour)},
			},
			window: WindowDaily,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := NewMemorySendRecordStore()
			for _, rec := range tt.records {
				require.NoError(t, records.AppendSendRecord(ctx, rec))
			}
			g := newTestGovernor(newFakeUsers(tt.profile), records, nil, &fixedClock{now: now}, false)

			got, err := g.CanSend(ctx, tt.profile.UserID, tt.window)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanSendUnknownUser(t *testing.T) {
	g := newTestGovernor(newFakeUsers(), NewMemorySendRecordStore(), nil, &fixedClock{now: time.Now()}, false)
	_, err := g.CanSend(context.Background(), "ghost", WindowDaily)
	require.Error(t, err)
	assert.True(t, IsUserNotFound(err))
}

func TestComputeBackoffHours(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)

	ignored := func(n int) []SendRecord {
		out := make([]SendRecord, 0, n)
		for i := n; i > 0; i-- {
			out = append(out, SendRecord{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-time.Duration(i) * time.Hour)})
		}
		return out
	}

	tests := []struct {
		name    string
		records []SendRecord
		clicks  []EngagementSample
		want    int
	}{
		{name: "no history", want: 24},
		{name: "one ignored", records: ignored(1), want: 24},
		{name: "two ignored", records: ignored(2), want: 48},
		{name: "three ignored", records: ignored(3), want: 96},
		{name: "four ignored hits cap", records: ignored(4), want: 168},
		{name: "many ignored stays capped", records: ignored(9), want: 168},
		{
			name: "skipped outcomes count as not engaged",
			records: []SendRecord{
				{UserID: "u1", Outcome: OutcomeSkippedCap, At: now.Add(-3 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeFailed, At: now.Add(-2 * time.Hour)},
			},
			want: 48,
		},
		{
			name: "lock contention is transparent",
			records: []SendRecord{
				{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-3 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeSkippedLocked, At: now.Add(-2 * time.Hour)},
				{UserID: "u1", Outcome: OutcomeSkippedLocked, At: now.Add(-1 * time.Hour)},
			},
			want: 24,
		},
		{
			name:    "click after delivery resets the run",
			records: ignored(4),
			clicks:  []EngagementSample{{UserID: "u1", LocalHourOfClick: 11, At: now.Add(-30 * time.Minute)}},
			want:    24,
		},
		{
			name:    "click mid run only counts later attempts",
			records: ignored(4),
			clicks:  []EngagementSample{{UserID: "u1", LocalHourOfClick: 9, At: now.Add(-150 * time.Minute)}},
			want:    48,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := NewMemorySendRecordStore()
			for _, rec := range tt.records {
				require.NoError(t, records.AppendSendRecord(ctx, rec))
			}
			clicks := &fakeEngagement{clicks: tt.clicks}
			g := newTestGovernor(newFakeUsers(), records, clicks, &fixedClock{now: now}, false)

			got, err := g.ComputeBackoffHours(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeBackoffHoursIsMonotonic(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)}
	records := NewMemorySendRecordStore()
	g := newTestGovernor(newFakeUsers(), records, nil, clock, false)

	prev := 0
	for i := 0; i < 12; i++ {
		got, err := g.ComputeBackoffHours(ctx, "u1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, prev)
		assert.LessOrEqual(t, got, DefaultMaxBackoffHour)
		prev = got

		clock.Advance(time.Hour)
		require.NoError(t, g.RecordAttempt(ctx, "u1", TypeDailyTip, OutcomeDelivered))
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)

	t.Run("disabled", func(t *testing.T) {
		g := newTestGovernor(newFakeUsers(), NewMemorySendRecordStore(), nil, &fixedClock{now: now}, false)
		d, err := g.Evaluate(ctx, &Profile{UserID: "u1"}, TypeDailyTip)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, OutcomeSkippedDisabled, d.Outcome)
	})

	t.Run("cap", func(t *testing.T) {
		records := NewMemorySendRecordStore()
		require.NoError(t, records.AppendSendRecord(ctx, SendRecord{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-time.Hour)}))
		g := newTestGovernor(newFakeUsers(), records, nil, &fixedClock{now: now}, false)

		d, err := g.Evaluate(ctx, &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 1}, TypeDailyTip)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkippedCap, d.Outcome)
	})

	t.Run("repeat window", func(t *testing.T) {
		records := NewMemorySendRecordStore()
		require.NoError(t, records.AppendSendRecord(ctx, SendRecord{UserID: "u1", NudgeType: TypeStreakWarning, Outcome: OutcomeDelivered, At: now.Add(-3 * time.Hour)}))
		g := newTestGovernor(newFakeUsers(), records, nil, &fixedClock{now: now}, false)
		p := &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 5}

		d, err := g.Evaluate(ctx, p, TypeStreakWarning)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkippedCap, d.Outcome)

		d, err = g.Evaluate(ctx, p, TypeDailyTip)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("repeat window elapsed", func(t *testing.T) {
		records := NewMemorySendRecordStore()
		require.NoError(t, records.AppendSendRecord(ctx, SendRecord{UserID: "u1", NudgeType: TypeStreakWarning, Outcome: OutcomeDelivered, At: now.Add(-25 * time.Hour)}))
		g := newTestGovernor(newFakeUsers(), records, nil, &fixedClock{now: now}, false)

		d, err := g.Evaluate(ctx, &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 5}, TypeStreakWarning)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("backoff enforced", func(t *testing.T) {
		records := NewMemorySendRecordStore()
		require.NoError(t, records.AppendSendRecord(ctx, SendRecord{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-time.Hour)}))
		g := newTestGovernor(newFakeUsers(), records, nil, &fixedClock{now: now}, true)

		d, err := g.Evaluate(ctx, &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 5}, TypeDailyTip)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkippedBackoff, d.Outcome)
	})

	t.Run("backoff elapsed", func(t *testing.T) {
		records := NewMemorySendRecordStore()
		require.NoError(t, records.AppendSendRecord(ctx, SendRecord{UserID: "u1", Outcome: OutcomeDelivered, At: now.Add(-25 * time.Hour)}))
		g := newTestGovernor(newFakeUsers(), records, nil, &fixedClock{now: now}, true)

		d, err := g.Evaluate(ctx, &Profile{UserID: "u1", NudgesEnabled: true, MaxPerDay: 5}, TypeDailyTip)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}
