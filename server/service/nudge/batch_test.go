package nudge

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchBatchIsolatesFailures(t *testing.T) {
	f := newDispatcherFixture(t, &fakeChannel{},
		enabledProfile("user-1"), enabledProfile("user-2"), enabledProfile("user-3"))
	f.users.failures["user-2"] = errors.New("profile lookup failed")

	report, err := f.dispatcher.DispatchBatch(context.Background(), TypeDailyTip, 9, 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDelivered, report.Results["user-1"].Outcome)
	assert.Equal(t, OutcomeDelivered, report.Results["user-3"].Outcome)
	assert.NotContains(t, report.Results, "user-2")
	assert.Contains(t, report.Errors["user-2"], "profile lookup failed")
	assert.Equal(t, 2, report.Counts[OutcomeDelivered])
	assert.NotEmpty(t, report.RunID)
}

func TestDispatchBatchGroupsAndSchedules(t *testing.T) {
	ny := enabledProfile("user-ny")
	ny.Timezone = "America/New_York"
	paris := enabledProfile("user-paris")
	paris.Timezone = "Europe/Paris"
	f := newDispatcherFixture(t, &fakeChannel{}, ny, paris, enabledProfile("user-tokyo"))

	report, err := f.dispatcher.DispatchBatch(context.Background(), TypeDailyTip, 9, 2)
	require.NoError(t, err)

	require.Len(t, report.Cohorts, 3)
	assert.Equal(t, "America/New_York", report.Cohorts[0].Timezone)
	assert.Equal(t, "Asia/Tokyo", report.Cohorts[1].Timezone)
	assert.Equal(t, "Europe/Paris", report.Cohorts[2].Timezone)
	assert.Equal(t, int32(3), f.channel.pushCalls.Load())
	assert.True(t, report.Cohorts[1].ScheduledAt.Equal(report.Results["user-tokyo"].ScheduledAt))

	// Three users in pages of two: a full page, then a short one.
	assert.Equal(t, 2, f.users.pages)
}

func TestDispatchBatchPopulationFailure(t *testing.T) {
	f := newDispatcherFixture(t, &fakeChannel{}, enabledProfile("user-1"))
	f.users.pageErr = errors.New("database connection lost")

	_, err := f.dispatcher.DispatchBatch(context.Background(), TypeDailyTip, 9, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection lost")
	assert.Zero(t, f.channel.pushCalls.Load())
}

func TestDispatchBatchValidatesInput(t *testing.T) {
	f := newDispatcherFixture(t, &fakeChannel{})
	ctx := context.Background()

	_, err := f.dispatcher.DispatchBatch(ctx, "", 9, 10)
	assert.ErrorIs(t, err, ErrInvalidNudgeType)
	_, err = f.dispatcher.DispatchBatch(ctx, TypeDailyTip, 24, 10)
	assert.ErrorIs(t, err, ErrInvalidHour)
}

func TestDispatchBatchDueAtTargetHour(t *testing.T) {
	ny := enabledProfile("user-ny")
	ny.Timezone = "America/New_York"
	f := newDispatcherFixture(t, &fakeChannel{}, ny, enabledProfile("user-tokyo"))
	// 00:00 UTC is 09:00 in Tokyo and 19:00 the previous day in New York.
	f.clock.now = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

	report, err := f.dispatcher.DispatchBatch(context.Background(), TypeDailyTip, 9, 10, WithDue(DueAtTargetHour))
	require.NoError(t, err)
	require.Len(t, report.Cohorts, 1)
	assert.Equal(t, "Asia/Tokyo", report.Cohorts[0].Timezone)
	assert.Contains(t, report.Results, "user-tokyo")
	assert.NotContains(t, report.Results, "user-ny")
}

func TestDispatchBatchDueInActiveWindow(t *testing.T) {
	ny := enabledProfile("user-ny")
	ny.Timezone = "America/New_York"
	f := newDispatcherFixture(t, &fakeChannel{}, ny, enabledProfile("user-tokyo"))
	// 15:00 UTC is 10:00 in New York and 00:00 in Tokyo.
	f.clock.now = time.Date(2025, 1, 20, 15, 0, 0, 0, time.UTC)

	report, err := f.dispatcher.PlanBatch(context.Background(), TypeStreakWarning, 9, 10, WithDue(DueInActiveWindow))
	require.NoError(t, err)
	require.Len(t, report.Cohorts, 1)
	assert.Equal(t, "America/New_York", report.Cohorts[0].Timezone)
	assert.Empty(t, report.Results)
	assert.Zero(t, f.channel.pushCalls.Load())
}

func TestDispatchBatchAudience(t *testing.T) {
	f := newDispatcherFixture(t, &fakeChannel{})
	now := f.clock.Now()

	atRisk := enabledProfile("at-risk")
	atRisk.CurrentStreak = 4
	atRisk.LastActivityAt = now.Add(-21 * time.Hour)
	fresh := enabledProfile("fresh")
	fresh.CurrentStreak = 4
	fresh.LastActivityAt = now.Add(-2 * time.Hour)
	noStreak := enabledProfile("no-streak")
	noStreak.LastActivityAt = now.Add(-22 * time.Hour)
	for _, p := range []*Profile{atRisk, fresh, noStreak} {
		f.users.profiles[p.UserID] = p
	}

	filter, err := NewAudienceFilter(StreakAtRiskExpr)
	require.NoError(t, err)

	report, err := f.dispatcher.DispatchBatch(context.Background(), TypeStreakWarning, 9, 10, WithAudience(filter))
	require.NoError(t, err)
	assert.Len(t, report.Results, 1)
	assert.Contains(t, report.Results, "at-risk")
}

func TestDispatchBatchCancelledBeforeStart(t *testing.T) {
	f := newDispatcherFixture(t, &fakeChannel{}, enabledProfile("user-1"), enabledProfile("user-2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.dispatcher.DispatchBatch(ctx, TypeDailyTip, 9, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, report.Cancelled)
	assert.Empty(t, report.Results)
	assert.Zero(t, f.channel.pushCalls.Load())
}

func TestDispatchBatchCancelLetsInFlightFinish(t *testing.T) {
	channel := &fakeChannel{started: make(chan struct{}, 1), release: make(chan struct{})}
	f := newDispatcherFixture(t, channel, enabledProfile("user-1"), enabledProfile("user-2"))
	d, err := NewDispatcher(Dependencies{
		Users:      f.users,
		Population: f.users,
		Records:    f.records,
		Content:    f.generator,
		Channel:    channel,
	}, Config{Clock: f.clock.Now, BatchConcurrency: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *BatchReport, 1)
	go func() {
		report, err := d.DispatchBatch(ctx, TypeDailyTip, 9, 10)
		assert.NoError(t, err)
		done <- report
	}()

	<-channel.started
	cancel()
	close(channel.release)

	report := <-done
	require.Contains(t, report.Results, "user-1")
	assert.Equal(t, OutcomeDelivered, report.Results["user-1"].Outcome)
	assert.Equal(t, []string{"user-2"}, report.Cancelled)
	assert.Equal(t, int32(1), channel.pushCalls.Load())
}

func TestParseDueMode(t *testing.T) {
	tests := []struct {
		name    string
		want    DueMode
		wantErr bool
	}{
		{name: "", want: DueAll},
		{name: "all", want: DueAll},
		{name: "target_hour", want: DueAtTargetHour},
		{name: "active_window", want: DueInActiveWindow},
		{name: "hourly", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDueMode(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.name != "" {
				assert.Equal(t, tt.name, got.String())
			}
		})
	}
}

func TestDispatchBatchStreakWarningOncePerLapse(t *testing.T) {
	f := newDispatcherFixture(t, &fakeChannel{})
	atRisk := enabledProfile("at-risk")
	atRisk.CurrentStreak = 4
	atRisk.LastActivityAt = f.clock.Now().Add(-20*time.Hour - 30*time.Minute)
	f.users.profiles[atRisk.UserID] = atRisk

	filter, err := NewAudienceFilter(StreakAtRiskExpr)
	require.NoError(t, err)

	// The streak job fires hourly while the user stays inside the at-risk window.
	for hour := 0; hour < 4; hour++ {
		_, err := f.dispatcher.DispatchBatch(context.Background(), TypeStreakWarning, 9, 10,
			WithAudience(filter), WithDue(DueInActiveWindow))
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	assert.Equal(t, int32(1), f.channel.pushCalls.Load())
	assert.Equal(t, []Outcome{OutcomeDelivered, OutcomeSkippedCap, OutcomeSkippedCap, OutcomeSkippedCap}, f.outcomes(t, "at-risk"))

	// Other types still have room under the daily cap.
	res, err := f.dispatcher.DispatchToUser(context.Background(), "at-risk", TypeDailyTip, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, res.Outcome)
}
