// Package nudgestore implements the nudge engine's collaborator interfaces
// on top of the SQL store.
package nudgestore

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/nudger/server/service/nudge"
	"github.com/hrygo/nudger/store"
)

// Store adapts *store.Store to the engine. Engagement lookbacks are measured
// from Clock.
type Store struct {
	store *store.Store
	Clock func() time.Time
}

var (
	_ nudge.UserStore          = (*Store)(nil)
	_ nudge.PopulationSource   = (*Store)(nil)
	_ nudge.EngagementLogStore = (*Store)(nil)
	_ nudge.SendRecordStore    = (*Store)(nil)
)

func New(s *store.Store) *Store {
	return &Store{store: s, Clock: time.Now}
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*nudge.Profile, error) {
	p, err := s.store.GetNudgeProfile(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get profile %s", userID)
	}
	if p == nil {
		return nil, errors.Wrapf(nudge.ErrUserNotFound, "user %s", userID)
	}
	return ToProfile(p), nil
}

func (s *Store) ListProfiles(ctx context.Context, afterUserID string, limit int) ([]*nudge.Profile, error) {
	list, err := s.store.ListNudgeProfiles(ctx, &store.FindNudgeProfile{AfterUserID: afterUserID, Limit: limit})
	if err != nil {
		return nil, err
	}
	profiles := make([]*nudge.Profile, 0, len(list))
	for _, p := range list {
		profiles = append(profiles, ToProfile(p))
	}
	return profiles, nil
}

func (s *Store) RecentClickSamples(ctx context.Context, userID string, lookback time.Duration) ([]nudge.EngagementSample, error) {
	since := s.Clock().Add(-lookback).Unix()
	eventType := store.EngagementEventClicked
	events, err := s.store.ListNudgeEngagementEvents(ctx, &store.FindNudgeEngagementEvent{
		UserID:    &userID,
		EventType: &eventType,
		SinceTs:   &since,
	})
	if err != nil {
		return nil, err
	}
	samples := make([]nudge.EngagementSample, 0, len(events))
	for _, e := range events {
		samples = append(samples, nudge.EngagementSample{
			UserID:           e.UserID,
			LocalHourOfClick: int(e.LocalHour),
			At:               time.Unix(e.CreatedTs, 0).UTC(),
		})
	}
	return samples, nil
}

func (s *Store) RecordDelivery(ctx context.Context, userID, nudgeType string, outcome nudge.Outcome, at time.Time) error {
	_, err := s.store.CreateNudgeEngagementEvent(ctx, &store.NudgeEngagementEvent{
		UserID:    userID,
		NudgeType: nudgeType,
		EventType: store.EngagementEventSent,
		Outcome:   string(outcome),
		LocalHour: s.localHour(ctx, userID, at),
		CreatedTs: at.Unix(),
	})
	return err
}

// RecordClick logs a click on a nudge at the user's local hour.
func (s *Store) RecordClick(ctx context.Context, userID, nudgeType string, at time.Time) (*nudge.EngagementSample, error) {
	p, err := s.store.GetNudgeProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Wrapf(nudge.ErrUserNotFound, "user %s", userID)
	}
	hour := int32(nudge.ConvertToUserTimezone(at, p.Timezone).Hour())
	if _, err := s.store.CreateNudgeEngagementEvent(ctx, &store.NudgeEngagementEvent{
		UserID:    userID,
		NudgeType: nudgeType,
		EventType: store.EngagementEventClicked,
		LocalHour: hour,
		CreatedTs: at.Unix(),
	}); err != nil {
		return nil, err
	}
	return &nudge.EngagementSample{UserID: userID, LocalHourOfClick: int(hour), At: at}, nil
}

func (s *Store) AppendSendRecord(ctx context.Context, rec nudge.SendRecord) error {
	_, err := s.store.CreateNudgeSendRecord(ctx, &store.NudgeSendRecord{
		ID:        rec.ID,
		UserID:    rec.UserID,
		NudgeType: rec.NudgeType,
		Outcome:   string(rec.Outcome),
		CreatedTs: rec.At.Unix(),
	})
	return err
}

func (s *Store) ListSendRecords(ctx context.Context, userID string, since time.Time) ([]nudge.SendRecord, error) {
	sinceTs := since.Unix()
	list, err := s.store.ListNudgeSendRecords(ctx, &store.FindNudgeSendRecord{UserID: &userID, SinceTs: &sinceTs})
	if err != nil {
		return nil, err
	}
	records := make([]nudge.SendRecord, 0, len(list))
	for _, r := range list {
		records = append(records, nudge.SendRecord{
			ID:        r.ID,
			UserID:    r.UserID,
			NudgeType: r.NudgeType,
			Outcome:   nudge.Outcome(r.Outcome),
			At:        time.Unix(r.CreatedTs, 0).UTC(),
		})
	}
	return records, nil
}

// localHour is best effort: an unknown user or lookup failure yields the UTC hour.
func (s *Store) localHour(ctx context.Context, userID string, at time.Time) int32 {
	tz := "UTC"
	if p, err := s.store.GetNudgeProfile(ctx, userID); err == nil && p != nil {
		tz = p.Timezone
	}
	return int32(nudge.ConvertToUserTimezone(at, tz).Hour())
}

// ToProfile converts a stored profile into the engine's view.
func ToProfile(p *store.NudgeProfile) *nudge.Profile {
	profile := &nudge.Profile{
		UserID:          p.UserID,
		Timezone:        p.Timezone,
		NudgesEnabled:   p.NudgesEnabled,
		MaxPerDay:       int(p.MaxPerDay),
		MaxPerWeek:      int(p.MaxPerWeek),
		WeekendDeferral: p.WeekendDeferral,
		Locale:          p.Locale,
		Persona:         p.Persona,
		CurrentStreak:   int(p.CurrentStreak),
	}
	if p.PreferredHour != nil {
		h := int(*p.PreferredHour)
		profile.PreferredHourLocal = &h
	}
	if p.LastActivityTs > 0 {
		profile.LastActivityAt = time.Unix(p.LastActivityTs, 0).UTC()
	}
	return profile
}
