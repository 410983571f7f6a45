package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/nudger/internal/profile"
	"github.com/hrygo/nudger/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	profileCache *cache.LRU[string, *NudgeProfile]
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	capacity, ttl := 10000, time.Minute
	if profile != nil && profile.ProfileCacheTTL > 0 {
		ttl = profile.ProfileCacheTTL
	}
	return &Store{
		driver:       driver,
		profile:      profile,
		profileCache: cache.NewLRU[string, *NudgeProfile](capacity, ttl),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.driver.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to migrate")
	}
	return nil
}

func (s *Store) UpsertNudgeProfile(ctx context.Context, upsert *NudgeProfile) (*NudgeProfile, error) {
	p, err := s.driver.UpsertNudgeProfile(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.profileCache.Set(p.UserID, p)
	return p, nil
}

// GetNudgeProfile returns nil without error when the user has no profile.
func (s *Store) GetNudgeProfile(ctx context.Context, userID string) (*NudgeProfile, error) {
	if cached, ok := s.profileCache.Get(userID); ok {
		return cached, nil
	}

	list, err := s.driver.ListNudgeProfiles(ctx, &FindNudgeProfile{UserID: &userID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.profileCache.Set(userID, list[0])
	return list[0], nil
}

func (s *Store) ListNudgeProfiles(ctx context.Context, find *FindNudgeProfile) ([]*NudgeProfile, error) {
	return s.driver.ListNudgeProfiles(ctx, find)
}

func (s *Store) DeleteNudgeProfile(ctx context.Context, delete *DeleteNudgeProfile) error {
	if err := s.driver.DeleteNudgeProfile(ctx, delete); err != nil {
		return err
	}
	s.profileCache.Remove(delete.UserID)
	return nil
}

func (s *Store) CreateNudgeSendRecord(ctx context.Context, create *NudgeSendRecord) (*NudgeSendRecord, error) {
	return s.driver.CreateNudgeSendRecord(ctx, create)
}

func (s *Store) ListNudgeSendRecords(ctx context.Context, find *FindNudgeSendRecord) ([]*NudgeSendRecord, error) {
	return s.driver.ListNudgeSendRecords(ctx, find)
}

func (s *Store) CreateNudgeEngagementEvent(ctx context.Context, create *NudgeEngagementEvent) (*NudgeEngagementEvent, error) {
	return s.driver.CreateNudgeEngagementEvent(ctx, create)
}

func (s *Store) ListNudgeEngagementEvents(ctx context.Context, find *FindNudgeEngagementEvent) ([]*NudgeEngagementEvent, error) {
	return s.driver.ListNudgeEngagementEvents(ctx, find)
}

// TryAcquireLease takes the per-key lease for holder when it is free or expired.
func (s *Store) TryAcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	return s.driver.TryAcquireNudgeLease(ctx, key, holder, now.UnixMilli(), now.Add(ttl).UnixMilli())
}

func (s *Store) ReleaseLease(ctx context.Context, key, holder string) error {
	return s.driver.ReleaseNudgeLease(ctx, key, holder)
}
