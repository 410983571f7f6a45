package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	// NudgeProfile model related methods.
	UpsertNudgeProfile(ctx context.Context, upsert *NudgeProfile) (*NudgeProfile, error)
	ListNudgeProfiles(ctx context.Context, find *FindNudgeProfile) ([]*NudgeProfile, error)
	DeleteNudgeProfile(ctx context.Context, delete *DeleteNudgeProfile) error

	// NudgeSendRecord model related methods.
	CreateNudgeSendRecord(ctx context.Context, create *NudgeSendRecord) (*NudgeSendRecord, error)
	ListNudgeSendRecords(ctx context.Context, find *FindNudgeSendRecord) ([]*NudgeSendRecord, error)

	// NudgeEngagementEvent model related methods.
	CreateNudgeEngagementEvent(ctx context.Context, create *NudgeEngagementEvent) (*NudgeEngagementEvent, error)
	ListNudgeEngagementEvents(ctx context.Context, find *FindNudgeEngagementEvent) ([]*NudgeEngagementEvent, error)

	// Per-user dispatch leases. Timestamps are unix milliseconds.
	TryAcquireNudgeLease(ctx context.Context, key, holder string, nowMs, expiresMs int64) (bool, error)
	ReleaseNudgeLease(ctx context.Context, key, holder string) error
}
