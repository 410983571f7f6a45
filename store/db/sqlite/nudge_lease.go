package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

// TryAcquireNudgeLease inserts the lease row or takes over an expired one.
func (d *DB) TryAcquireNudgeLease(ctx context.Context, key, holder string, nowMs, expiresMs int64) (bool, error) {
	stmt := `INSERT INTO nudge_lease (lease_key, holder, expires_ms) VALUES (?, ?, ?)
		ON CONFLICT(lease_key) DO UPDATE SET holder = excluded.holder, expires_ms = excluded.expires_ms
		WHERE nudge_lease.expires_ms <= ?`
	result, err := d.db.ExecContext(ctx, stmt, key, holder, expiresMs, nowMs)
	if err != nil {
		return false, errors.Wrapf(err, "failed to acquire lease %s", key)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *DB) ReleaseNudgeLease(ctx context.Context, key, holder string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM nudge_lease WHERE lease_key = ? AND holder = ?`, key, holder); err != nil {
		return errors.Wrapf(err, "failed to release lease %s", key)
	}
	return nil
}
