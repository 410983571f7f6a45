package postgres

import (
	"context"

	"github.com/pkg/errors"
)

// TryAcquireNudgeLease inserts the lease row or takes over an expired one.
// A live lease held by someone else leaves the row untouched and reports false.
func (d *DB) TryAcquireNudgeLease(ctx context.Context, key, holder string, nowMs, expiresMs int64) (bool, error) {
	stmt := `INSERT INTO nudge_lease (lease_key, holder, expires_ms) VALUES ($1, $2, $3)
		ON CONFLICT (lease_key) DO UPDATE SET holder = EXCLUDED.holder, expires_ms = EXCLUDED.expires_ms
		WHERE nudge_lease.expires_ms <= $4`
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
	if _, err := d.db.ExecContext(ctx, `DELETE FROM nudge_lease WHERE lease_key = $1 AND holder = $2`, key, holder); err != nil {
		return errors.Wrapf(err, "failed to release lease %s", key)
	}
	return nil
}
