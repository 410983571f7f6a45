package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/nudger/store"
)

const nudgeProfileColumns = `user_id, timezone, locale, persona, email, push_target, preferred_hour,
	max_per_day, max_per_week, current_streak, last_activity_ts, nudges_enabled, weekend_deferral,
	created_ts, updated_ts`

func (d *DB) UpsertNudgeProfile(ctx context.Context, upsert *store.NudgeProfile) (*store.NudgeProfile, error) {
	now := time.Now().Unix()
	stmt := `INSERT INTO nudge_profile (` + nudgeProfileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			timezone = excluded.timezone,
			locale = excluded.locale,
			persona = excluded.persona,
			email = excluded.email,
			push_target = excluded.push_target,
			preferred_hour = excluded.preferred_hour,
			max_per_day = excluded.max_per_day,
			max_per_week = excluded.max_per_week,
			current_streak = excluded.current_streak,
			last_activity_ts = excluded.last_activity_ts,
			nudges_enabled = excluded.nudges_enabled,
			weekend_deferral = excluded.weekend_deferral,
			updated_ts = excluded.updated_ts
		RETURNING created_ts, updated_ts`

	p := *upsert
	if err := d.db.QueryRowContext(ctx, stmt,
		p.UserID, p.Timezone, p.Locale, p.Persona, p.Email, p.PushTarget, nullableHour(p.PreferredHour),
		p.MaxPerDay, p.MaxPerWeek, p.CurrentStreak, p.LastActivityTs, p.NudgesEnabled, p.WeekendDeferral,
		now, now,
	).Scan(&p.CreatedTs, &p.UpdatedTs); err != nil {
		return nil, errors.Wrapf(err, "failed to upsert nudge profile %s", p.UserID)
	}
	return &p, nil
}

func (d *DB) ListNudgeProfiles(ctx context.Context, find *store.FindNudgeProfile) ([]*store.NudgeProfile, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = ?"), append(args, *v)
	}
	if find.AfterUserID != "" {
		where, args = append(where, "user_id > ?"), append(args, find.AfterUserID)
	}

	query := `SELECT ` + nudgeProfileColumns + ` FROM nudge_profile WHERE ` + strings.Join(where, " AND ") + ` ORDER BY user_id ASC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list nudge profiles")
	}
	defer rows.Close()

	var list []*store.NudgeProfile
	for rows.Next() {
		var p store.NudgeProfile
		var preferred sql.NullInt32
		if err := rows.Scan(
			&p.UserID, &p.Timezone, &p.Locale, &p.Persona, &p.Email, &p.PushTarget, &preferred,
			&p.MaxPerDay, &p.MaxPerWeek, &p.CurrentStreak, &p.LastActivityTs, &p.NudgesEnabled, &p.WeekendDeferral,
			&p.CreatedTs, &p.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan nudge profile")
		}
		if preferred.Valid {
			p.PreferredHour = &preferred.Int32
		}
		list = append(list, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteNudgeProfile(ctx context.Context, delete *store.DeleteNudgeProfile) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM nudge_profile WHERE user_id = ?`, delete.UserID); err != nil {
		return errors.Wrapf(err, "failed to delete nudge profile %s", delete.UserID)
	}
	return nil
}

func nullableHour(h *int32) any {
	if h == nil {
		return nil
	}
	return int64(*h)
}
