package postgres

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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			locale = EXCLUDED.locale,
			persona = EXCLUDED.persona,
			email = EXCLUDED.email,
			push_target = EXCLUDED.push_target,
			preferred_hour = EXCLUDED.preferred_hour,
			max_per_day = EXCLUDED.max_per_day,
			max_per_week = EXCLUDED.max_per_week,
			current_streak = EXCLUDED.current_streak,
			last_activity_ts = EXCLUDED.last_activity_ts,
			nudges_enabled = EXCLUDED.nudges_enabled,
			weekend_deferral = EXCLUDED.weekend_deferral,
			updated_ts = EXCLUDED.updated_ts
		RETURNING created_ts, updated_ts`

	p := *upsert
	var preferred sql.NullInt32
	if p.PreferredHour != nil {
		preferred = sql.NullInt32{Int32: *p.PreferredHour, Valid: true}
	}
	if err := d.db.QueryRowContext(ctx, stmt,
		p.UserID, p.Timezone, p.Locale, p.Persona, p.Email, p.PushTarget, preferred,
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
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if find.AfterUserID != "" {
		where, args = append(where, "user_id > "+placeholder(len(args)+1)), append(args, find.AfterUserID)
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
	if _, err := d.db.ExecContext(ctx, `DELETE FROM nudge_profile WHERE user_id = $1`, delete.UserID); err != nil {
		return errors.Wrapf(err, "failed to delete nudge profile %s", delete.UserID)
	}
	return nil
}
