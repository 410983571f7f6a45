package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/hrygo/nudger/store"
)

func (d *DB) CreateNudgeSendRecord(ctx context.Context, create *store.NudgeSendRecord) (*store.NudgeSendRecord, error) {
	rec := *create
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedTs == 0 {
		rec.CreatedTs = time.Now().Unix()
	}

	stmt := `INSERT INTO nudge_send_record (id, user_id, nudge_type, outcome, created_ts) VALUES (?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt, rec.ID, rec.UserID, rec.NudgeType, rec.Outcome, rec.CreatedTs); err != nil {
		return nil, errors.Wrapf(err, "failed to create send record for user %s", rec.UserID)
	}
	return &rec, nil
}

func (d *DB) ListNudgeSendRecords(ctx context.Context, find *store.FindNudgeSendRecord) ([]*store.NudgeSendRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = ?"), append(args, *v)
	}
	if v := find.Outcome; v != nil {
		where, args = append(where, "outcome = ?"), append(args, *v)
	}
	if v := find.SinceTs; v != nil {
		where, args = append(where, "created_ts >= ?"), append(args, *v)
	}

	query := `SELECT id, user_id, nudge_type, outcome, created_ts FROM nudge_send_record WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_ts ASC, id ASC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list send records")
	}
	defer rows.Close()

	var list []*store.NudgeSendRecord
	for rows.Next() {
		var rec store.NudgeSendRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.NudgeType, &rec.Outcome, &rec.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan send record")
		}
		list = append(list, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) CreateNudgeEngagementEvent(ctx context.Context, create *store.NudgeEngagementEvent) (*store.NudgeEngagementEvent, error) {
	event := *create
	if event.CreatedTs == 0 {
		event.CreatedTs = time.Now().Unix()
	}

	stmt := `INSERT INTO nudge_engagement_event (user_id, nudge_type, event_type, outcome, local_hour, created_ts)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		event.UserID, event.NudgeType, event.EventType, event.Outcome, event.LocalHour, event.CreatedTs,
	).Scan(&event.ID); err != nil {
		return nil, errors.Wrapf(err, "failed to create engagement event for user %s", event.UserID)
	}
	return &event, nil
}

func (d *DB) ListNudgeEngagementEvents(ctx context.Context, find *store.FindNudgeEngagementEvent) ([]*store.NudgeEngagementEvent, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = ?"), append(args, *v)
	}
	if v := find.EventType; v != nil {
		where, args = append(where, "event_type = ?"), append(args, *v)
	}
	if v := find.SinceTs; v != nil {
		where, args = append(where, "created_ts >= ?"), append(args, *v)
	}

	query := `SELECT id, user_id, nudge_type, event_type, outcome, local_hour, created_ts FROM nudge_engagement_event WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_ts ASC, id ASC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list engagement events")
	}
	defer rows.Close()

	var list []*store.NudgeEngagementEvent
	for rows.Next() {
		var e store.NudgeEngagementEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.NudgeType, &e.EventType, &e.Outcome, &e.LocalHour, &e.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan engagement event")
		}
		list = append(list, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
