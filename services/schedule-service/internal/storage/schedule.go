package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/db"
)

// LockSchedule returns the provider's schedule id, creating the provider and
// schedule rows when missing, and holds the schedule row lock until tx ends.
// A non-empty scheduleID must match.
func (r *Repository) LockSchedule(ctx context.Context, tx pgx.Tx, providerID, scheduleID string) (string, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO providers (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, providerID); err != nil {
		return "", err
	}
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO schedules (provider_id)
		VALUES ($1)
		ON CONFLICT (provider_id) DO UPDATE SET updated_at = now()
		RETURNING id::text
	`, providerID).Scan(&id)
	if err != nil {
		return "", err
	}
	if scheduleID != "" && scheduleID != id {
		return "", ErrScheduleMatch
	}
	return id, nil
}

// ScheduleID returns "" when the provider has never saved a schedule.
func (r *Repository) ScheduleID(ctx context.Context, providerID string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text FROM schedules WHERE provider_id = $1
	`, providerID).Scan(&id)
	if db.IsNotFound(err) {
		return "", nil
	}
	return id, err
}

// WeeklyEntries lists the provider's weekly entries, optionally for one day only.
func (r *Repository) WeeklyEntries(ctx context.Context, q Reader, providerID string, day calendar.DayOfWeek) ([]calendar.WeeklyEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT e.day_of_week, e.start_minute, e.end_minute
		FROM weekly_schedule_entries e
		JOIN schedules s ON s.id = e.schedule_id
		WHERE s.provider_id = $1
			AND ($2 = '' OR e.day_of_week = $2)
		ORDER BY e.id ASC
	`, providerID, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []calendar.WeeklyEntry{}
	for rows.Next() {
		var day string
		var start, end int
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, err
		}
		out = append(out, calendar.WeeklyEntry{Day: calendar.DayOfWeek(day), Start: calendar.Clock(start), End: calendar.Clock(end)})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return calendar.NormalizeWeekly(out), nil
}

// ReplaceWeekly swaps every entry of the schedule for entries.
func (r *Repository) ReplaceWeekly(ctx context.Context, tx pgx.Tx, scheduleID string, entries []calendar.WeeklyEntry) error {
	if _, err := tx.Exec(ctx, `DELETE FROM weekly_schedule_entries WHERE schedule_id = $1`, scheduleID); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO weekly_schedule_entries (schedule_id, day_of_week, start_minute, end_minute)
			VALUES ($1, $2, $3, $4)
		`, scheduleID, string(e.Day), int(e.Start), int(e.End)); err != nil {
			return err
		}
	}
	return nil
}

func dateValue(d calendar.Date) time.Time {
	return d.At(0, time.UTC)
}

func clockValue(c *calendar.Clock) *int {
	if c == nil {
		return nil
	}
	v := int(*c)
	return &v
}

const overrideColumns = `id::text, date, is_unavailable, start_minute, end_minute`

func scanOverride(row pgx.Row) (calendar.DateOverride, error) {
	var o calendar.DateOverride
	var date time.Time
	var start, end *int
	if err := row.Scan(&o.ID, &date, &o.IsUnavailable, &start, &end); err != nil {
		return calendar.DateOverride{}, err
	}
	o.Date = calendar.DateOf(date)
	if start != nil {
		c := calendar.Clock(*start)
		o.Start = &c
	}
	if end != nil {
		c := calendar.Clock(*end)
		o.End = &c
	}
	return o, nil
}

// OverrideForDate returns nil when no override exists for date.
func (r *Repository) OverrideForDate(ctx context.Context, providerID string, date calendar.Date) (*calendar.DateOverride, error) {
	o, err := scanOverride(r.pool.QueryRow(ctx, `
		SELECT `+overrideColumns+`
		FROM date_overrides
		WHERE provider_id = $1 AND date = $2
	`, providerID, dateValue(date)))
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOverrides returns overrides with from <= date <= to. Zero bounds are open.
func (r *Repository) ListOverrides(ctx context.Context, providerID string, from, to calendar.Date) ([]calendar.DateOverride, error) {
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		v := dateValue(from)
		fromArg = &v
	}
	if !to.IsZero() {
		v := dateValue(to)
		toArg = &v
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+overrideColumns+`
		FROM date_overrides
		WHERE provider_id = $1
			AND ($2::date IS NULL OR date >= $2)
			AND ($3::date IS NULL OR date <= $3)
		ORDER BY date ASC
	`, providerID, fromArg, toArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []calendar.DateOverride{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertOverride writes the override for o.Date, replacing any existing one.
func (r *Repository) UpsertOverride(ctx context.Context, tx pgx.Tx, scheduleID, providerID string, o calendar.DateOverride) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO date_overrides (schedule_id, provider_id, date, is_unavailable, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id, date) DO UPDATE
		SET is_unavailable = EXCLUDED.is_unavailable,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			updated_at = now()
		RETURNING id::text
	`, scheduleID, providerID, dateValue(o.Date), o.IsUnavailable, clockValue(o.Start), clockValue(o.End)).Scan(&id)
	return id, err
}

// UpdateOverride edits the override o.ID in place, possibly moving it to o.Date.
func (r *Repository) UpdateOverride(ctx context.Context, tx pgx.Tx, providerID string, o calendar.DateOverride) error {
	tag, err := tx.Exec(ctx, `
		UPDATE date_overrides
		SET date = $3,
			is_unavailable = $4,
			start_minute = $5,
			end_minute = $6,
			updated_at = now()
		WHERE id::text = $1 AND provider_id = $2
	`, o.ID, providerID, dateValue(o.Date), o.IsUnavailable, clockValue(o.Start), clockValue(o.End))
	if db.IsUniqueViolation(err) {
		return ErrDateConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOverride removes one override and returns it.
func (r *Repository) DeleteOverride(ctx context.Context, tx pgx.Tx, providerID, overrideID string) (calendar.DateOverride, error) {
	o, err := scanOverride(tx.QueryRow(ctx, `
		DELETE FROM date_overrides
		WHERE id::text = $1 AND provider_id = $2
		RETURNING `+overrideColumns+`
	`, overrideID, providerID))
	if db.IsNotFound(err) {
		return calendar.DateOverride{}, ErrNotFound
	}
	return o, err
}

// PruneOverrides deletes overrides dated before the given date across all providers.
func (r *Repository) PruneOverrides(ctx context.Context, before calendar.Date) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM date_overrides WHERE date < $1`, dateValue(before))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
