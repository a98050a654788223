package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func profileRow(id, slug, tz, mode string, perDay *int) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "slug", "name", "timezone", "max_appointments_mode", "max_appointments_per_day", "updated_at"}).
		AddRow(id, slug, "Dr Smith", tz, mode, perDay, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
}

func TestResolveProviderBySlug(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	three := 3

	mock.ExpectQuery("FROM providers").WithArgs("dr-smith").WillReturnRows(profileRow("prov-1", "dr-smith", "America/New_York", "max_per_day", &three))

	p, err := repo.ResolveProvider(context.Background(), "dr-smith")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.ProviderID != "prov-1" || p.Timezone != "America/New_York" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if limit, ok := p.Capacity.DailyLimit(); !ok || limit != 3 {
		t.Fatalf("expected daily limit 3, got %d %v", limit, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveProviderNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	mock.ExpectQuery("FROM providers").WithArgs("nobody").WillReturnError(pgx.ErrNoRows)

	if _, err := repo.ResolveProvider(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateProfileMapsSlugConflict(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO providers").
		WithArgs("prov-1", "taken", "Dr Smith", "UTC").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = repo.UpdateProfile(ctx, tx, Profile{ProviderID: "prov-1", Slug: "taken", Name: "Dr Smith", Timezone: "UTC"})
	if !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
	_ = tx.Rollback(ctx)
}

func TestUpdateCapacityStoresNullForFullyBooked(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec("max_appointments_mode").WithArgs("prov-1", "fully_booked", (*int)(nil)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, _ := repo.Begin(ctx)
	if err := repo.UpdateCapacity(ctx, tx, "prov-1", calendar.CapacityPolicy{}); err != nil {
		t.Fatalf("update capacity: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetServiceActiveNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	mock.ExpectExec("UPDATE services").WithArgs("prov-1", "svc-x", false).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.SetServiceActive(context.Background(), "prov-1", "svc-x", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWeeklyEntriesNormalizes(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	rows := pgxmock.NewRows([]string{"day_of_week", "start_minute", "end_minute"}).
		AddRow("mon", 780, 1020).
		AddRow("mon", 540, 720)
	mock.ExpectQuery("FROM weekly_schedule_entries").WithArgs("prov-1", "mon").WillReturnRows(rows)

	got, err := repo.WeeklyEntries(context.Background(), mock, "prov-1", calendar.Monday)
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if len(got) != 2 || got[0].Start != calendar.MustClock("09:00") || got[1].End != calendar.MustClock("17:00") {
		t.Fatalf("unexpected entries %+v", got)
	}
}

func TestReplaceWeeklyDeletesThenInserts(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM weekly_schedule_entries").WithArgs("sched-1").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO weekly_schedule_entries").WithArgs("sched-1", "tue", 540, 1020).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, _ := repo.Begin(ctx)
	entries := []calendar.WeeklyEntry{{Day: calendar.Tuesday, Start: calendar.MustClock("09:00"), End: calendar.MustClock("17:00")}}
	if err := repo.ReplaceWeekly(ctx, tx, "sched-1", entries); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLockScheduleRejectsForeignScheduleID(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO providers").WithArgs("prov-1").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("INSERT INTO schedules").WithArgs("prov-1").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("sched-1"))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, _ := repo.Begin(ctx)
	if _, err := repo.LockSchedule(ctx, tx, "prov-1", "sched-other"); !errors.Is(err, ErrScheduleMatch) {
		t.Fatalf("expected ErrScheduleMatch, got %v", err)
	}
	_ = tx.Rollback(ctx)
}

func TestOverrideForDate(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	date := calendar.MustDate("2026-05-04")
	start, end := 780, 900

	mock.ExpectQuery("FROM date_overrides").WithArgs("prov-1", date.At(0, time.UTC)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "date", "is_unavailable", "start_minute", "end_minute"}).
			AddRow("ov-1", date.At(0, time.UTC), false, &start, &end))
	mock.ExpectQuery("FROM date_overrides").WithArgs("prov-1", date.AddDays(1).At(0, time.UTC)).WillReturnError(pgx.ErrNoRows)

	got, err := repo.OverrideForDate(context.Background(), "prov-1", date)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if got == nil || got.Date != date || got.Start == nil || *got.Start != calendar.MustClock("13:00") || *got.End != calendar.MustClock("15:00") {
		t.Fatalf("unexpected override %+v", got)
	}

	none, err := repo.OverrideForDate(context.Background(), "prov-1", date.AddDays(1))
	if err != nil || none != nil {
		t.Fatalf("expected no override, got %+v err=%v", none, err)
	}
}

func TestUpdateOverrideMapsDateConflict(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE date_overrides").
		WithArgs("ov-1", "prov-1", time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC), true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	ctx := context.Background()
	tx, _ := repo.Begin(ctx)
	err := repo.UpdateOverride(ctx, tx, "prov-1", calendar.DateOverride{ID: "ov-1", Date: calendar.MustDate("2026-05-05"), IsUnavailable: true})
	if !errors.Is(err, ErrDateConflict) {
		t.Fatalf("expected ErrDateConflict, got %v", err)
	}
	_ = tx.Rollback(ctx)
}

func TestPruneOverrides(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	before := calendar.MustDate("2026-02-01")
	mock.ExpectExec("DELETE FROM date_overrides").WithArgs(before.At(0, time.UTC)).WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := repo.PruneOverrides(context.Background(), before)
	if err != nil || n != 7 {
		t.Fatalf("expected 7 pruned, got %d err=%v", n, err)
	}
}
