package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/db"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrSlugTaken     = errors.New("slug already in use")
	ErrDateConflict  = errors.New("another override already exists for that date")
	ErrScheduleMatch = errors.New("schedule_id does not belong to provider")
)

// Reader is satisfied by both the pool and an open transaction.
type Reader interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Pool() Reader {
	return r.pool
}

type Profile struct {
	ProviderID string                  `json:"provider_id"`
	Slug       string                  `json:"slug"`
	Name       string                  `json:"name"`
	Timezone   string                  `json:"timezone"`
	Capacity   calendar.CapacityPolicy `json:"capacity"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

const profileColumns = `id::text, COALESCE(slug, ''), name, timezone, max_appointments_mode, max_appointments_per_day, updated_at`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	var mode string
	var perDay *int
	if err := row.Scan(&p.ProviderID, &p.Slug, &p.Name, &p.Timezone, &mode, &perDay, &p.UpdatedAt); err != nil {
		if db.IsNotFound(err) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	p.Capacity.Mode = calendar.CapacityMode(mode)
	if perDay != nil {
		p.Capacity.MaxPerDay = *perDay
	}
	return p, nil
}

// GetOrCreateProfile returns the provider's profile, creating an empty one on first access.
func (r *Repository) GetOrCreateProfile(ctx context.Context, providerID string) (Profile, error) {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, providerID); err != nil {
		return Profile{}, err
	}
	return scanProfile(r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM providers
		WHERE id = $1
	`, providerID))
}

// ResolveProvider looks a provider up by id or public slug.
func (r *Repository) ResolveProvider(ctx context.Context, ref string) (Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM providers
		WHERE id::text = $1 OR slug = $1
		ORDER BY (id::text = $1) DESC
		LIMIT 1
	`, ref))
}

func (r *Repository) UpdateProfile(ctx context.Context, tx pgx.Tx, p Profile) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO providers (id, slug, name, timezone)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			updated_at = now()
	`, p.ProviderID, p.Slug, p.Name, p.Timezone)
	if db.IsUniqueViolation(err) {
		return ErrSlugTaken
	}
	return err
}

func (r *Repository) UpdateCapacity(ctx context.Context, tx pgx.Tx, providerID string, policy calendar.CapacityPolicy) error {
	mode := policy.Mode
	if mode == "" {
		mode = calendar.CapacityFullyBooked
	}
	var perDay *int
	if limit, ok := policy.DailyLimit(); ok {
		perDay = &limit
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO providers (id, max_appointments_mode, max_appointments_per_day)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET max_appointments_mode = EXCLUDED.max_appointments_mode,
			max_appointments_per_day = EXCLUDED.max_appointments_per_day,
			updated_at = now()
	`, providerID, string(mode), perDay)
	return err
}

func (r *Repository) CreateService(ctx context.Context, providerID, name string, durationMinutes int) (calendar.Service, error) {
	svc := calendar.Service{ProviderID: providerID, Name: name, DurationMinutes: durationMinutes, IsActive: true}
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, providerID); err != nil {
		return calendar.Service{}, err
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services (provider_id, name, duration_minutes)
		VALUES ($1, $2, $3)
		RETURNING id::text
	`, providerID, name, durationMinutes).Scan(&svc.ID)
	if err != nil {
		return calendar.Service{}, err
	}
	return svc, nil
}

func (r *Repository) ListServices(ctx context.Context, providerID string, limit int) ([]calendar.Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, name, duration_minutes, is_active
		FROM services
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []calendar.Service{}
	for rows.Next() {
		var s calendar.Service
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Name, &s.DurationMinutes, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) GetService(ctx context.Context, providerID, serviceID string) (calendar.Service, error) {
	var s calendar.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, provider_id::text, name, duration_minutes, is_active
		FROM services
		WHERE provider_id = $1 AND id::text = $2
	`, providerID, serviceID).Scan(&s.ID, &s.ProviderID, &s.Name, &s.DurationMinutes, &s.IsActive)
	if db.IsNotFound(err) {
		return calendar.Service{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) SetServiceActive(ctx context.Context, providerID, serviceID string, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET is_active = $3,
			updated_at = now()
		WHERE provider_id = $1 AND id::text = $2
	`, providerID, serviceID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
