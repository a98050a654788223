package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/db"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/model"
)

var ErrNotFound = errors.New("appointment not found")

// Reader is satisfied by both the pool and an open transaction, so the same
// listing query serves advisory reads and the locked commit snapshot.
type Reader interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type BookingRepository struct {
	pool db.Querier
}

type IdempotencyRecord struct {
	ProviderID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool db.Querier) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Pool() Reader {
	return r.pool
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockDay serializes commits for one provider-local calendar date until tx ends.
func (r *BookingRepository) LockDay(ctx context.Context, tx pgx.Tx, providerID string, date calendar.Date) error {
	return db.AdvisoryXactLock(ctx, tx, DayLockKey(providerID, date))
}

func DayLockKey(providerID string, date calendar.Date) int64 {
	return db.LockKey("appointments", providerID, date.String())
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, providerID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, providerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (provider_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (provider_id, idempotency_key) DO NOTHING
	`, providerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, providerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, providerID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE provider_id = $1 AND idempotency_key = $2
	`, providerID, key, appointmentID, statusCode, response)
	return err
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(provider_id, service_id, staff_id, customer_id, customer_name, customer_email, customer_phone, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id::text
	`, appt.ProviderID, appt.ServiceID, appt.StaffID, appt.CustomerID, appt.CustomerName, appt.CustomerEmail, appt.CustomerPhone,
		appt.Start.UTC(), appt.End.UTC(), string(appt.Status)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

const appointmentColumns = `
	id::text, provider_id, service_id, staff_id, customer_id, customer_name, customer_email, customer_phone,
	start_time, end_time, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.ProviderID,
		&appt.ServiceID,
		&appt.StaffID,
		&appt.CustomerID,
		&appt.CustomerName,
		&appt.CustomerEmail,
		&appt.CustomerPhone,
		&appt.Start,
		&appt.End,
		&status,
		&appt.CancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = calendar.BookingStatus(status)
	appt.Start = appt.Start.UTC()
	appt.End = appt.End.UTC()
	return appt, nil
}

func (r *BookingRepository) GetAppointment(ctx context.Context, providerID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1 AND provider_id = $2
	`, appointmentID, providerID))
	if err != nil {
		if db.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *BookingRepository) GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, providerID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1 AND provider_id = $2
		FOR UPDATE
	`, appointmentID, providerID))
	if err != nil {
		if db.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *BookingRepository) CancelAppointment(ctx context.Context, tx pgx.Tx, providerID, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3,
			updated_at = now()
		WHERE id::text = $1 AND provider_id = $2
		RETURNING cancelled_at
	`, appointmentID, providerID, reason).Scan(&cancelledAt)
	if db.IsNotFound(err) {
		return time.Time{}, ErrNotFound
	}
	return cancelledAt, err
}

func (r *BookingRepository) Reschedule(ctx context.Context, tx pgx.Tx, providerID, appointmentID string, start, end time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $3,
			end_time = $4,
			updated_at = now()
		WHERE id::text = $1 AND provider_id = $2 AND status <> 'cancelled'
	`, appointmentID, providerID, start.UTC(), end.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveInWindow returns non-cancelled bookings overlapping [from, to).
// excludeID leaves one appointment out (the one being rescheduled).
func (r *BookingRepository) ListActiveInWindow(ctx context.Context, q Reader, providerID string, from, to time.Time, excludeID string) ([]calendar.Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, provider_id, service_id, staff_id, customer_id, start_time, end_time, status
		FROM appointments
		WHERE provider_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY start_time ASC
	`, providerID, from.UTC(), to.UTC(), excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calendar.Booking
	for rows.Next() {
		var b calendar.Booking
		var status string
		if err := rows.Scan(&b.ID, &b.ProviderID, &b.ServiceID, &b.StaffID, &b.CustomerID, &b.Start, &b.End, &status); err != nil {
			return nil, err
		}
		b.Status = calendar.BookingStatus(status)
		b.Start = b.Start.UTC()
		b.End = b.End.UTC()
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BookingRepository) ListByProvider(ctx context.Context, providerID string, status calendar.BookingStatus, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3
	`, providerID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// IsConflict reports an overlap rejected by the appointments exclusion constraint.
func IsConflict(err error) bool {
	return db.IsExclusionViolation(err)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, providerID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT provider_id,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE provider_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, providerID, key).Scan(
		&rec.ProviderID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
