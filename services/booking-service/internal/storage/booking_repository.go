package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/servihub/servihub/libs/db"
	"github.com/servihub/servihub/services/booking-service/internal/model"
)

// BookingRepository owns the bookings and booking_idempotency_keys tables.
// Double-booking is ultimately prevented here by an exclusion constraint on
// (provider_id, time span) for blocking statuses; the slot planner above it
// is advisory only.
type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	CustomerID      string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, customerID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, customerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (customer_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (customer_id, idempotency_key) DO NOTHING
	`, customerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, customerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

// FinalizeIdempotency records the response for a locked idempotency key.
// bookingID is empty when the recorded outcome is an error response; the
// NULLIF keeps the empty string out of the uuid column.
func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, customerID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = NULLIF($3::text, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE customer_id = $1 AND idempotency_key = $2
	`, customerID, key, bookingID, statusCode, response)
	return err
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(provider_id, service_id, customer_id, customer_name, customer_email, customer_phone, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, b.ProviderID, b.ServiceID, b.CustomerID, b.CustomerName, b.CustomerEmail, b.CustomerPhone,
		b.StartTime, b.EndTime, b.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, provider_id, service_id, customer_id, customer_name, customer_email, customer_phone,
			start_time, end_time, status, paid_at, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, bookingID)
	return scanBooking(row)
}

func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, bookingID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, bookingID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

func (r *BookingRepository) MarkPaid(ctx context.Context, tx pgx.Tx, bookingID string, paidAt time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'confirmed',
			paid_at = $2
		WHERE id = $1 AND status = 'pending'
	`, bookingID, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Already confirmed (webhook replay) or no longer pending; both are
		// fine to ignore at this layer.
		return nil
	}
	return nil
}

// ListBusyStarts returns the start instants of bookings that still hold
// their slot for the given service inside [from, to). This is the conflict
// source the slot planner consumes.
func (r *BookingRepository) ListBusyStarts(ctx context.Context, serviceID string, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time
		FROM bookings
		WHERE service_id = $1
			AND status NOT IN ('cancelled', 'rejected')
			AND start_time >= $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		starts = append(starts, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return starts, nil
}

func (r *BookingRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT id, provider_id, service_id, customer_id, customer_name, customer_email, customer_phone,
			start_time, end_time, status, paid_at, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM bookings
		WHERE customer_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, customerID, limit)
}

func (r *BookingRepository) ListByProvider(ctx context.Context, providerID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT id, provider_id, service_id, customer_id, customer_name, customer_email, customer_phone,
			start_time, end_time, status, paid_at, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM bookings
		WHERE provider_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, providerID, limit)
}

type DailyCount struct {
	Day       time.Time
	Total     int
	Cancelled int
}

func (r *BookingRepository) DailyCounts(ctx context.Context, from, to time.Time) ([]DailyCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc('day', start_time) AS day,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM bookings
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY day
		ORDER BY day ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Day, &c.Total, &c.Cancelled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var paidAt, cancelledAt *time.Time
	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.ServiceID,
		&b.CustomerID,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.CustomerPhone,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&paidAt,
		&cancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.PaidAt = paidAt
	b.CancelledAt = cancelledAt
	return b, nil
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, customerID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT customer_id::text,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE customer_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, customerID, key).Scan(
		&rec.CustomerID,
		&rec.IdempotencyKey,
		&rec.BookingID,
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

// IsConflict reports the exclusion-constraint violation raised when two
// bookings claim overlapping time for one provider.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
