package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/servihub/servihub/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CheckoutSession tracks a Stripe Checkout session opened for a booking.
// Status transitions: created -> completed | expired. The webhook is the
// source of truth for completion.
type CheckoutSession struct {
	StripeSessionID string
	BookingID       string
	AccountID       string
	AmountCents     int64
	Currency        string
	Status          string
	URL             string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	ExpiredAt       *time.Time
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s CheckoutSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, booking_id, account_id, amount_cents, currency, status, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET booking_id = EXCLUDED.booking_id,
		              account_id = EXCLUDED.account_id,
		              amount_cents = EXCLUDED.amount_cents,
		              currency = EXCLUDED.currency,
		              status = EXCLUDED.status,
		              url = EXCLUDED.url,
		              updated_at = now()
	`, s.StripeSessionID, s.BookingID, nullIfEmpty(s.AccountID), s.AmountCents, s.Currency, s.Status, nullIfEmpty(s.URL))
	return err
}

func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = now()
		WHERE stripe_session_id = $1
	`, stripeSessionID, completedAt)
	return err
}

func (r *Repository) MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired',
		    expired_at = $2,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, stripeSessionID, expiredAt)
	return err
}

func (r *Repository) GetCheckoutSession(ctx context.Context, stripeSessionID string) (CheckoutSession, error) {
	var s CheckoutSession
	var completedAt *time.Time
	var expiredAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT stripe_session_id, booking_id::text, COALESCE(account_id::text, ''), amount_cents, currency, status,
		       COALESCE(url, ''), created_at, updated_at, completed_at, expired_at
		FROM checkout_sessions
		WHERE stripe_session_id = $1
	`, stripeSessionID).Scan(
		&s.StripeSessionID,
		&s.BookingID,
		&s.AccountID,
		&s.AmountCents,
		&s.Currency,
		&s.Status,
		&s.URL,
		&s.CreatedAt,
		&s.UpdatedAt,
		&completedAt,
		&expiredAt,
	)
	if err != nil {
		return CheckoutSession{}, err
	}
	s.CompletedAt = completedAt
	s.ExpiredAt = expiredAt
	return s, nil
}

type Payment struct {
	ID              string
	BookingID       string
	AccountID       string
	AmountCents     int64
	Currency        string
	Status          string
	StripeSessionID string
	CapturedAt      time.Time
}

func (r *Repository) InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (id, booking_id, account_id, amount_cents, currency, status, stripe_session_id, captured_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (booking_id) DO NOTHING
	`, p.ID, p.BookingID, p.AccountID, p.AmountCents, p.Currency, p.Status, p.StripeSessionID, p.CapturedAt)
	return err
}

func (r *Repository) GetPaymentByBooking(ctx context.Context, bookingID string) (Payment, error) {
	var p Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, booking_id::text, COALESCE(account_id::text, ''), amount_cents, currency, status, stripe_session_id, captured_at
		FROM payments
		WHERE booking_id = $1
	`, bookingID).Scan(&p.ID, &p.BookingID, &p.AccountID, &p.AmountCents, &p.Currency, &p.Status, &p.StripeSessionID, &p.CapturedAt)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
