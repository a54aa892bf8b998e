package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/servihub/servihub/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type ProviderProfile struct {
	ProviderID  string
	Name        string
	Timezone    string
	Description string
	City        string
}

func (r *Repository) GetOrCreateProfile(ctx context.Context, providerID string) (ProviderProfile, error) {
	// Create a default profile if missing (keeps dev UX smooth while other services mature).
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_profiles (provider_id)
		VALUES ($1)
		ON CONFLICT (provider_id) DO NOTHING
	`, providerID)
	if err != nil {
		return ProviderProfile{}, err
	}

	var p ProviderProfile
	err = r.pool.QueryRow(ctx, `
		SELECT provider_id::text, name, timezone, description, city
		FROM provider_profiles
		WHERE provider_id = $1
	`, providerID).Scan(&p.ProviderID, &p.Name, &p.Timezone, &p.Description, &p.City)
	return p, err
}

func (r *Repository) GetProfile(ctx context.Context, providerID string) (ProviderProfile, error) {
	var p ProviderProfile
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id::text, name, timezone, description, city
		FROM provider_profiles
		WHERE provider_id = $1
	`, providerID).Scan(&p.ProviderID, &p.Name, &p.Timezone, &p.Description, &p.City)
	return p, err
}

func (r *Repository) UpdateProfile(ctx context.Context, providerID, name, timezone, description, city string) error {
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_profiles (provider_id, name, timezone, description, city)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id) DO UPDATE
		SET name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			description = EXCLUDED.description,
			city = EXCLUDED.city,
			updated_at = now()
	`, providerID, name, timezone, description, city)
	return err
}

type Service struct {
	ID           string
	ProviderID   string
	Name         string
	DurationMins int
	Price        string
	Description  string
	CreatedAt    time.Time
}

func (r *Repository) CreateService(ctx context.Context, providerID, name string, durationMinutes int, price, description string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, provider_id, name, duration_minutes, price, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, providerID, name, durationMinutes, price, description)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListServices(ctx context.Context, providerID string, limit int) ([]Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, name, duration_minutes, price::text, description, created_at
		FROM services
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Name, &s.DurationMins, &s.Price, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) GetService(ctx context.Context, providerID, serviceID string) (Service, error) {
	var s Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, provider_id::text, name, duration_minutes, price::text, description, created_at
		FROM services
		WHERE provider_id = $1 AND id = $2
	`, providerID, serviceID).Scan(&s.ID, &s.ProviderID, &s.Name, &s.DurationMins, &s.Price, &s.Description, &s.CreatedAt)
	return s, err
}

type SearchResult struct {
	Service
	ProviderName string
	City         string
}

// SearchServices is the public directory query. Matching is a simple ILIKE
// over service and provider names, optionally narrowed by city.
func (r *Repository) SearchServices(ctx context.Context, query, city string, limit int) ([]SearchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := r.pool.Query(ctx, `
		SELECT s.id::text, s.provider_id::text, s.name, s.duration_minutes, s.price::text, s.description, s.created_at,
			p.name, p.city
		FROM services s
		JOIN provider_profiles p ON p.provider_id = s.provider_id
		WHERE ($1 = '' OR s.name ILIKE '%' || $1 || '%' OR p.name ILIKE '%' || $1 || '%')
			AND ($2 = '' OR p.city ILIKE $2)
		ORDER BY s.created_at DESC
		LIMIT $3
	`, query, city, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.ID, &res.ProviderID, &res.Name, &res.DurationMins, &res.Price, &res.Description, &res.CreatedAt,
			&res.ProviderName, &res.City); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type OpeningHours struct {
	ProviderID  string
	Weekday     int
	Open        bool
	OpenMinute  int
	CloseMinute int
}

func (r *Repository) GetOpeningHours(ctx context.Context, providerID string, weekday int) (OpeningHours, error) {
	var oh OpeningHours
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id::text, weekday, is_open, open_minute, close_minute
		FROM provider_hours
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, weekday).Scan(&oh.ProviderID, &oh.Weekday, &oh.Open, &oh.OpenMinute, &oh.CloseMinute)
	if err == nil {
		return oh, nil
	}
	if err == pgx.ErrNoRows {
		// Default fallback if hours weren't seeded: Mon-Fri 09:00-17:00.
		return OpeningHours{
			ProviderID:  providerID,
			Weekday:     weekday,
			Open:        weekday >= 1 && weekday <= 5,
			OpenMinute:  540,
			CloseMinute: 1020,
		}, nil
	}
	return OpeningHours{}, err
}

func (r *Repository) ListOpeningHours(ctx context.Context, providerID string) ([]OpeningHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id::text, weekday, is_open, open_minute, close_minute
		FROM provider_hours
		WHERE provider_id = $1
		ORDER BY weekday ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpeningHours
	for rows.Next() {
		var oh OpeningHours
		if err := rows.Scan(&oh.ProviderID, &oh.Weekday, &oh.Open, &oh.OpenMinute, &oh.CloseMinute); err != nil {
			return nil, err
		}
		out = append(out, oh)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) UpsertOpeningHours(ctx context.Context, providerID string, weekday int, open bool, openMinute, closeMinute int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_hours (provider_id, weekday, is_open, open_minute, close_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, weekday) DO UPDATE
		SET is_open = EXCLUDED.is_open,
			open_minute = EXCLUDED.open_minute,
			close_minute = EXCLUDED.close_minute
	`, providerID, weekday, open, openMinute, closeMinute)
	return err
}

type TimeOff struct {
	ID        string
	StartDate string
	EndDate   string
	Reason    string
	CreatedAt time.Time
}

func (r *Repository) CreateTimeOff(ctx context.Context, providerID, startDate, endDate, reason string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_time_off (id, provider_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, id, providerID, startDate, endDate, reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListTimeOff(ctx context.Context, providerID string, limit int) ([]TimeOff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, start_date::text, end_date::text, reason, created_at
		FROM provider_time_off
		WHERE provider_id = $1
		ORDER BY start_date ASC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeOff
	for rows.Next() {
		var t TimeOff
		if err := rows.Scan(&t.ID, &t.StartDate, &t.EndDate, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) DeleteTimeOff(ctx context.Context, providerID, timeOffID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM provider_time_off
		WHERE provider_id = $1 AND id = $2
	`, providerID, timeOffID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// HasTimeOff reports whether the given date (inclusive range match) falls in
// any of the provider's time-off spans.
func (r *Repository) HasTimeOff(ctx context.Context, providerID, date string) (bool, error) {
	var off bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM provider_time_off
			WHERE provider_id = $1
				AND start_date <= $2::date
				AND end_date >= $2::date
		)
	`, providerID, date).Scan(&off)
	return off, err
}

type Review struct {
	ID         string
	ProviderID string
	CustomerID string
	Rating     int
	Comment    string
	CreatedAt  time.Time
}

func (r *Repository) CreateReview(ctx context.Context, providerID, customerID string, rating int, comment string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reviews (id, provider_id, customer_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
	`, id, providerID, customerID, rating, comment)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListReviews(ctx context.Context, providerID string, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, customer_id::text, rating, comment, created_at
		FROM reviews
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.ProviderID, &rv.CustomerID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func IsNotFound(err error) bool {
	return err == pgx.ErrNoRows
}
