package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/servihub/servihub/services/booking-service/internal/catalog"
	"github.com/servihub/servihub/services/booking-service/internal/model"
	"github.com/servihub/servihub/services/booking-service/internal/outbox"
	"github.com/servihub/servihub/services/booking-service/internal/slotplan"
	"github.com/servihub/servihub/services/booking-service/internal/storage"
)

// bookingStore is the slice of the repository the booking handlers need.
// BookingRepository satisfies it in production.
type bookingStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, customerID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, customerID, key, bookingID string, statusCode int, response []byte) error
	Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error)
	Cancel(ctx context.Context, tx pgx.Tx, bookingID, reason string) (time.Time, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]model.Booking, error)
	ListByProvider(ctx context.Context, providerID string, limit int) ([]model.Booking, error)
}

// outboxWriter is the slice of the outbox repository the handlers need.
type outboxWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type BookingHandler struct {
	repo       bookingStore
	outboxRepo outboxWriter
	source     catalog.ScheduleSource
	logger     *slog.Logger
}

func NewBookingHandler(repo bookingStore, outboxRepo outboxWriter, source catalog.ScheduleSource, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		outboxRepo: outboxRepo,
		source:     source,
		logger:     logger,
	}
}

type createBookingRequest struct {
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	StartTime     string `json:"start_time"`
}

type createBookingResponse struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type cancelBookingResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type listBookingItem struct {
	BookingID   string `json:"booking_id"`
	ProviderID  string `json:"provider_id"`
	ServiceID   string `json:"service_id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID := strings.TrimSpace(r.Header.Get("X-Account-Id"))
	if customerID == "" {
		http.Error(w, "missing account identity", http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.ProviderID == "" || req.ServiceID == "" || req.CustomerName == "" {
		http.Error(w, "provider_id, service_id and customer_name required", http.StatusBadRequest)
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, customerID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	durationMinutes, err := h.validateStartAgainstSchedule(ctx, req.ProviderID, req.ServiceID, startTime)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			http.Error(w, "provider or service not found", http.StatusNotFound)
		case errors.Is(err, errOutsideSchedule):
			if idempotencyKey != "" {
				if h.finalizeIdempotencyError(ctx, tx, customerID, idempotencyKey, http.StatusUnprocessableEntity, err.Error()) {
					_ = tx.Commit(ctx)
					return
				}
			}
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			// Dependency failure: leave the idempotency key open so the client
			// can retry with the same key.
			http.Error(w, "catalog unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	booking := &model.Booking{
		ProviderID:    req.ProviderID,
		ServiceID:     req.ServiceID,
		CustomerID:    customerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		StartTime:     startTime,
		EndTime:       startTime.Add(time.Duration(durationMinutes) * time.Minute),
		Status:        model.StatusPending,
	}

	// The insert runs inside a savepoint: a constraint violation aborts only
	// the savepoint, so the outer transaction stays usable for recording the
	// outcome on the idempotency row.
	sp, err := tx.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	id, err := h.repo.Create(ctx, sp, booking)
	if err != nil {
		_ = sp.Rollback(ctx)
		if storage.IsConflict(err) {
			// The exclusion constraint is the authority; the planner's answer
			// was only advisory.
			if idempotencyKey != "" {
				if h.finalizeIdempotencyError(ctx, tx, customerID, idempotencyKey, http.StatusConflict, "time slot already booked") {
					_ = tx.Commit(ctx)
					return
				}
			}
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}
	if err := sp.Commit(ctx); err != nil {
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"booking_id":     id,
		"provider_id":    booking.ProviderID,
		"service_id":     booking.ServiceID,
		"customer_id":    booking.CustomerID,
		"customer_name":  booking.CustomerName,
		"customer_email": booking.CustomerEmail,
		"customer_phone": booking.CustomerPhone,
		"start_time":     booking.StartTime.UTC().Format(time.RFC3339),
		"end_time":       booking.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   id,
		EventType:     outbox.EventBookingCreated,
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createBookingResponse{
		BookingID: id,
		Status:    model.StatusPending,
		StartTime: booking.StartTime.UTC().Format(time.RFC3339),
		EndTime:   booking.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, customerID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

var errOutsideSchedule = errors.New("requested start is not an offered slot")

// validateStartAgainstSchedule confirms the requested start lands on the
// provider's slot grid for that day. The grid is recomputed here rather than
// trusted from the client; existing bookings are not consulted because the
// database overlap constraint settles races.
func (h *BookingHandler) validateStartAgainstSchedule(ctx context.Context, providerID, serviceID string, start time.Time) (int, error) {
	if h.source == nil {
		return 60, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Resolve the schedule for the provider-local date of the requested start.
	// A first lookup in UTC supplies the timezone; the date is then recomputed
	// locally in case the start falls on a different local day.
	sched, err := h.source.DaySchedule(reqCtx, providerID, serviceID, start.UTC().Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return 0, fmt.Errorf("provider timezone %q unusable: %w", sched.Timezone, err)
	}
	localDate := start.In(loc).Format("2006-01-02")
	if localDate != start.UTC().Format("2006-01-02") {
		sched, err = h.source.DaySchedule(reqCtx, providerID, serviceID, localDate)
		if err != nil {
			return 0, err
		}
	}
	if !sched.Open {
		return 0, errOutsideSchedule
	}

	day, err := time.ParseInLocation("2006-01-02", localDate, loc)
	if err != nil {
		return 0, errOutsideSchedule
	}
	candidates, err := slotplan.AvailableSlots(sched.Window, day, loc, nil)
	if err != nil {
		return 0, errOutsideSchedule
	}
	for _, c := range candidates {
		if c.Start.Equal(start) {
			duration := sched.DurationMinutes
			if duration <= 0 {
				duration = sched.Window.SlotMinutes
			}
			return duration, nil
		}
	}
	return 0, errOutsideSchedule
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BookingID == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}

	if !h.mayCancel(r, booking) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if booking.Status == model.StatusCancelled && booking.CancelledAt != nil {
		h.writeCancelResponse(w, booking.ID, booking.CancelledAt.UTC())
		return
	}
	if booking.Status != model.StatusPending && booking.Status != model.StatusConfirmed {
		http.Error(w, "booking cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, booking.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}

	cancelPayload, err := json.Marshal(map[string]any{
		"booking_id":     booking.ID,
		"provider_id":    booking.ProviderID,
		"service_id":     booking.ServiceID,
		"customer_id":    booking.CustomerID,
		"customer_email": booking.CustomerEmail,
		"start_time":     booking.StartTime.UTC().Format(time.RFC3339),
		"end_time":       booking.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     outbox.EventBookingCancelled,
		Payload:       cancelPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeCancelResponse(w, booking.ID, cancelledAt.UTC())
}

// mayCancel allows the booking's customer, the booked provider, or an admin.
// Identity headers are set by the gateway after token verification.
func (h *BookingHandler) mayCancel(r *http.Request, b model.Booking) bool {
	accountID := strings.TrimSpace(r.Header.Get("X-Account-Id"))
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))

	switch {
	case role == "admin":
		return true
	case accountID != "" && accountID == b.CustomerID:
		return true
	case role == "provider" && providerID != "" && providerID == b.ProviderID:
		return true
	}
	return false
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID := strings.TrimSpace(r.Header.Get("X-Account-Id"))
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	if accountID == "" {
		http.Error(w, "missing account identity", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var bookings []model.Booking
	var err error
	if role == "provider" && providerID != "" {
		bookings, err = h.repo.ListByProvider(r.Context(), providerID, limit)
	} else {
		bookings, err = h.repo.ListByCustomer(r.Context(), accountID, limit)
	}
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	items := make([]listBookingItem, 0, len(bookings))
	for _, b := range bookings {
		item := listBookingItem{
			BookingID:  b.ID,
			ProviderID: b.ProviderID,
			ServiceID:  b.ServiceID,
			StartTime:  b.StartTime.UTC().Format(time.RFC3339),
			EndTime:    b.EndTime.UTC().Format(time.RFC3339),
			Status:     b.Status,
			CreatedAt:  b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if b.CancelledAt != nil {
			item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	body, err := json.Marshal(items)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *BookingHandler) writeCancelResponse(w http.ResponseWriter, bookingID string, cancelledAt time.Time) {
	resp := cancelBookingResponse{
		BookingID:   bookingID,
		Status:      model.StatusCancelled,
		CancelledAt: cancelledAt.Format(time.RFC3339),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, customerID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, customerID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}
