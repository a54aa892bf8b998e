package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/servihub/servihub/services/booking-service/internal/model"
	"github.com/servihub/servihub/services/booking-service/internal/outbox"
	"github.com/servihub/servihub/services/booking-service/internal/storage"
)

// fakeTx records transaction outcomes. The embedded interface is nil, so any
// call the handlers are not expected to make on it panics.
type fakeTx struct {
	pgx.Tx
	savepoints []*fakeTx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) {
	sp := &fakeTx{}
	t.savepoints = append(t.savepoints, sp)
	return sp, nil
}

func (t *fakeTx) Commit(_ context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(_ context.Context) error { t.rolledBack = true; return nil }

type fakeBookingStore struct {
	tx          *fakeTx
	createID    string
	createErr   error
	createCalls int
	booking     model.Booking
	getErr      error
	cancelCalls int
	cancelledAt time.Time
	records     map[string]storage.IdempotencyRecord
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{
		createID:    "b-1",
		cancelledAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		records:     map[string]storage.IdempotencyRecord{},
	}
}

func (f *fakeBookingStore) Begin(_ context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

func (f *fakeBookingStore) LockIdempotencyKey(_ context.Context, _ pgx.Tx, customerID, key string) (storage.IdempotencyRecord, bool, error) {
	if rec, ok := f.records[customerID+"/"+key]; ok {
		return rec, true, nil
	}
	rec := storage.IdempotencyRecord{CustomerID: customerID, IdempotencyKey: key}
	f.records[customerID+"/"+key] = rec
	return rec, false, nil
}

func (f *fakeBookingStore) FinalizeIdempotency(_ context.Context, _ pgx.Tx, customerID, key, bookingID string, statusCode int, response []byte) error {
	f.records[customerID+"/"+key] = storage.IdempotencyRecord{
		CustomerID:      customerID,
		IdempotencyKey:  key,
		BookingID:       bookingID,
		StatusCode:      statusCode,
		ResponsePayload: response,
	}
	return nil
}

func (f *fakeBookingStore) Create(_ context.Context, _ pgx.Tx, _ *model.Booking) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createID, nil
}

func (f *fakeBookingStore) GetForUpdate(_ context.Context, _ pgx.Tx, _ string) (model.Booking, error) {
	if f.getErr != nil {
		return model.Booking{}, f.getErr
	}
	return f.booking, nil
}

func (f *fakeBookingStore) Cancel(_ context.Context, _ pgx.Tx, _, _ string) (time.Time, error) {
	f.cancelCalls++
	return f.cancelledAt, nil
}

func (f *fakeBookingStore) ListByCustomer(_ context.Context, _ string, _ int) ([]model.Booking, error) {
	return nil, nil
}

func (f *fakeBookingStore) ListByProvider(_ context.Context, _ string, _ int) ([]model.Booking, error) {
	return nil, nil
}

type fakeOutbox struct {
	events []outbox.Event
	err    error
}

func (f *fakeOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func newBookingHandler(store *fakeBookingStore, events *fakeOutbox) *BookingHandler {
	return NewBookingHandler(store, events, &fakeScheduleSource{sched: openSchedule()}, slog.New(slog.DiscardHandler))
}

func postJSON(t *testing.T, handle http.HandlerFunc, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handle(rec, req)
	return rec
}

const validCreateBody = `{
	"provider_id": "p1",
	"service_id": "s1",
	"customer_name": "Ada",
	"customer_email": "ada@example.com",
	"start_time": "2026-03-02T09:30:00Z"
}`

func TestCreateBooking_PendingWithEvent(t *testing.T) {
	store := newFakeBookingStore()
	events := &fakeOutbox{}
	h := newBookingHandler(store, events)

	rec := postJSON(t, h.Create, "/api/v1/bookings/create", validCreateBody,
		map[string]string{"X-Account-Id": "c1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp createBookingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BookingID != "b-1" || resp.Status != model.StatusPending {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.EndTime != "2026-03-02T10:00:00Z" {
		t.Fatalf("end time should be start plus service duration, got %s", resp.EndTime)
	}

	if len(events.events) != 1 || events.events[0].EventType != outbox.EventBookingCreated {
		t.Fatalf("expected one created event, got %+v", events.events)
	}
	if !store.tx.committed {
		t.Fatal("transaction should be committed")
	}
	if len(store.tx.savepoints) != 1 || !store.tx.savepoints[0].committed {
		t.Fatalf("insert savepoint should be committed: %+v", store.tx.savepoints)
	}
}

func TestCreateBooking_MissingIdentityIs401(t *testing.T) {
	h := newBookingHandler(newFakeBookingStore(), &fakeOutbox{})

	rec := postJSON(t, h.Create, "/api/v1/bookings/create", validCreateBody, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateBooking_OffGridStartIs422(t *testing.T) {
	store := newFakeBookingStore()
	h := newBookingHandler(store, &fakeOutbox{})

	body := strings.Replace(validCreateBody, "09:30", "09:10", 1)
	rec := postJSON(t, h.Create, "/api/v1/bookings/create", body, map[string]string{
		"X-Account-Id":    "c1",
		"Idempotency-Key": "k1",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.createCalls != 0 {
		t.Fatal("off-grid start must not reach the insert")
	}

	// The rejection is final for this key: a retry replays the 422.
	rec = postJSON(t, h.Create, "/api/v1/bookings/create", body, map[string]string{
		"X-Account-Id":    "c1",
		"Idempotency-Key": "k1",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected replayed 422, got %d", rec.Code)
	}
}

// A lost insert race surfaces as the exclusion-constraint violation. The
// conflict aborts only the insert's savepoint, so the 409 can still be
// recorded on the idempotency row and committed.
func TestCreateBooking_ConflictFinalizesIdempotencyKey(t *testing.T) {
	store := newFakeBookingStore()
	store.createErr = &pgconn.PgError{Code: "23P01"}
	events := &fakeOutbox{}
	h := newBookingHandler(store, events)

	rec := postJSON(t, h.Create, "/api/v1/bookings/create", validCreateBody, map[string]string{
		"X-Account-Id":    "c1",
		"Idempotency-Key": "k1",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(events.events) != 0 {
		t.Fatalf("no event should be written on conflict, got %+v", events.events)
	}

	if len(store.tx.savepoints) != 1 {
		t.Fatalf("expected one savepoint, got %d", len(store.tx.savepoints))
	}
	sp := store.tx.savepoints[0]
	if !sp.rolledBack || sp.committed {
		t.Fatalf("conflict should roll back only the savepoint: %+v", sp)
	}
	if !store.tx.committed {
		t.Fatal("outer transaction should commit the finalized idempotency row")
	}

	rec2 := store.records["c1/k1"]
	if rec2.StatusCode != http.StatusConflict || rec2.BookingID != "" {
		t.Fatalf("unexpected finalized record: %+v", rec2)
	}

	// A retry with the same key replays the recorded 409 without another insert.
	inserts := store.createCalls
	rec = postJSON(t, h.Create, "/api/v1/bookings/create", validCreateBody, map[string]string{
		"X-Account-Id":    "c1",
		"Idempotency-Key": "k1",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected replayed 409, got %d", rec.Code)
	}
	if store.createCalls != inserts {
		t.Fatal("replay must not attempt another insert")
	}
}

func TestCreateBooking_ConflictWithoutKeyIs409(t *testing.T) {
	store := newFakeBookingStore()
	store.createErr = &pgconn.PgError{Code: "23P01"}
	h := newBookingHandler(store, &fakeOutbox{})

	rec := postJSON(t, h.Create, "/api/v1/bookings/create", validCreateBody,
		map[string]string{"X-Account-Id": "c1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if store.tx.committed {
		t.Fatal("nothing should be committed without an idempotency key")
	}
}

func TestCreateBooking_ReplaySkipsCreate(t *testing.T) {
	store := newFakeBookingStore()
	store.records["c1/k1"] = storage.IdempotencyRecord{
		CustomerID:      "c1",
		IdempotencyKey:  "k1",
		BookingID:       "b-1",
		StatusCode:      http.StatusCreated,
		ResponsePayload: []byte(`{"booking_id":"b-1","status":"pending"}`),
	}
	events := &fakeOutbox{}
	h := newBookingHandler(store, events)

	rec := postJSON(t, h.Create, "/api/v1/bookings/create", validCreateBody, map[string]string{
		"X-Account-Id":    "c1",
		"Idempotency-Key": "k1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"booking_id":"b-1"`) {
		t.Fatalf("expected stored payload, got %q", rec.Body.String())
	}
	if store.createCalls != 0 || len(events.events) != 0 {
		t.Fatal("replay must not insert or publish again")
	}
}

func pendingBooking() model.Booking {
	return model.Booking{
		ID:            "b-1",
		ProviderID:    "p1",
		ServiceID:     "s1",
		CustomerID:    "c1",
		CustomerEmail: "ada@example.com",
		StartTime:     time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		EndTime:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Status:        model.StatusPending,
	}
}

func TestCancelBooking_AuthorizedParties(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
	}{
		{"owning customer", map[string]string{"X-Account-Id": "c1", "X-Role": "customer"}},
		{"booked provider", map[string]string{"X-Account-Id": "a9", "X-Role": "provider", "X-Provider-Id": "p1"}},
		{"admin", map[string]string{"X-Account-Id": "a1", "X-Role": "admin"}},
	}
	for _, tc := range cases {
		store := newFakeBookingStore()
		store.booking = pendingBooking()
		events := &fakeOutbox{}
		h := newBookingHandler(store, events)

		rec := postJSON(t, h.Cancel, "/api/v1/bookings/cancel", `{"booking_id":"b-1","reason":"sick"}`, tc.headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", tc.name, rec.Code, rec.Body.String())
		}
		if store.cancelCalls != 1 {
			t.Fatalf("%s: expected one cancel, got %d", tc.name, store.cancelCalls)
		}
		if len(events.events) != 1 || events.events[0].EventType != outbox.EventBookingCancelled {
			t.Fatalf("%s: expected one cancelled event, got %+v", tc.name, events.events)
		}
		if !store.tx.committed {
			t.Fatalf("%s: transaction should be committed", tc.name)
		}
	}
}

func TestCancelBooking_StrangerIs403(t *testing.T) {
	store := newFakeBookingStore()
	store.booking = pendingBooking()
	h := newBookingHandler(store, &fakeOutbox{})

	rec := postJSON(t, h.Cancel, "/api/v1/bookings/cancel", `{"booking_id":"b-1"}`,
		map[string]string{"X-Account-Id": "c2", "X-Role": "customer"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if store.cancelCalls != 0 {
		t.Fatal("forbidden request must not cancel")
	}
}

func TestCancelBooking_AlreadyCancelledReplays(t *testing.T) {
	store := newFakeBookingStore()
	b := pendingBooking()
	b.Status = model.StatusCancelled
	cancelledAt := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	b.CancelledAt = &cancelledAt
	store.booking = b
	events := &fakeOutbox{}
	h := newBookingHandler(store, events)

	rec := postJSON(t, h.Cancel, "/api/v1/bookings/cancel", `{"booking_id":"b-1"}`,
		map[string]string{"X-Account-Id": "c1", "X-Role": "customer"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.cancelCalls != 0 || len(events.events) != 0 {
		t.Fatal("re-cancel must not update or publish again")
	}
	if !strings.Contains(rec.Body.String(), "2026-03-01T18:00:00Z") {
		t.Fatalf("expected original cancelled_at, got %q", rec.Body.String())
	}
}

func TestCancelBooking_CompletedIs409(t *testing.T) {
	store := newFakeBookingStore()
	b := pendingBooking()
	b.Status = model.StatusCompleted
	store.booking = b
	h := newBookingHandler(store, &fakeOutbox{})

	rec := postJSON(t, h.Cancel, "/api/v1/bookings/cancel", `{"booking_id":"b-1"}`,
		map[string]string{"X-Account-Id": "c1", "X-Role": "customer"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCancelBooking_UnknownBookingIs404(t *testing.T) {
	store := newFakeBookingStore()
	store.getErr = pgx.ErrNoRows
	h := newBookingHandler(store, &fakeOutbox{})

	rec := postJSON(t, h.Cancel, "/api/v1/bookings/cancel", `{"booking_id":"nope"}`,
		map[string]string{"X-Account-Id": "c1", "X-Role": "customer"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
