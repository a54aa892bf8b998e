package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/servihub/servihub/services/booking-service/internal/catalog"
	"github.com/servihub/servihub/services/booking-service/internal/slotplan"
)

type fakeScheduleSource struct {
	sched catalog.DaySchedule
	err   error
}

func (f *fakeScheduleSource) DaySchedule(_ context.Context, _, _, _ string) (catalog.DaySchedule, error) {
	if f.err != nil {
		return catalog.DaySchedule{}, f.err
	}
	return f.sched, nil
}

type fakeConflictSource struct {
	mu     sync.Mutex
	starts []time.Time
	err    error
}

func (f *fakeConflictSource) ListBusyStarts(_ context.Context, _ string, _, _ time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]time.Time, len(f.starts))
	copy(out, f.starts)
	return out, nil
}

func (f *fakeConflictSource) add(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, t)
}

func newSlotsHandler(sched catalog.DaySchedule, conflicts *fakeConflictSource) *SlotsHandler {
	return NewSlotsHandler(&fakeScheduleSource{sched: sched}, conflicts, slog.New(slog.DiscardHandler))
}

func openSchedule() catalog.DaySchedule {
	return catalog.DaySchedule{
		Timezone:        "UTC",
		Open:            true,
		Window:          slotplan.OperatingWindow{StartMinute: 9 * 60, EndMinute: 11 * 60, SlotMinutes: 30},
		ServiceName:     "Haircut",
		DurationMinutes: 30,
	}
}

func getSlots(t *testing.T, h *SlotsHandler, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?"+query, nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	return rec
}

func decodeSlots(t *testing.T, rec *httptest.ResponseRecorder) []slotplan.Slot {
	t.Helper()
	var slots []slotplan.Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return slots
}

func TestSlots_ReturnsOpenSlotsMinusBusy(t *testing.T) {
	conflicts := &fakeConflictSource{starts: []time.Time{
		time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}}
	h := newSlotsHandler(openSchedule(), conflicts)

	rec := getSlots(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	slots := decodeSlots(t, rec)
	want := []string{"09:00", "10:00", "10:30"}
	if len(slots) != len(want) {
		t.Fatalf("expected %v, got %+v", want, slots)
	}
	for i, label := range want {
		if slots[i].Label != label {
			t.Fatalf("slot %d: expected %s, got %s", i, label, slots[i].Label)
		}
	}
}

func TestSlots_ClosedDayReturnsEmptyList(t *testing.T) {
	sched := openSchedule()
	sched.Open = false
	h := newSlotsHandler(sched, &fakeConflictSource{})

	rec := getSlots(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]" {
		t.Fatalf("expected empty json array, got %q", body)
	}
}

func TestSlots_MissingParams(t *testing.T) {
	h := newSlotsHandler(openSchedule(), &fakeConflictSource{})

	for _, query := range []string{
		"service_id=s1&date=2026-03-02",
		"provider_id=p1&date=2026-03-02",
		"provider_id=p1&service_id=s1",
		"provider_id=p1&service_id=s1&date=march-2nd",
	} {
		rec := getSlots(t, h, query)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestSlots_UnknownProviderMapsTo404(t *testing.T) {
	h := NewSlotsHandler(&fakeScheduleSource{err: catalog.ErrNotFound}, &fakeConflictSource{}, slog.New(slog.DiscardHandler))

	rec := getSlots(t, h, "provider_id=nope&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSlots_CatalogFailureMapsTo502(t *testing.T) {
	h := NewSlotsHandler(&fakeScheduleSource{err: errors.New("connection refused")}, &fakeConflictSource{}, slog.New(slog.DiscardHandler))

	rec := getSlots(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestSlots_MisconfiguredWindowMapsTo422(t *testing.T) {
	sched := openSchedule()
	sched.Window = slotplan.OperatingWindow{StartMinute: 17 * 60, EndMinute: 9 * 60, SlotMinutes: 30}
	h := newSlotsHandler(sched, &fakeConflictSource{})

	rec := getSlots(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestSlots_BadTimezoneMapsTo422(t *testing.T) {
	sched := openSchedule()
	sched.Timezone = "Mars/Olympus_Mons"
	h := newSlotsHandler(sched, &fakeConflictSource{})

	rec := getSlots(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestSlots_ConflictSourceFailureMapsTo500(t *testing.T) {
	h := newSlotsHandler(openSchedule(), &fakeConflictSource{err: errors.New("db down")})

	rec := getSlots(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

// Each response is a snapshot of the conflict source at query time. A booking
// landing between two queries changes the second answer, and a client holding
// the first answer may still attempt the now-taken slot; the booking write
// path resolves that, not this endpoint.
func TestSlots_AnswersAreSnapshots(t *testing.T) {
	conflicts := &fakeConflictSource{}
	h := newSlotsHandler(openSchedule(), conflicts)

	first := decodeSlots(t, getSlots(t, h, "provider_id=p1&service_id=s1&date=2026-03-02"))
	if len(first) != 4 {
		t.Fatalf("expected 4 open slots, got %+v", first)
	}

	conflicts.add(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	second := decodeSlots(t, getSlots(t, h, "provider_id=p1&service_id=s1&date=2026-03-02"))
	if len(second) != 3 {
		t.Fatalf("expected 3 open slots after booking, got %+v", second)
	}
	for _, s := range second {
		if s.Label == "10:00" {
			t.Fatalf("10:00 should no longer be offered: %+v", second)
		}
	}

	// The stale first answer still lists 10:00; nothing in this endpoint
	// invalidates it.
	var stillListed bool
	for _, s := range first {
		if s.Label == "10:00" {
			stillListed = true
		}
	}
	if !stillListed {
		t.Fatal("first snapshot should be unaffected by the later booking")
	}
}
