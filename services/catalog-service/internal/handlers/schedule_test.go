package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/servihub/servihub/services/catalog-service/internal/storage"
)

type fakeScheduleStore struct {
	profile     storage.ProviderProfile
	profileErr  error
	service     storage.Service
	serviceErr  error
	hours       map[int]storage.OpeningHours
	timeOffDays map[string]bool
}

func (f *fakeScheduleStore) GetProfile(_ context.Context, _ string) (storage.ProviderProfile, error) {
	return f.profile, f.profileErr
}

func (f *fakeScheduleStore) GetService(_ context.Context, _, _ string) (storage.Service, error) {
	return f.service, f.serviceErr
}

func (f *fakeScheduleStore) GetOpeningHours(_ context.Context, providerID string, weekday int) (storage.OpeningHours, error) {
	if oh, ok := f.hours[weekday]; ok {
		return oh, nil
	}
	return storage.OpeningHours{ProviderID: providerID, Weekday: weekday}, nil
}

func (f *fakeScheduleStore) HasTimeOff(_ context.Context, _, date string) (bool, error) {
	return f.timeOffDays[date], nil
}

func workingStore() *fakeScheduleStore {
	return &fakeScheduleStore{
		profile: storage.ProviderProfile{ProviderID: "p1", Name: "Glow Salon", Timezone: "Europe/Berlin"},
		service: storage.Service{ID: "s1", ProviderID: "p1", Name: "Haircut", DurationMins: 45},
		hours: map[int]storage.OpeningHours{
			// 2026-03-02 is a Monday.
			1: {ProviderID: "p1", Weekday: 1, Open: true, OpenMinute: 540, CloseMinute: 1020},
		},
		timeOffDays: map[string]bool{},
	}
}

func getSchedule(t *testing.T, h *ScheduleHandler, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/internal/v1/schedule?"+query, nil)
	rec := httptest.NewRecorder()
	h.DaySchedule(rec, req)
	return rec
}

func TestDaySchedule_OpenWeekday(t *testing.T) {
	h := NewScheduleHandler(workingStore(), slog.New(slog.DiscardHandler))

	rec := getSchedule(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp dayScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Open {
		t.Fatal("expected provider to be open on Monday")
	}
	if resp.Timezone != "Europe/Berlin" || resp.OpenMinute != 540 || resp.CloseMinute != 1020 {
		t.Fatalf("unexpected schedule: %+v", resp)
	}
	if resp.DurationMinutes != 45 || resp.ServiceName != "Haircut" {
		t.Fatalf("unexpected service fields: %+v", resp)
	}
}

func TestDaySchedule_ClosedWeekday(t *testing.T) {
	h := NewScheduleHandler(workingStore(), slog.New(slog.DiscardHandler))

	// 2026-03-01 is a Sunday; no opening hours row means closed.
	rec := getSchedule(t, h, "provider_id=p1&service_id=s1&date=2026-03-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp dayScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Open {
		t.Fatalf("expected closed day, got %+v", resp)
	}
}

func TestDaySchedule_TimeOffClosesDay(t *testing.T) {
	store := workingStore()
	store.timeOffDays["2026-03-02"] = true
	h := NewScheduleHandler(store, slog.New(slog.DiscardHandler))

	rec := getSchedule(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp dayScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Open {
		t.Fatal("time off should close the day")
	}
}

func TestDaySchedule_BadTimezoneIs422(t *testing.T) {
	store := workingStore()
	store.profile.Timezone = "Mars/Olympus_Mons"
	h := NewScheduleHandler(store, slog.New(slog.DiscardHandler))

	rec := getSchedule(t, h, "provider_id=p1&service_id=s1&date=2026-03-02")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDaySchedule_UnknownServiceIs404(t *testing.T) {
	store := workingStore()
	store.serviceErr = pgx.ErrNoRows
	h := NewScheduleHandler(store, slog.New(slog.DiscardHandler))

	rec := getSchedule(t, h, "provider_id=p1&service_id=nope&date=2026-03-02")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDaySchedule_MissingParams(t *testing.T) {
	h := NewScheduleHandler(workingStore(), slog.New(slog.DiscardHandler))

	rec := getSchedule(t, h, "provider_id=p1&service_id=s1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = getSchedule(t, h, "provider_id=p1&service_id=s1&date=not-a-date")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}
