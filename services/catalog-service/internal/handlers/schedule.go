package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/servihub/servihub/services/catalog-service/internal/storage"
)

// scheduleStore is the slice of the repository the schedule resolver needs.
type scheduleStore interface {
	GetProfile(ctx context.Context, providerID string) (storage.ProviderProfile, error)
	GetService(ctx context.Context, providerID, serviceID string) (storage.Service, error)
	GetOpeningHours(ctx context.Context, providerID string, weekday int) (storage.OpeningHours, error)
	HasTimeOff(ctx context.Context, providerID, date string) (bool, error)
}

// ScheduleHandler serves the internal day-schedule lookup consumed by the
// booking service. It flattens profile timezone, weekday opening hours, time
// off and service duration into one answer.
type ScheduleHandler struct {
	store  scheduleStore
	logger *slog.Logger
}

func NewScheduleHandler(store scheduleStore, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{store: store, logger: logger}
}

type dayScheduleResponse struct {
	Timezone        string `json:"timezone"`
	Open            bool   `json:"open"`
	OpenMinute      int    `json:"open_minute"`
	CloseMinute     int    `json:"close_minute"`
	ServiceName     string `json:"service_name"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *ScheduleHandler) DaySchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "provider_id, service_id and date are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	profile, err := h.store.GetProfile(ctx, providerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}

	svc, err := h.store.GetService(ctx, providerID, serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}

	tz := profile.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		h.logger.Warn("provider has unusable timezone", "provider_id", providerID, "tz", tz)
		http.Error(w, "provider timezone misconfigured", http.StatusUnprocessableEntity)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	resp := dayScheduleResponse{
		Timezone:        tz,
		ServiceName:     svc.Name,
		DurationMinutes: svc.DurationMins,
	}

	hours, err := h.store.GetOpeningHours(ctx, providerID, int(day.Weekday()))
	if err != nil {
		http.Error(w, "failed to load opening hours", http.StatusInternalServerError)
		return
	}
	off, err := h.store.HasTimeOff(ctx, providerID, dateStr)
	if err != nil {
		http.Error(w, "failed to load time off", http.StatusInternalServerError)
		return
	}

	if hours.Open && !off {
		resp.Open = true
		resp.OpenMinute = hours.OpenMinute
		resp.CloseMinute = hours.CloseMinute
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
