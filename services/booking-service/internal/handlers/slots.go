package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/servihub/servihub/services/booking-service/internal/catalog"
	"github.com/servihub/servihub/services/booking-service/internal/slotplan"
)

// ConflictSource supplies the start instants of bookings that still hold
// their slot. BookingRepository satisfies it in production.
type ConflictSource interface {
	ListBusyStarts(ctx context.Context, serviceID string, from, to time.Time) ([]time.Time, error)
}

// SlotsHandler answers the public availability query. Its answer is a
// snapshot: nothing here reserves a slot, and a concurrent booking can make
// any returned slot stale by the time the client acts on it.
type SlotsHandler struct {
	source    catalog.ScheduleSource
	conflicts ConflictSource
	logger    *slog.Logger
}

func NewSlotsHandler(source catalog.ScheduleSource, conflicts ConflictSource, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{
		source:    source,
		conflicts: conflicts,
		logger:    logger,
	}
}

func (h *SlotsHandler) Slots(w http.ResponseWriter, r *http.Request) {
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
	if _, err := time.Parse("2006-01-02", dateStr); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sched, err := h.source.DaySchedule(ctx, providerID, serviceID, dateStr)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "provider or service not found", http.StatusNotFound)
			return
		}
		h.logger.Error("schedule lookup failed", "err", err, "provider_id", providerID, "service_id", serviceID)
		http.Error(w, "catalog unavailable", http.StatusBadGateway)
		return
	}

	if !sched.Open {
		writeSlots(w, nil)
		return
	}

	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		h.logger.Warn("provider has unusable timezone", "tz", sched.Timezone, "provider_id", providerID)
		http.Error(w, "provider timezone misconfigured", http.StatusUnprocessableEntity)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	dayStart, dayEnd := slotplan.DayBounds(day, loc)
	busyStarts, err := h.conflicts.ListBusyStarts(ctx, serviceID, dayStart, dayEnd)
	if err != nil {
		h.logger.Error("busy starts query failed", "err", err, "service_id", serviceID)
		http.Error(w, "failed to load bookings", http.StatusInternalServerError)
		return
	}

	slots, err := slotplan.AvailableSlots(sched.Window, day, loc, slotplan.NewBusySet(busyStarts))
	if err != nil {
		if errors.Is(err, slotplan.ErrInvalidWindow) {
			h.logger.Warn("provider has invalid operating window", "provider_id", providerID, "err", err)
			http.Error(w, "provider schedule misconfigured", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		return
	}

	writeSlots(w, slots)
}

func writeSlots(w http.ResponseWriter, slots []slotplan.Slot) {
	if slots == nil {
		slots = []slotplan.Slot{}
	}
	body, err := json.Marshal(slots)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
