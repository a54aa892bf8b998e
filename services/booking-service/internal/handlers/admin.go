package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/servihub/servihub/services/booking-service/internal/storage"
)

type AdminHandler struct {
	repo   *storage.BookingRepository
	logger *slog.Logger
}

func NewAdminHandler(repo *storage.BookingRepository, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{repo: repo, logger: logger}
}

type dailyStatsItem struct {
	Day       string `json:"day"`
	Total     int    `json:"total"`
	Cancelled int    `json:"cancelled"`
}

// DailyStats returns per-day booking counts for [from, to). Defaults to the
// trailing 30 days.
func (h *AdminHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(r.Header.Get("X-Role")) != "admin" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now.AddDate(0, 0, 1)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = t
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	counts, err := h.repo.DailyCounts(r.Context(), from, to)
	if err != nil {
		h.logger.Error("daily stats query failed", "err", err)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	items := make([]dailyStatsItem, 0, len(counts))
	for _, c := range counts {
		items = append(items, dailyStatsItem{
			Day:       c.Day.UTC().Format("2006-01-02"),
			Total:     c.Total,
			Cancelled: c.Cancelled,
		})
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
