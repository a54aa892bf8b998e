package catalog

import (
	"context"
	"errors"

	"github.com/servihub/servihub/services/booking-service/internal/slotplan"
)

// ErrNotFound reports that the catalog has no such provider or service.
var ErrNotFound = errors.New("catalog: provider or service not found")

// DaySchedule is what the catalog service knows about one provider's day:
// whether the provider works that day at all, the bookable window, and the
// timezone the window's minute offsets are expressed in.
type DaySchedule struct {
	Timezone        string
	Open            bool
	Window          slotplan.OperatingWindow
	ServiceName     string
	DurationMinutes int
}

// ScheduleSource resolves the schedule for a provider/service pair on a
// calendar day (date is "YYYY-MM-DD" in the provider's timezone).
type ScheduleSource interface {
	DaySchedule(ctx context.Context, providerID, serviceID, date string) (DaySchedule, error)
}
