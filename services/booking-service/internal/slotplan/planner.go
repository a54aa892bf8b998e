package slotplan

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow reports a misconfigured operating window. It is a
// provider-configuration problem, not a runtime fault; callers surface it as
// a client error and nothing is retried.
var ErrInvalidWindow = errors.New("invalid operating window")

// OperatingWindow is a provider's bookable span for one calendar day,
// expressed as minutes from local midnight, plus the fixed slot length for
// the service being booked. Values are parsed and validated once at
// configuration load, never re-parsed per request.
type OperatingWindow struct {
	StartMinute int // [0,1440)
	EndMinute   int // (StartMinute,1440]
	SlotMinutes int // > 0
}

func (w OperatingWindow) Validate() error {
	if w.StartMinute < 0 || w.StartMinute >= 24*60 {
		return fmt.Errorf("%w: start minute %d out of range", ErrInvalidWindow, w.StartMinute)
	}
	if w.EndMinute <= 0 || w.EndMinute > 24*60 {
		return fmt.Errorf("%w: end minute %d out of range", ErrInvalidWindow, w.EndMinute)
	}
	if w.StartMinute >= w.EndMinute {
		return fmt.Errorf("%w: start minute %d not before end minute %d", ErrInvalidWindow, w.StartMinute, w.EndMinute)
	}
	if w.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot length %d must be positive", ErrInvalidWindow, w.SlotMinutes)
	}
	return nil
}

// Slot is one bookable opportunity: a wall-clock label for display and the
// absolute start instant for the booking call that follows.
type Slot struct {
	Label string    `json:"label"` // "HH:MM", 24-hour, zero-padded
	Start time.Time `json:"start_time"`
}

// BusySet holds the start instants of existing non-cancelled bookings,
// normalized to the minute. It is built fresh for each planning call and
// discarded; entries that never line up with a candidate slot are harmless.
type BusySet map[int64]struct{}

func NewBusySet(starts []time.Time) BusySet {
	s := make(BusySet, len(starts))
	for _, t := range starts {
		s[t.Truncate(time.Minute).Unix()] = struct{}{}
	}
	return s
}

func (s BusySet) Contains(t time.Time) bool {
	_, ok := s[t.Truncate(time.Minute).Unix()]
	return ok
}

// DayBounds returns the [midnight, next midnight) span of day in loc.
// Busy-instant queries must use this span so a slot never matches a
// neighboring day's booking.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// AvailableSlots partitions the operating window on the given calendar day
// into fixed-length slots and drops any slot whose start instant appears in
// busy. Only the year, month and day of day are used; loc is the timezone
// the window's minute offsets (and the busy instants) are interpreted in.
//
// The result is deterministic and strictly increasing in start time. Results
// are advisory: a booking created after the busy set was read can still
// claim a returned slot, and the booking write path is what resolves that
// race.
//
// Two deliberate policy points:
//   - a slot is matched against busy by exact start instant, not interval
//     overlap, so an off-grid booking hides no slots;
//   - when the slot length fits the window at all, every start before the
//     window end is offered, so the final slot may run past closing time
//     (a 09:00-09:50 window with 30-minute slots offers 09:00 and 09:30).
func AvailableSlots(w OperatingWindow, day time.Time, loc *time.Location, busy BusySet) ([]Slot, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	if w.SlotMinutes > w.EndMinute-w.StartMinute {
		// Not an error: the service simply has no capacity on this window.
		return nil, nil
	}

	y, m, d := day.Date()
	var slots []Slot
	for minute := w.StartMinute; minute < w.EndMinute; minute += w.SlotMinutes {
		// Build each candidate from wall-clock fields rather than adding
		// durations to midnight, so DST transitions don't shift the grid.
		start := time.Date(y, m, d, minute/60, minute%60, 0, 0, loc)
		if busy.Contains(start) {
			continue
		}
		slots = append(slots, Slot{
			Label: start.Format("15:04"),
			Start: start,
		})
	}
	return slots, nil
}
