package slotplan

import (
	"errors"
	"testing"
	"time"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parse day %q: %v", value, err)
	}
	return d
}

func labels(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Label)
	}
	return out
}

func assertLabels(t *testing.T, got []Slot, want ...string) {
	t.Helper()
	gotLabels := labels(got)
	if len(gotLabels) != len(want) {
		t.Fatalf("expected %d slots %v, got %d: %v", len(want), want, len(gotLabels), gotLabels)
	}
	for i := range want {
		if gotLabels[i] != want[i] {
			t.Fatalf("slot %d: expected %s, got %s (all: %v)", i, want[i], gotLabels[i], gotLabels)
		}
	}
}

func TestAvailableSlots_CoversWholeWindow(t *testing.T) {
	w := OperatingWindow{StartMinute: 9 * 60, EndMinute: 17 * 60, SlotMinutes: 60}

	slots, err := AvailableSlots(w, day(t, "2026-03-02"), time.UTC, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertLabels(t, slots, "09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00")

	for i := 1; i < len(slots); i++ {
		if !slots[i].Start.After(slots[i-1].Start) {
			t.Fatalf("starts not strictly increasing at %d: %s then %s", i, slots[i-1].Start, slots[i].Start)
		}
	}
}

func TestAvailableSlots_ExcludesExactBusyStarts(t *testing.T) {
	w := OperatingWindow{StartMinute: 9 * 60, EndMinute: 11 * 60, SlotMinutes: 30}
	d := day(t, "2026-03-02")
	busy := NewBusySet([]time.Time{
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})

	slots, err := AvailableSlots(w, d, time.UTC, busy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertLabels(t, slots, "09:00", "09:30", "10:30")
}

func TestAvailableSlots_OffGridBusyEntriesAreIgnored(t *testing.T) {
	w := OperatingWindow{StartMinute: 9 * 60, EndMinute: 11 * 60, SlotMinutes: 30}
	d := day(t, "2026-03-02")
	// 10:10 never lines up with a candidate; 08:00 is outside the window.
	// Exact-instant matching means neither hides a slot.
	busy := NewBusySet([]time.Time{
		time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), // duplicate, harmless
	})

	slots, err := AvailableSlots(w, d, time.UTC, busy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertLabels(t, slots, "09:00", "09:30", "10:00", "10:30")
}

func TestAvailableSlots_Deterministic(t *testing.T) {
	w := OperatingWindow{StartMinute: 8 * 60, EndMinute: 12 * 60, SlotMinutes: 45}
	d := day(t, "2026-07-14")
	busy := NewBusySet([]time.Time{
		time.Date(2026, 7, 14, 8, 45, 0, 0, time.UTC),
	})

	first, err := AvailableSlots(w, d, time.UTC, busy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := AvailableSlots(w, d, time.UTC, busy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Label != second[i].Label || !first[i].Start.Equal(second[i].Start) {
			t.Fatalf("slot %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestAvailableSlots_TrailingSlotMayRunPastClose(t *testing.T) {
	// 09:00-09:50 with 30-minute slots: 09:30 starts inside the window and is
	// offered even though it would end at 10:00. Only the start bounds a slot.
	w := OperatingWindow{StartMinute: 9 * 60, EndMinute: 9*60 + 50, SlotMinutes: 30}

	slots, err := AvailableSlots(w, day(t, "2026-03-02"), time.UTC, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertLabels(t, slots, "09:00", "09:30")
}

func TestAvailableSlots_ReversedWindowIsInvalid(t *testing.T) {
	w := OperatingWindow{StartMinute: 17 * 60, EndMinute: 9 * 60, SlotMinutes: 60}

	slots, err := AvailableSlots(w, day(t, "2026-03-02"), time.UTC, nil)
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on error, got %v", labels(slots))
	}
}

func TestAvailableSlots_NonPositiveSlotLengthIsInvalid(t *testing.T) {
	w := OperatingWindow{StartMinute: 9 * 60, EndMinute: 17 * 60, SlotMinutes: 0}

	if _, err := AvailableSlots(w, day(t, "2026-03-02"), time.UTC, nil); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestAvailableSlots_SlotLongerThanWindowYieldsEmpty(t *testing.T) {
	// A 20-minute window can't hold a 30-minute appointment: valid config,
	// zero capacity, no error.
	w := OperatingWindow{StartMinute: 9 * 60, EndMinute: 9*60 + 20, SlotMinutes: 30}

	slots, err := AvailableSlots(w, day(t, "2026-03-02"), time.UTC, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected empty result, got %v", labels(slots))
	}
}

func TestAvailableSlots_BusyMatchingHonorsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	w := OperatingWindow{StartMinute: 9 * 60, EndMinute: 10 * 60, SlotMinutes: 30}
	d := day(t, "2026-03-02")

	// Busy instant expressed in UTC; 14:30Z is 09:30 in New York that day.
	busy := NewBusySet([]time.Time{
		time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	})

	slots, err := AvailableSlots(w, d, loc, busy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertLabels(t, slots, "09:00")
}

func TestDayBounds(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	start, end := DayBounds(day(t, "2026-03-02"), loc)
	if got := start.Format("2006-01-02 15:04"); got != "2026-03-02 00:00" {
		t.Fatalf("unexpected day start: %s", got)
	}
	if !end.Equal(start.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected day end: %s", end)
	}
	if start.Location() != loc {
		t.Fatalf("bounds not in requested location")
	}
}
