package common

import (
	"testing"
	"time"
)

func TestSameCalendarDay(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 5, 0, 0, time.Local)

	if !SameCalendarDay(base, base.Add(23*time.Hour)) {
		t.Fatalf("expected 00:05 and 23:05 of the same day to match")
	}
	if SameCalendarDay(base, base.Add(-10*time.Minute)) {
		t.Fatalf("expected 00:05 and 23:55 of the previous day to differ")
	}
	if SameCalendarDay(base, base.AddDate(0, 0, 1)) {
		t.Fatalf("expected consecutive days to differ")
	}
}

func TestDaysBetween(t *testing.T) {
	late := time.Date(2025, 3, 10, 23, 50, 0, 0, time.Local)
	early := time.Date(2025, 3, 11, 0, 10, 0, 0, time.Local)

	if got := DaysBetween(late, early); got != 1 {
		t.Fatalf("expected adjacent days to report 1, got %d", got)
	}
	if got := DaysBetween(early, late); got != -1 {
		t.Fatalf("expected reversed order to report -1, got %d", got)
	}
	if got := DaysBetween(late, late.Add(5*time.Minute)); got != 0 {
		t.Fatalf("expected same day to report 0, got %d", got)
	}
}
