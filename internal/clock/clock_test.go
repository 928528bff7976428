package clock

import (
	"testing"
	"time"
)

func TestDaysBetweenIgnoresTimeOfDay(t *testing.T) {
	loc := time.FixedZone("gym", -5*3600)
	cases := []struct {
		name string
		a, b time.Time
		want int
	}{
		{"same day", time.Date(2026, 3, 10, 23, 59, 0, 0, loc), time.Date(2026, 3, 10, 0, 1, 0, 0, loc), 0},
		{"late to early next day", time.Date(2026, 3, 10, 23, 59, 0, 0, loc), time.Date(2026, 3, 11, 0, 1, 0, 0, loc), 1},
		{"overdue", time.Date(2026, 3, 10, 12, 0, 0, 0, loc), time.Date(2026, 3, 7, 0, 0, 0, 0, loc), -3},
		{"across month", time.Date(2026, 2, 27, 8, 0, 0, 0, loc), time.Date(2026, 3, 2, 8, 0, 0, 0, loc), 3},
		{"dst spring forward", time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DaysBetween(tc.a, tc.b); got != tc.want {
				t.Fatalf("DaysBetween = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDayKeyUsesLocation(t *testing.T) {
	loc := time.FixedZone("gym", -5*3600)
	instant := time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC) // 22:00 on the 10th locally
	if got := DayKey(instant, loc); got != "2026-03-10" {
		t.Fatalf("DayKey = %s, want 2026-03-10", got)
	}
	if got := DayKey(instant, time.UTC); got != "2026-03-11" {
		t.Fatalf("DayKey utc = %s, want 2026-03-11", got)
	}
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)
	m.Advance(45 * time.Minute)
	if !m.Now().Equal(start.Add(45 * time.Minute)) {
		t.Fatalf("unexpected now %v", m.Now())
	}
	if !Today(m).Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected today %v", Today(m))
	}
}
