package clock

import (
	"sync"
	"time"
)

// DayLayout is the canonical calendar-day key format.
const DayLayout = "2006-01-02"

// Clock supplies the current instant and the gym's canonical time zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// System reads the wall clock in a fixed location.
type System struct {
	loc *time.Location
}

// NewSystem returns a system clock. A nil location means server local time.
func NewSystem(loc *time.Location) System {
	if loc == nil {
		loc = time.Local
	}
	return System{loc: loc}
}

// Now returns the current time in the clock's location.
func (s System) Now() time.Time { return time.Now().In(s.Location()) }

// Location returns the canonical location.
func (s System) Location() *time.Location {
	if s.loc == nil {
		return time.Local
	}
	return s.loc
}

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual starts a manual clock at t, keeping t's location.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Location returns the location of the current manual time.
func (m *Manual) Location() *time.Location {
	return m.Now().Location()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Today returns midnight of the current calendar day in the clock's location.
func Today(c Clock) time.Time {
	return StartOfDay(c.Now(), c.Location())
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayKey formats the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD key as midnight in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, loc)
}

// DaysBetween counts whole calendar days from a to b (b - a), ignoring the time of day.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
