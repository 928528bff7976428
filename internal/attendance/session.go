package attendance

import (
	"context"
	"time"
)

// Session is one visit: opened on entry, closed on exit, never deleted.
type Session struct {
	ID         int64      `json:"id"`
	MemberID   int64      `json:"memberId"`
	Day        string     `json:"day"`
	OpenedAt   time.Time  `json:"openedAt"`
	ClosedAt   *time.Time `json:"closedAt"`
	Annotation *string    `json:"annotation"`
}

// IsOpen reports whether the member is still inside.
func (s Session) IsOpen() bool { return s.ClosedAt == nil }

// Transition is the effect a toggle had on the ledger.
type Transition string

const (
	Opened Transition = "OPENED"
	Closed Transition = "CLOSED"
)

// Summary aggregates the ledger for the statistics view.
type Summary struct {
	EntriesToday        int
	PresentNow          int
	UniqueVisitorsToday int
	EntriesInWindow     int
}

// DayTotal is the number of sessions opened and closed on one day.
type DayTotal struct {
	Day    string
	Opened int
	Closed int
}

// Ledger is the store of attendance sessions. "Today" is the ledger clock's calendar day.
type Ledger interface {
	SessionByID(ctx context.Context, sessionID int64) (Session, error)
	FindOpenSessionToday(ctx context.Context, memberID int64) (*Session, error)
	OpenSession(ctx context.Context, memberID int64, openedAt time.Time, annotation string) (Session, error)
	CloseSession(ctx context.Context, sessionID int64, closedAt time.Time) (Session, error)
	CloseMostRecentOpen(ctx context.Context, memberID int64, closedAt time.Time, annotation string) (Session, error)
	Toggle(ctx context.Context, memberID int64, at time.Time) (Session, Transition, error)
	ListOpenNow(ctx context.Context) ([]Session, error)
	ListByMember(ctx context.Context, memberID int64, limit int) ([]Session, error)
	ListByDate(ctx context.Context, day time.Time) ([]Session, error)
	ForceCloseOrphan(ctx context.Context, sessionID int64, closedAt time.Time, annotation string) (Session, error)
	Reopen(ctx context.Context, sessionID int64, annotation string) (Session, error)
	ListOrphans(ctx context.Context, openedBefore time.Time) ([]Session, error)
	Summarize(ctx context.Context, windowDays int) (Summary, error)
	DailyTotals(ctx context.Context, from, to time.Time) ([]DayTotal, error)
}
