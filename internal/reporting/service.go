package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gymattendance/internal/attendance"
	"gymattendance/internal/clock"
	"gymattendance/internal/membership"
	"gymattendance/internal/metrics"
)

const (
	// MaxRangeDays bounds AttendanceRange.
	MaxRangeDays = 366

	statsWindowDays = 7
	unknownMember   = "Unknown member"
)

var ErrInvalidRange = fmt.Errorf("date range must be ascending and at most %d days", MaxRangeDays)

// Preview is the pre-scan confirmation card.
type Preview struct {
	MemberID         int64             `json:"memberId"`
	Name             string            `json:"name"`
	MembershipStatus membership.Status `json:"membershipStatus"`
	DaysRemaining    int               `json:"daysRemaining"`
	Plan             string            `json:"plan"`
	ExpiresOn        *string           `json:"expiresOn"`
	CurrentlyInside  bool              `json:"currentlyInside"`
	CanEnter         bool              `json:"canEnter"`
	Advisory         *string           `json:"advisory"`
}

// Presence is one member currently inside.
type Presence struct {
	SessionID      int64     `json:"sessionId"`
	MemberID       int64     `json:"memberId"`
	Name           string    `json:"name"`
	Plan           string    `json:"plan"`
	OpenedAt       time.Time `json:"openedAt"`
	MinutesElapsed int       `json:"minutesElapsed"`
}

// Movement is one session in a daily report.
type Movement struct {
	SessionID  int64      `json:"sessionId"`
	MemberID   int64      `json:"memberId"`
	Name       string     `json:"name"`
	OpenedAt   time.Time  `json:"openedAt"`
	ClosedAt   *time.Time `json:"closedAt"`
	Annotation *string    `json:"annotation"`
}

// DailyReport aggregates one calendar day of the ledger.
type DailyReport struct {
	Date      string     `json:"date"`
	Opened    int        `json:"opened"`
	Closed    int        `json:"closed"`
	StillOpen int        `json:"stillOpen"`
	Movements []Movement `json:"movements"`
}

// Stats is the dashboard summary.
type Stats struct {
	EntriesToday        int `json:"entriesToday"`
	PresentNow          int `json:"presentNow"`
	UniqueVisitorsToday int `json:"uniqueVisitorsToday"`
	EntriesLast7Days    int `json:"entriesLast7Days"`
}

// RangeDay is one day of an attendance range report.
type RangeDay struct {
	Date    string `json:"date"`
	Entries int    `json:"entries"`
	Exits   int    `json:"exits"`
}

// Service answers read-mostly questions about the ledger. It never takes member locks,
// so reports can't hold up scans.
type Service struct {
	members *membership.Resolver
	ledger  attendance.Ledger
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Recorder
	soon    int
}

// NewService creates a reporting service. expiringSoon is the advisory threshold in days.
func NewService(members *membership.Resolver, ledger attendance.Ledger, c clock.Clock, expiringSoon int, log *zap.Logger, m *metrics.Recorder) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if expiringSoon <= 0 {
		expiringSoon = 5
	}
	return &Service{members: members, ledger: ledger, clock: c, log: log, metrics: m, soon: expiringSoon}
}

// StatusPreview combines profile, membership status and presence without mutating anything.
func (s *Service) StatusPreview(ctx context.Context, memberID int64) (Preview, error) {
	standing, err := s.members.Resolve(ctx, memberID)
	if err != nil {
		return Preview{}, s.storage("resolve member", err)
	}
	open, err := s.ledger.FindOpenSessionToday(ctx, memberID)
	if err != nil {
		return Preview{}, s.storage("find open session", err)
	}

	m := standing.Member
	p := Preview{
		MemberID:         m.ID,
		Name:             m.FullName(),
		MembershipStatus: standing.Status,
		DaysRemaining:    standing.DaysRemaining,
		Plan:             m.Plan(),
		CurrentlyInside:  open != nil,
		CanEnter:         standing.Status == membership.Active,
		Advisory:         optional(attendance.DisplayAdvisory(standing, s.soon)),
	}
	if m.ExpiresOn != nil {
		d := m.ExpiresOn.Format(clock.DayLayout)
		p.ExpiresOn = &d
	}
	return p, nil
}

// WhoIsInNow lists today's open sessions with elapsed minutes, oldest first.
func (s *Service) WhoIsInNow(ctx context.Context) ([]Presence, error) {
	open, err := s.ledger.ListOpenNow(ctx)
	if err != nil {
		return nil, s.storage("list open sessions", err)
	}
	now := s.clock.Now()
	names := s.lookup(ctx)

	out := make([]Presence, 0, len(open))
	for _, sess := range open {
		m := names(sess.MemberID)
		elapsed := int(now.Sub(sess.OpenedAt) / time.Minute)
		if elapsed < 0 {
			elapsed = 0
		}
		out = append(out, Presence{
			SessionID:      sess.ID,
			MemberID:       sess.MemberID,
			Name:           m.name,
			Plan:           m.plan,
			OpenedAt:       sess.OpenedAt,
			MinutesElapsed: elapsed,
		})
	}
	return out, nil
}

// DailyReport aggregates every session opened on day. An empty day yields zero counts.
func (s *Service) DailyReport(ctx context.Context, day time.Time) (DailyReport, error) {
	sessions, err := s.ledger.ListByDate(ctx, day)
	if err != nil {
		return DailyReport{}, s.storage("list sessions by date", err)
	}
	names := s.lookup(ctx)

	rep := DailyReport{Date: day.Format(clock.DayLayout), Movements: make([]Movement, 0, len(sessions))}
	for _, sess := range sessions {
		rep.Opened++
		if !sess.IsOpen() {
			rep.Closed++
		}
		rep.Movements = append(rep.Movements, Movement{
			SessionID:  sess.ID,
			MemberID:   sess.MemberID,
			Name:       names(sess.MemberID).name,
			OpenedAt:   sess.OpenedAt,
			ClosedAt:   sess.ClosedAt,
			Annotation: sess.Annotation,
		})
	}
	rep.StillOpen = rep.Opened - rep.Closed
	return rep, nil
}

// CloseOrphan force-closes an open session now. It reports closed=false together with
// ErrAlreadyClosed when there was nothing to do.
func (s *Service) CloseOrphan(ctx context.Context, sessionID int64) (bool, error) {
	sess, err := s.ledger.ForceCloseOrphan(ctx, sessionID, s.clock.Now(), "[ADMIN-CLOSE] closed by staff")
	if err != nil {
		return false, s.storage("force close orphan", err)
	}
	s.metrics.OrphansClosed(1)
	s.log.Info("orphan session closed",
		zap.Int64("session_id", sess.ID),
		zap.Int64("member_id", sess.MemberID))
	return true, nil
}

// Statistics derives the dashboard counters from the ledger.
func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	sum, err := s.ledger.Summarize(ctx, statsWindowDays)
	if err != nil {
		return Stats{}, s.storage("summarize", err)
	}
	return Stats{
		EntriesToday:        sum.EntriesToday,
		PresentNow:          sum.PresentNow,
		UniqueVisitorsToday: sum.UniqueVisitorsToday,
		EntriesLast7Days:    sum.EntriesInWindow,
	}, nil
}

// AttendanceRange returns per-day totals for every day between from and to, inclusive.
// Days without sessions are reported with zero counts.
func (s *Service) AttendanceRange(ctx context.Context, from, to time.Time) ([]RangeDay, error) {
	days := clock.DaysBetween(from, to)
	if days < 0 || days >= MaxRangeDays {
		return nil, ErrInvalidRange
	}
	totals, err := s.ledger.DailyTotals(ctx, from, to)
	if err != nil {
		return nil, s.storage("daily totals", err)
	}
	byDay := make(map[string]attendance.DayTotal, len(totals))
	for _, t := range totals {
		byDay[t.Day] = t
	}

	out := make([]RangeDay, 0, days+1)
	for i := 0; i <= days; i++ {
		key := from.AddDate(0, 0, i).Format(clock.DayLayout)
		t := byDay[key]
		out = append(out, RangeDay{Date: key, Entries: t.Opened, Exits: t.Closed})
	}
	return out, nil
}

// History returns the member's most recent sessions.
func (s *Service) History(ctx context.Context, memberID int64, limit int) ([]attendance.Session, error) {
	if _, err := s.members.Member(ctx, memberID); err != nil {
		return nil, s.storage("resolve member", err)
	}
	sessions, err := s.ledger.ListByMember(ctx, memberID, limit)
	if err != nil {
		return nil, s.storage("list member sessions", err)
	}
	return sessions, nil
}

type label struct {
	name string
	plan string
}

// lookup memoizes member names for the duration of one report.
func (s *Service) lookup(ctx context.Context) func(int64) label {
	cache := map[int64]label{}
	return func(id int64) label {
		if l, ok := cache[id]; ok {
			return l
		}
		l := label{name: unknownMember, plan: membership.NoPlan}
		m, err := s.members.Member(ctx, id)
		switch {
		case err == nil:
			l = label{name: m.FullName(), plan: m.Plan()}
		case !errors.Is(err, membership.ErrMemberNotFound):
			s.log.Warn("member lookup failed", zap.Int64("member_id", id), zap.Error(err))
		}
		cache[id] = l
		return l
	}
}

// storage passes domain errors through and wraps everything else as StorageUnavailable.
func (s *Service) storage(op string, err error) error {
	if attendance.IsDomain(err) {
		return err
	}
	var se *attendance.StorageError
	if !errors.As(err, &se) {
		err = &attendance.StorageError{Op: op, Err: err}
	}
	s.metrics.StorageError(op)
	s.log.Error("reporting storage failure", zap.String("op", op), zap.Error(err))
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
