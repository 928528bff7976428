package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gymattendance/internal/clock"
	"gymattendance/internal/memberlock"
	"gymattendance/internal/membership"
	"gymattendance/internal/metrics"
)

// Outcome is the caller-facing result of a scan or manual action.
type Outcome string

const (
	OutcomeEntry    Outcome = "ENTRY"
	OutcomeExit     Outcome = "EXIT"
	OutcomeDenied   Outcome = "DENIED"
	OutcomeConflict Outcome = "CONFLICT"
	OutcomeNotFound Outcome = "NOT_FOUND"
)

// Direction is the front-desk operator's intent.
type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

// ParseDirection accepts ENTRY/EXIT in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionEntry:
		return DirectionEntry, nil
	case DirectionExit:
		return DirectionExit, nil
	}
	return "", ErrInvalidDirection
}

const (
	channelScan   = "scan"
	channelManual = "manual"

	// DefaultManualReason is recorded when the operator gives no reason.
	DefaultManualReason = "Manual registration"

	defaultExpiringSoonDays = 5
)

// ScanResult is the outcome of an automatic badge scan.
type ScanResult struct {
	Status   Outcome
	Message  string
	Advisory string
	Member   membership.Member
	Session  Session
}

// ManualResult is the outcome of a front-desk action.
type ManualResult struct {
	Status   Outcome
	Message  string
	Advisory string
	Reason   string
	Member   membership.Member
	Session  Session
}

// Options configures an Engine.
type Options struct {
	Locker           memberlock.Locker
	Logger           *zap.Logger
	Metrics          *metrics.Recorder
	ExpiringSoonDays int
}

// Engine decides, per event, whether a member is entering or leaving.
type Engine struct {
	members *membership.Resolver
	ledger  Ledger
	clock   clock.Clock
	locks   memberlock.Locker
	log     *zap.Logger
	metrics *metrics.Recorder
	soon    int
}

// NewEngine wires the toggle state machine.
func NewEngine(members *membership.Resolver, ledger Ledger, c clock.Clock, opts Options) *Engine {
	e := &Engine{
		members: members,
		ledger:  ledger,
		clock:   c,
		locks:   opts.Locker,
		log:     opts.Logger,
		metrics: opts.Metrics,
		soon:    opts.ExpiringSoonDays,
	}
	if e.locks == nil {
		e.locks = memberlock.NewLocal()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.soon <= 0 {
		e.soon = defaultExpiringSoonDays
	}
	return e
}

// ProcessScan handles a kiosk scan. Expired memberships are refused without touching
// the ledger; otherwise the member's open session today is closed, or a new one opened.
func (e *Engine) ProcessScan(ctx context.Context, badgeID string) (ScanResult, error) {
	start := time.Now()
	defer e.metrics.ToggleDuration(channelScan, start)

	standing, err := e.members.ResolveBadge(ctx, badgeID)
	if err != nil {
		if errors.Is(err, membership.ErrMemberNotFound) {
			e.metrics.Transition(channelScan, string(OutcomeNotFound))
			return ScanResult{}, err
		}
		return ScanResult{}, e.fault("resolve badge", 0, err)
	}
	m := standing.Member

	if standing.Status == membership.Expired {
		e.metrics.Transition(channelScan, string(OutcomeDenied))
		e.log.Info("scan denied",
			zap.Int64("member_id", m.ID),
			zap.Int("days_overdue", standing.DaysOverdue()))
		return ScanResult{}, &AccessDeniedError{Name: m.FirstName, DaysOverdue: standing.DaysOverdue()}
	}

	unlock, err := e.locks.Lock(ctx, m.ID)
	if err != nil {
		return ScanResult{}, e.fault("lock member", m.ID, err)
	}
	defer unlock()

	s, tr, err := e.ledger.Toggle(ctx, m.ID, e.clock.Now())
	if err != nil {
		return ScanResult{}, e.fault("toggle", m.ID, err)
	}

	res := ScanResult{Advisory: standing.Advisory(e.soon), Member: m, Session: s}
	if tr == Opened {
		res.Status = OutcomeEntry
		res.Message = fmt.Sprintf("Welcome, %s!", m.FirstName)
	} else {
		res.Status = OutcomeExit
		res.Message = fmt.Sprintf("Goodbye, %s!", m.FirstName)
	}
	e.metrics.Transition(channelScan, string(res.Status))
	e.log.Debug("scan processed",
		zap.Int64("member_id", m.ID),
		zap.Int64("session_id", s.ID),
		zap.String("status", string(res.Status)))
	return res, nil
}

// ProcessManual handles a front-desk entry or exit. It skips the expiry gate but holds
// the same per-member lock as scans.
func (e *Engine) ProcessManual(ctx context.Context, memberID int64, dir Direction, reason string) (ManualResult, error) {
	start := time.Now()
	defer e.metrics.ToggleDuration(channelManual, start)

	if dir != DirectionEntry && dir != DirectionExit {
		return ManualResult{}, ErrInvalidDirection
	}
	standing, err := e.members.Resolve(ctx, memberID)
	if err != nil {
		if errors.Is(err, membership.ErrMemberNotFound) {
			e.metrics.Transition(channelManual, string(OutcomeNotFound))
			return ManualResult{}, err
		}
		return ManualResult{}, e.fault("resolve member", memberID, err)
	}
	m := standing.Member
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultManualReason
	}

	unlock, err := e.locks.Lock(ctx, m.ID)
	if err != nil {
		return ManualResult{}, e.fault("lock member", m.ID, err)
	}
	defer unlock()

	now := e.clock.Now()
	res := ManualResult{Reason: reason, Member: m, Advisory: DisplayAdvisory(standing, e.soon)}
	name := m.FullName()

	switch dir {
	case DirectionEntry:
		s, err := e.ledger.OpenSession(ctx, m.ID, now, "[MANUAL] "+reason)
		if errors.Is(err, ErrDuplicateOpenSession) {
			e.metrics.Transition(channelManual, string(OutcomeConflict))
			conflict := &ConflictError{Name: name}
			if open, ferr := e.ledger.FindOpenSessionToday(ctx, m.ID); ferr == nil && open != nil {
				conflict.SessionID = open.ID
			}
			return ManualResult{}, conflict
		}
		if err != nil {
			return ManualResult{}, e.fault("manual open", m.ID, err)
		}
		res.Status, res.Session = OutcomeEntry, s
		res.Message = fmt.Sprintf("ENTRY registered manually for %s", name)

	case DirectionExit:
		s, err := e.ledger.CloseMostRecentOpen(ctx, m.ID, now, "[MANUAL EXIT] "+reason)
		if err != nil && errors.Is(err, ErrStorageUnavailable) {
			// the note is optional; retry the close alone
			e.log.Warn("manual exit note not stored, closing without it",
				zap.Int64("member_id", m.ID), zap.Error(err))
			s, err = e.ledger.CloseMostRecentOpen(ctx, m.ID, now, "")
		}
		if errors.Is(err, ErrNoOpenSession) {
			e.metrics.Transition(channelManual, string(OutcomeNotFound))
			return ManualResult{}, &NoOpenEntryError{Name: name}
		}
		if err != nil {
			return ManualResult{}, e.fault("manual close", m.ID, err)
		}
		res.Status, res.Session = OutcomeExit, s
		res.Message = fmt.Sprintf("EXIT registered manually for %s", name)
	}

	e.metrics.Transition(channelManual, string(res.Status))
	e.log.Info("manual transition",
		zap.Int64("member_id", m.ID),
		zap.Int64("session_id", res.Session.ID),
		zap.String("status", string(res.Status)),
		zap.String("reason", reason))
	return res, nil
}

// Reopen undoes a close, annotated for audit, under the member's lock.
func (e *Engine) Reopen(ctx context.Context, sessionID int64, reason string) (Session, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultManualReason
	}
	s, err := e.ledger.SessionByID(ctx, sessionID)
	if err != nil {
		if IsDomain(err) {
			return Session{}, err
		}
		return Session{}, e.fault("get session", 0, err)
	}

	unlock, err := e.locks.Lock(ctx, s.MemberID)
	if err != nil {
		return Session{}, e.fault("lock member", s.MemberID, err)
	}
	defer unlock()

	out, err := e.ledger.Reopen(ctx, sessionID, "[REOPEN] "+reason)
	if err != nil {
		if IsDomain(err) {
			return Session{}, err
		}
		return Session{}, e.fault("reopen", s.MemberID, err)
	}
	e.log.Info("session reopened",
		zap.Int64("member_id", out.MemberID),
		zap.Int64("session_id", out.ID),
		zap.String("reason", reason))
	return out, nil
}

// DisplayAdvisory is the notice shown next to a member: expiry soon, or already expired.
func DisplayAdvisory(s membership.Standing, soon int) string {
	if s.Status == membership.Expired {
		return fmt.Sprintf("Membership expired %d day(s) ago. Renew at the front desk.", s.DaysOverdue())
	}
	return s.Advisory(soon)
}

// fault converts an unexpected failure into StorageUnavailable and logs the context
// needed to diagnose it.
func (e *Engine) fault(op string, memberID int64, err error) error {
	var se *StorageError
	if !errors.As(err, &se) {
		se = &StorageError{Op: op, Err: err}
	}
	e.metrics.StorageError(op)
	e.log.Error("attendance storage failure",
		zap.String("op", op),
		zap.Int64("member_id", memberID),
		zap.Error(err))
	return se
}
