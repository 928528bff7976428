package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gymattendance/internal/clock"
	"gymattendance/internal/store"
)

const (
	defaultHistoryLimit = 50
	// MaxHistoryLimit caps ListByMember regardless of the requested limit.
	MaxHistoryLimit = 200

	toggleAttempts = 3
)

const sessionColumns = `id, member_id, open_day, opened_at, closed_at, annotation`

// Repository persists attendance sessions in Postgres or SQLite. The one-open-session
// rule lives in the partial unique index on (member_id, open_day) WHERE closed_at IS NULL.
type Repository struct {
	db      *sql.DB
	clock   clock.Clock
	timeout time.Duration
}

// NewRepository creates a ledger. timeout bounds every individual storage call.
func NewRepository(db *sql.DB, c clock.Clock, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Repository{db: db, clock: c, timeout: timeout}
}

var _ Ledger = (*Repository)(nil)

func (r *Repository) today() string {
	return clock.DayKey(r.clock.Now(), r.clock.Location())
}

func (r *Repository) dayOf(t time.Time) string {
	return clock.DayKey(t, r.clock.Location())
}

// SessionByID returns one session or ErrSessionNotFound.
func (r *Repository) SessionByID(ctx context.Context, sessionID int64) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.get(ctx, sessionID)
}

// FindOpenSessionToday returns the member's open session for today, or nil.
func (r *Repository) FindOpenSessionToday(ctx context.Context, memberID int64) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE member_id = $1 AND open_day = $2 AND closed_at IS NULL
		ORDER BY opened_at DESC, id DESC
		LIMIT 1
	`, memberID, r.today())
	s, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fail("find open session", err)
	}
	return &s, nil
}

// OpenSession inserts a new open session, or fails with ErrDuplicateOpenSession.
func (r *Repository) OpenSession(ctx context.Context, memberID int64, openedAt time.Time, annotation string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (member_id, open_day, opened_at, annotation)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (member_id, open_day) WHERE closed_at IS NULL DO NOTHING
		RETURNING `+sessionColumns,
		memberID, r.dayOf(openedAt), dbTime(openedAt), nullable(annotation))
	s, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) || store.IsUniqueViolation(err) {
		return Session{}, ErrDuplicateOpenSession
	}
	if err != nil {
		return Session{}, fail("open session", err)
	}
	return s, nil
}

// CloseSession sets closed_at on an open session.
func (r *Repository) CloseSession(ctx context.Context, sessionID int64, closedAt time.Time) (Session, error) {
	return r.closeByID(ctx, "close session", sessionID, closedAt, "")
}

// ForceCloseOrphan closes a session left open past its natural window.
func (r *Repository) ForceCloseOrphan(ctx context.Context, sessionID int64, closedAt time.Time, annotation string) (Session, error) {
	return r.closeByID(ctx, "force close orphan", sessionID, closedAt, annotation)
}

// CloseMostRecentOpen closes the member's most recent open session today.
func (r *Repository) CloseMostRecentOpen(ctx context.Context, memberID int64, closedAt time.Time, annotation string) (Session, error) {
	return r.closeOpenForDay(ctx, memberID, r.today(), closedAt, annotation)
}

// Toggle opens a session when none is open today, otherwise closes the open one.
// Both branches are single conditional statements, so concurrent toggles for one member
// serialize on the unique index instead of on an application lock.
func (r *Repository) Toggle(ctx context.Context, memberID int64, at time.Time) (Session, Transition, error) {
	day := r.dayOf(at)
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		s, err := r.OpenSession(ctx, memberID, at, "")
		if err == nil {
			return s, Opened, nil
		}
		if !errors.Is(err, ErrDuplicateOpenSession) {
			return Session{}, "", err
		}
		s, err = r.closeOpenForDay(ctx, memberID, day, at, "")
		if err == nil {
			return s, Closed, nil
		}
		if !errors.Is(err, ErrNoOpenSession) {
			return Session{}, "", err
		}
		// closed by someone else between the two statements; try again
	}
	return Session{}, "", &StorageError{Op: "toggle", Err: fmt.Errorf("member %d: contention after %d attempts", memberID, toggleAttempts)}
}

// Reopen clears closed_at on a closed session. The unique index rejects it when the
// member already has another open session that day.
func (r *Repository) Reopen(ctx context.Context, sessionID int64, annotation string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET closed_at = NULL, annotation = `+appendNote("$2")+`
		WHERE id = $1 AND closed_at IS NOT NULL
		RETURNING `+sessionColumns,
		sessionID, annotation)
	s, err := r.scan(row)
	switch {
	case err == nil:
		return s, nil
	case store.IsUniqueViolation(err):
		return Session{}, ErrDuplicateOpenSession
	case errors.Is(err, sql.ErrNoRows):
		existing, gerr := r.get(ctx, sessionID)
		if gerr != nil {
			return Session{}, gerr
		}
		if existing.IsOpen() {
			return Session{}, ErrSessionNotClosed
		}
		return Session{}, fail("reopen session", fmt.Errorf("session %d changed concurrently", sessionID))
	default:
		return Session{}, fail("reopen session", err)
	}
}

// ListOpenNow returns today's open sessions, oldest first.
func (r *Repository) ListOpenNow(ctx context.Context) ([]Session, error) {
	return r.list(ctx, "list open sessions", `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE closed_at IS NULL AND open_day = $1
		ORDER BY opened_at ASC, id ASC
	`, r.today())
}

// ListByMember returns the member's sessions, newest first, at most MaxHistoryLimit.
func (r *Repository) ListByMember(ctx context.Context, memberID int64, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return r.list(ctx, "list member sessions", `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE member_id = $1
		ORDER BY opened_at DESC, id DESC
		LIMIT $2
	`, memberID, limit)
}

// ListByDate returns every session opened on day, oldest first.
func (r *Repository) ListByDate(ctx context.Context, day time.Time) ([]Session, error) {
	return r.list(ctx, "list sessions by date", `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE open_day = $1
		ORDER BY opened_at ASC, id ASC
	`, day.Format(clock.DayLayout))
}

// ListOrphans returns open sessions from a previous day or opened before openedBefore.
func (r *Repository) ListOrphans(ctx context.Context, openedBefore time.Time) ([]Session, error) {
	return r.list(ctx, "list orphan sessions", `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE closed_at IS NULL AND (open_day < $1 OR opened_at < $2)
		ORDER BY opened_at ASC, id ASC
	`, r.today(), dbTime(openedBefore))
}

// Summarize aggregates today's activity and the entries of the trailing windowDays days.
func (r *Repository) Summarize(ctx context.Context, windowDays int) (Summary, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	today := clock.Today(r.clock)
	from := today.AddDate(0, 0, -(windowDays - 1))
	var sum Summary
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN open_day = $1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN open_day = $1 AND closed_at IS NULL THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN open_day = $1 THEN member_id END),
			COUNT(*)
		FROM attendance_sessions
		WHERE open_day >= $2 AND open_day <= $1
	`, today.Format(clock.DayLayout), from.Format(clock.DayLayout)).Scan(
		&sum.EntriesToday, &sum.PresentNow, &sum.UniqueVisitorsToday, &sum.EntriesInWindow,
	)
	if err != nil {
		return Summary{}, fail("summarize", err)
	}
	return sum, nil
}

// DailyTotals counts sessions per day between from and to, inclusive. Days without
// sessions are omitted.
func (r *Repository) DailyTotals(ctx context.Context, from, to time.Time) ([]DayTotal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT open_day, COUNT(*), COUNT(closed_at)
		FROM attendance_sessions
		WHERE open_day >= $1 AND open_day <= $2
		GROUP BY open_day
		ORDER BY open_day
	`, from.Format(clock.DayLayout), to.Format(clock.DayLayout))
	if err != nil {
		return nil, fail("daily totals", err)
	}
	defer rows.Close()

	var res []DayTotal
	for rows.Next() {
		var t DayTotal
		if err := rows.Scan(&t.Day, &t.Opened, &t.Closed); err != nil {
			return nil, fail("daily totals", err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("daily totals", err)
	}
	return res, nil
}

func (r *Repository) closeByID(ctx context.Context, op string, sessionID int64, closedAt time.Time, annotation string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET `+closeSet("$2", "$3")+`
		WHERE id = $1 AND closed_at IS NULL
		RETURNING `+sessionColumns,
		sessionID, dbTime(closedAt), annotation)
	s, err := r.scan(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, fail(op, err)
	}
	if _, err := r.get(ctx, sessionID); err != nil {
		return Session{}, err
	}
	return Session{}, ErrAlreadyClosed
}

func (r *Repository) closeOpenForDay(ctx context.Context, memberID int64, day string, closedAt time.Time, annotation string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET `+closeSet("$3", "$4")+`
		WHERE closed_at IS NULL AND id = (
			SELECT id FROM attendance_sessions
			WHERE member_id = $1 AND open_day = $2 AND closed_at IS NULL
			ORDER BY opened_at DESC, id DESC
			LIMIT 1
		)
		RETURNING `+sessionColumns,
		memberID, day, dbTime(closedAt), annotation)
	s, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoOpenSession
	}
	if err != nil {
		return Session{}, fail("close open session", err)
	}
	return s, nil
}

func (r *Repository) get(ctx context.Context, sessionID int64) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, sessionID)
	s, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fail("get session", err)
	}
	return s, nil
}

func (r *Repository) list(ctx context.Context, op, query string, args ...any) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fail(op, err)
	}
	defer rows.Close()

	res := []Session{}
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, fail(op, err)
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(op, err)
	}
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scan(row scanner) (Session, error) {
	var (
		s          Session
		openedAt   store.NullTime
		closedAt   store.NullTime
		annotation sql.NullString
	)
	if err := row.Scan(&s.ID, &s.MemberID, &s.Day, &openedAt, &closedAt, &annotation); err != nil {
		return Session{}, err
	}
	loc := r.clock.Location()
	s.OpenedAt = openedAt.Time.In(loc)
	if closedAt.Valid {
		t := closedAt.Time.In(loc)
		s.ClosedAt = &t
	}
	if annotation.Valid {
		a := annotation.String
		s.Annotation = &a
	}
	return s, nil
}

// closeSet never lets closed_at precede opened_at and appends the note when non-empty.
func closeSet(closedAt, note string) string {
	return `closed_at = CASE WHEN ` + closedAt + ` < opened_at THEN opened_at ELSE ` + closedAt + ` END,
		annotation = ` + appendNote(note)
}

func appendNote(note string) string {
	n := `CAST(` + note + ` AS TEXT)`
	return `CASE
			WHEN ` + n + ` = '' THEN annotation
			WHEN annotation IS NULL OR annotation = '' THEN ` + n + `
			ELSE annotation || ' | ' || ` + n + `
		END`
}

// dbTime normalizes timestamps so both drivers store and compare them identically.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
