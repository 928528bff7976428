package attendance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gymattendance/internal/membership"
	"gymattendance/internal/metrics"
)

func newEngine(f *fixture) *Engine {
	return NewEngine(
		membership.NewResolver(f.dir, f.clock),
		f.repo,
		f.clock,
		Options{Metrics: metrics.New(prometheus.NewRegistry()), ExpiringSoonDays: 5},
	)
}

func TestScanEntryExitReentry(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	ctx := context.Background()
	f.member(t, "B-1", "Ana", 30)

	res, err := e.ProcessScan(ctx, "B-1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if res.Status != OutcomeEntry || res.Message != "Welcome, Ana!" || res.Advisory != "" {
		t.Fatalf("unexpected entry %+v", res)
	}

	f.clock.Advance(50 * time.Minute)
	res, err = e.ProcessScan(ctx, "B-1")
	if err != nil || res.Status != OutcomeExit || res.Message != "Goodbye, Ana!" {
		t.Fatalf("exit = %+v, %v", res, err)
	}

	f.clock.Advance(3 * time.Hour)
	res, err = e.ProcessScan(ctx, "B-1")
	if err != nil || res.Status != OutcomeEntry {
		t.Fatalf("re-entry = %+v, %v", res, err)
	}
}

func TestScanExpiredMembershipIsDenied(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	ctx := context.Background()
	id := f.member(t, "B-1", "Ana", -3)

	_, err := e.ProcessScan(ctx, "B-1")
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AccessDeniedError, got %v", err)
	}
	if denied.DaysOverdue != 3 || !strings.Contains(err.Error(), "3 day(s) ago") {
		t.Fatalf("unexpected denial %v", err)
	}

	history, err := f.repo.ListByMember(ctx, id, 0)
	if err != nil || len(history) != 0 {
		t.Fatalf("denied scan wrote to the ledger: %v %v", history, err)
	}
}

func TestScanExpiredMembershipDoesNotCloseOpenSession(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	ctx := context.Background()
	id := f.member(t, "B-1", "Ana", -3)

	entry, err := e.ProcessManual(ctx, id, DirectionEntry, "")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}

	f.clock.Advance(40 * time.Minute)
	_, err = e.ProcessScan(ctx, "B-1")
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AccessDeniedError, got %v", err)
	}

	open, err := f.repo.FindOpenSessionToday(ctx, id)
	if err != nil || open == nil {
		t.Fatalf("expected the manual session to stay open, got %v %v", open, err)
	}
	if open.ID != entry.Session.ID || open.ClosedAt != nil {
		t.Fatalf("unexpected open session %+v", open)
	}
}

func TestScanExpiringSoonAdvisory(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	f.member(t, "B-1", "Ana", 4)

	res, err := e.ProcessScan(context.Background(), "B-1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Status != OutcomeEntry || !strings.Contains(res.Advisory, "4 day(s)") {
		t.Fatalf("unexpected %+v", res)
	}
}

func TestScanExpiringTodayIsActive(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	f.member(t, "B-1", "Ana", 0)

	res, err := e.ProcessScan(context.Background(), "B-1")
	if err != nil || res.Status != OutcomeEntry {
		t.Fatalf("scan = %+v, %v", res, err)
	}
}

func TestScanUnknownBadge(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)

	_, err := e.ProcessScan(context.Background(), "nope")
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestConcurrentScansAlternate(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	ctx := context.Background()
	id := f.member(t, "B-1", "Ana", 30)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entries int
		exits   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.ProcessScan(ctx, "B-1")
			if err != nil {
				t.Errorf("scan: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Status == OutcomeEntry {
				entries++
			} else {
				exits++
			}
		}()
	}
	wg.Wait()

	if entries != n/2 || exits != n/2 {
		t.Fatalf("entries=%d exits=%d", entries, exits)
	}
	history, err := f.repo.ListByMember(ctx, id, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, s := range history {
		if s.IsOpen() {
			t.Fatalf("session %d left open", s.ID)
		}
	}
}

func TestManualEntryBypassesExpiry(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	ctx := context.Background()
	id := f.member(t, "B-1", "Ana", -3)

	res, err := e.ProcessManual(ctx, id, DirectionEntry, "")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	if res.Status != OutcomeEntry || res.Reason != DefaultManualReason {
		t.Fatalf("unexpected %+v", res)
	}
	if res.Session.Annotation == nil || *res.Session.Annotation != "[MANUAL] "+DefaultManualReason {
		t.Fatalf("annotation = %v", res.Session.Annotation)
	}
	if !strings.Contains(res.Advisory, "expired 3 day(s) ago") {
		t.Fatalf("advisory = %q", res.Advisory)
	}
}

func TestManualEntryConflict(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	ctx := context.Background()
	id := f.member(t, "B-1", "Ana", 30)

	first, err := e.ProcessScan(ctx, "B-1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	_, err = e.ProcessManual(ctx, id, DirectionEntry, "forgot badge")
	var conflict *ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, ErrDuplicateOpenSession) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.SessionID != first.Session.ID || conflict.Name != "Ana Tester" {
		t.Fatalf("unexpected conflict %+v", conflict)
	}

	open, _ := f.repo.ListOpenNow(ctx)
	if len(open) != 1 {
		t.Fatalf("expected the original session to stay open, got %d", len(open))
	}
}

func TestManualExit(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	ctx := context.Background()
	id := f.member(t, "B-1", "Ana", 30)

	_, err := e.ProcessManual(ctx, id, DirectionExit, "")
	var none *NoOpenEntryError
	if !errors.As(err, &none) || !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("expected NoOpenEntryError, got %v", err)
	}

	if _, err := e.ProcessScan(ctx, "B-1"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	f.clock.Advance(time.Hour)
	res, err := e.ProcessManual(ctx, id, DirectionExit, "left through the back")
	if err != nil {
		t.Fatalf("manual exit: %v", err)
	}
	if res.Status != OutcomeExit || res.Session.ClosedAt == nil {
		t.Fatalf("unexpected %+v", res)
	}
	if res.Session.Annotation == nil || *res.Session.Annotation != "[MANUAL EXIT] left through the back" {
		t.Fatalf("annotation = %v", res.Session.Annotation)
	}
}

// failingNoteLedger refuses annotated closes the way a store without annotation support would.
type failingNoteLedger struct {
	*Repository
	annotated int
}

func (l *failingNoteLedger) CloseMostRecentOpen(ctx context.Context, memberID int64, closedAt time.Time, annotation string) (Session, error) {
	if annotation != "" {
		l.annotated++
		return Session{}, &StorageError{Op: "close with annotation", Err: errors.New("annotation column unavailable")}
	}
	return l.Repository.CloseMostRecentOpen(ctx, memberID, closedAt, annotation)
}

func TestManualExitClosesWithoutNoteWhenNoteFails(t *testing.T) {
	f := newFixture(t)
	ledger := &failingNoteLedger{Repository: f.repo}
	e := NewEngine(
		membership.NewResolver(f.dir, f.clock),
		ledger,
		f.clock,
		Options{Metrics: metrics.New(prometheus.NewRegistry()), ExpiringSoonDays: 5},
	)
	ctx := context.Background()
	id := f.member(t, "B-1", "Ana", 30)

	if _, err := e.ProcessScan(ctx, "B-1"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	f.clock.Advance(time.Hour)
	res, err := e.ProcessManual(ctx, id, DirectionExit, "left through the back")
	if err != nil {
		t.Fatalf("manual exit: %v", err)
	}
	if ledger.annotated != 1 {
		t.Fatalf("expected one annotated attempt, got %d", ledger.annotated)
	}
	if res.Status != OutcomeExit || res.Session.ClosedAt == nil || res.Session.Annotation != nil {
		t.Fatalf("unexpected %+v", res)
	}

	open, err := f.repo.FindOpenSessionToday(ctx, id)
	if err != nil || open != nil {
		t.Fatalf("expected no open session, got %v %v", open, err)
	}
}

func TestManualUnknownMember(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)

	_, err := e.ProcessManual(context.Background(), 404, DirectionEntry, "")
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
	_, err = e.ProcessManual(context.Background(), 1, Direction("SIDEWAYS"), "")
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestEngineReopen(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	ctx := context.Background()
	f.member(t, "B-1", "Ana", 30)

	entry, _ := e.ProcessScan(ctx, "B-1")
	f.clock.Advance(time.Minute)
	if _, err := e.ProcessScan(ctx, "B-1"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	s, err := e.Reopen(ctx, entry.Session.ID, "double scan")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s.IsOpen() || *s.Annotation != "[REOPEN] double scan" {
		t.Fatalf("unexpected %+v", s)
	}
	if _, err := e.Reopen(ctx, 999, "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStorageFailureSurfacesAsUnavailable(t *testing.T) {
	f := newFixture(t)
	e := newEngine(f)
	f.member(t, "B-1", "Ana", 30)
	_ = f.db.Close()

	_, err := e.ProcessScan(context.Background(), "B-1")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"entry": DirectionEntry, " EXIT ": DirectionExit} {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Fatalf("ParseDirection(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDirection("in"); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}
