package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"gymattendance/internal/attendance"
	"gymattendance/internal/clock"
	"gymattendance/internal/membership"
	"gymattendance/internal/queue"
	"gymattendance/internal/store"
)

func TestSweepClosesOnlyOrphans(t *testing.T) {
	db, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	c := clock.NewManual(time.Date(2026, 10, 18, 19, 0, 0, 0, time.UTC))
	dir := membership.NewSQLDirectory(db.Client)
	ledger := attendance.NewRepository(db.Client, c, time.Second)

	var ids []int64
	for _, badge := range []string{"A", "B", "C"} {
		id, err := dir.CreateMember(ctx, membership.MemberInput{BadgeID: badge, FirstName: badge})
		if err != nil {
			t.Fatalf("create member: %v", err)
		}
		ids = append(ids, id)
	}

	// yesterday evening, forgotten
	yesterday, _ := ledger.OpenSession(ctx, ids[0], c.Now(), "")

	// today at 00:30, open for more than 12h by 13:00
	c.Set(time.Date(2026, 10, 19, 0, 30, 0, 0, time.UTC))
	early, _ := ledger.OpenSession(ctx, ids[1], c.Now(), "")

	// today at noon, still training
	c.Set(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	current, _ := ledger.OpenSession(ctx, ids[2], c.Now(), "")

	c.Set(time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC))
	s := New(ledger, c, 12*time.Hour, nil, nil)
	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Scanned != 2 || res.Closed != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	for _, id := range []int64{yesterday.ID, early.ID} {
		got, err := ledger.SessionByID(ctx, id)
		if err != nil {
			t.Fatalf("get %d: %v", id, err)
		}
		if got.IsOpen() || got.Annotation == nil || *got.Annotation != Annotation {
			t.Fatalf("session %d not swept: %+v", id, got)
		}
	}
	if got, _ := ledger.SessionByID(ctx, current.ID); !got.IsOpen() {
		t.Fatal("current visit must stay open")
	}

	res, err = s.Sweep(ctx)
	if err != nil || res.Scanned != 0 {
		t.Fatalf("second sweep = %+v, %v", res, err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	db, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	c := clock.NewManual(time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC))
	s := New(attendance.NewRepository(db.Client, c, time.Second), c, time.Hour, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type brokenQueue struct{ err error }

func (q brokenQueue) Publish(context.Context, queue.Message) error { return q.err }

func (q brokenQueue) Consume(context.Context) (<-chan queue.Message, error) { return nil, q.err }

func TestServeReturnsConsumeError(t *testing.T) {
	db, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	c := clock.NewManual(time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC))
	s := New(attendance.NewRepository(db.Client, c, time.Second), c, time.Hour, nil, nil)

	want := errors.New("redis down")
	if err := s.Serve(context.Background(), brokenQueue{err: want}, time.Minute); !errors.Is(err, want) {
		t.Fatalf("expected consume error, got %v", err)
	}
}
