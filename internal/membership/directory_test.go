package membership

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gymattendance/internal/store"
)

func TestSQLDirectory(t *testing.T) {
	db, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	dir := NewSQLDirectory(db.Client)

	planID, err := dir.CreatePlan(ctx, PlanInput{Name: "Monthly"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	id, err := dir.CreateMember(ctx, MemberInput{
		BadgeID: "QR-100", FirstName: "Luis", LastName: "Mora", PlanID: &planID, ExpiresOn: date(2026, 11, 1),
	})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	noPlanID, err := dir.CreateMember(ctx, MemberInput{BadgeID: "QR-200", FirstName: "Eva"})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}

	m, err := dir.MemberByBadge(ctx, "QR-100")
	if err != nil {
		t.Fatalf("by badge: %v", err)
	}
	if m.ID != id || m.PlanName != "Monthly" || m.FullName() != "Luis Mora" {
		t.Fatalf("unexpected member %+v", m)
	}
	if m.ExpiresOn == nil || !m.ExpiresOn.Equal(*date(2026, 11, 1)) {
		t.Fatalf("unexpected expiry %v", m.ExpiresOn)
	}

	eva, err := dir.MemberByID(ctx, noPlanID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if eva.ExpiresOn != nil || eva.Plan() != NoPlan {
		t.Fatalf("unexpected member %+v", eva)
	}

	if _, err := dir.MemberByBadge(ctx, "missing"); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := dir.MemberByID(ctx, 0); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClientMemberLookups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/members/by-badge/QR 9", "/members/9":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":9,"badge_id":"QR 9","first_name":"Rosa","last_name":"Gil","plan":"Annual","expires_on":"2026-10-23"}`))
		case "/members/10":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	m, err := c.MemberByBadge(ctx, "QR 9")
	if err != nil {
		t.Fatalf("by badge: %v", err)
	}
	if m.ID != 9 || m.Plan() != "Annual" || m.ExpiresOn == nil {
		t.Fatalf("unexpected member %+v", m)
	}
	status, days := Evaluate(m.ExpiresOn, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	if status != Active || days != 4 {
		t.Fatalf("unexpected status %s %d", status, days)
	}

	if _, err := c.MemberByID(ctx, 9); err != nil {
		t.Fatalf("by id: %v", err)
	}
	if _, err := c.MemberByID(ctx, 11); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.MemberByID(ctx, 10); err == nil || errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
}
