package membership

import (
	"context"
	"fmt"
	"time"

	"gymattendance/internal/clock"
)

// Status is the derived membership state.
type Status string

const (
	Active  Status = "Active"
	Expired Status = "Expired"
)

// Standing is a member together with their membership status as of one "today".
type Standing struct {
	Member        Member
	Status        Status
	DaysRemaining int
}

// DaysOverdue is the positive number of days since expiry, or zero.
func (s Standing) DaysOverdue() int {
	if s.DaysRemaining >= 0 {
		return 0
	}
	return -s.DaysRemaining
}

// ExpiringSoon reports an active membership with at most threshold days left.
func (s Standing) ExpiringSoon(threshold int) bool {
	return s.Status == Active && s.DaysRemaining <= threshold
}

// Advisory returns the non-blocking notice for a membership expiring within threshold days.
func (s Standing) Advisory(threshold int) string {
	if !s.ExpiringSoon(threshold) {
		return ""
	}
	return fmt.Sprintf("Your membership expires in %d day(s). Renew soon!", s.DaysRemaining)
}

// Evaluate computes status and days remaining from an expiry date and today.
// Both are truncated to calendar days; a missing expiry counts as expired.
func Evaluate(expiresOn *time.Time, today time.Time) (Status, int) {
	if expiresOn == nil {
		return Expired, 0
	}
	days := clock.DaysBetween(today, *expiresOn)
	if days >= 0 {
		return Active, days
	}
	return Expired, days
}

// Resolver answers membership status questions against a Directory.
type Resolver struct {
	dir   Directory
	clock clock.Clock
}

// NewResolver creates a resolver using c as the canonical source of "today".
func NewResolver(dir Directory, c clock.Clock) *Resolver {
	return &Resolver{dir: dir, clock: c}
}

// Resolve looks a member up by id and computes their standing.
func (r *Resolver) Resolve(ctx context.Context, memberID int64) (Standing, error) {
	m, err := r.dir.MemberByID(ctx, memberID)
	if err != nil {
		return Standing{}, err
	}
	return r.standing(m), nil
}

// ResolveBadge looks a member up by badge and computes their standing.
func (r *Resolver) ResolveBadge(ctx context.Context, badgeID string) (Standing, error) {
	m, err := r.dir.MemberByBadge(ctx, badgeID)
	if err != nil {
		return Standing{}, err
	}
	return r.standing(m), nil
}

// Member returns the raw member record without computing status.
func (r *Resolver) Member(ctx context.Context, memberID int64) (Member, error) {
	return r.dir.MemberByID(ctx, memberID)
}

func (r *Resolver) standing(m Member) Standing {
	status, days := Evaluate(m.ExpiresOn, clock.Today(r.clock))
	return Standing{Member: m, Status: status, DaysRemaining: days}
}
