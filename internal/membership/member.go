package membership

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMemberNotFound is returned when a badge or id does not resolve to a member.
var ErrMemberNotFound = errors.New("member not found")

// NoPlan is the plan name shown for members without a membership plan.
const NoPlan = "No plan"

// Member is read-only reference data owned by the membership subsystem.
type Member struct {
	ID        int64      `json:"id"`
	BadgeID   string     `json:"badgeId"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	PlanName  string     `json:"plan"`
	ExpiresOn *time.Time `json:"expiresOn"`
}

// FullName joins first and last name.
func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// Plan returns the plan name or NoPlan.
func (m Member) Plan() string {
	if m.PlanName == "" {
		return NoPlan
	}
	return m.PlanName
}

// Directory looks members up. Implementations return ErrMemberNotFound for unknown
// members and any other error for infrastructure failures.
type Directory interface {
	MemberByBadge(ctx context.Context, badgeID string) (Member, error)
	MemberByID(ctx context.Context, id int64) (Member, error)
}
