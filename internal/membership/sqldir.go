package membership

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gymattendance/internal/store"
)

// SQLDirectory reads members from the membership subsystem's tables.
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory over db.
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

const memberColumns = `
	SELECT m.id, m.badge_id, m.first_name, m.last_name, COALESCE(p.name, ''), m.expires_on
	FROM members m
	LEFT JOIN membership_plans p ON p.id = m.plan_id`

// MemberByBadge resolves an active member by badge id.
func (d *SQLDirectory) MemberByBadge(ctx context.Context, badgeID string) (Member, error) {
	if badgeID == "" {
		return Member{}, ErrMemberNotFound
	}
	row := d.db.QueryRowContext(ctx, memberColumns+` WHERE m.badge_id = $1 AND m.active`, badgeID)
	return scanMember(row)
}

// MemberByID resolves a member by internal id.
func (d *SQLDirectory) MemberByID(ctx context.Context, id int64) (Member, error) {
	if id <= 0 {
		return Member{}, ErrMemberNotFound
	}
	row := d.db.QueryRowContext(ctx, memberColumns+` WHERE m.id = $1`, id)
	return scanMember(row)
}

func scanMember(row *sql.Row) (Member, error) {
	var (
		m       Member
		expires store.NullTime
	)
	if err := row.Scan(&m.ID, &m.BadgeID, &m.FirstName, &m.LastName, &m.PlanName, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, err
	}
	if expires.Valid {
		d := time.Date(expires.Time.Year(), expires.Time.Month(), expires.Time.Day(), 0, 0, 0, 0, time.UTC)
		m.ExpiresOn = &d
	}
	return m, nil
}

// PlanInput describes a plan to seed.
type PlanInput struct {
	Name string
}

// MemberInput describes a member to register. Registration belongs to the membership
// subsystem; this exists for bootstrapping single-node installs and tests.
type MemberInput struct {
	BadgeID   string
	FirstName string
	LastName  string
	PlanID    *int64
	ExpiresOn *time.Time
}

// CreatePlan inserts a membership plan and returns its id.
func (d *SQLDirectory) CreatePlan(ctx context.Context, in PlanInput) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, `INSERT INTO membership_plans (name) VALUES ($1) RETURNING id`, in.Name).Scan(&id)
	return id, err
}

// CreateMember inserts a member and returns its id.
func (d *SQLDirectory) CreateMember(ctx context.Context, in MemberInput) (int64, error) {
	var expires any
	if in.ExpiresOn != nil {
		expires = in.ExpiresOn.Format("2006-01-02")
	}
	var id int64
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO members (badge_id, first_name, last_name, plan_id, expires_on)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, in.BadgeID, in.FirstName, in.LastName, in.PlanID, expires).Scan(&id)
	return id, err
}
