package models

import "time"

// MemberStatus represents the membership lifecycle maintained by the member
// profile service; circulation only checks good standing.
type MemberStatus string

const (
	MemberStatusApproved  MemberStatus = "APPROVED"
	MemberStatusPending   MemberStatus = "PENDING"
	MemberStatusSuspended MemberStatus = "SUSPENDED"
	MemberStatusExpired   MemberStatus = "EXPIRED"
)

// MemberTier feeds the waitlist priority boost policy.
type MemberTier string

const (
	TierRegular MemberTier = "REGULAR"
	TierHonors  MemberTier = "HONORS"
	TierFaculty MemberTier = "FACULTY"
)

// Member is the circulation-facing view of a student profile.
type Member struct {
	ID        string       `db:"id" json:"id"`
	FullName  string       `db:"full_name" json:"full_name"`
	Email     string       `db:"email" json:"email"`
	Status    MemberStatus `db:"status" json:"status"`
	Tier      MemberTier   `db:"tier" json:"tier"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Eligible reports whether the member may borrow.
func (m *Member) Eligible() bool {
	return m != nil && m.Status == MemberStatusApproved
}
