package models

import "time"

// WaitlistEntry places a student in a title's priority queue. Positions are
// dense 1..N per book, ordered by descending priority score with ties broken
// by earlier join time.
type WaitlistEntry struct {
	ID            string    `db:"id" json:"id"`
	BookID        string    `db:"book_id" json:"book_id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	JoinedAt      time.Time `db:"joined_at" json:"joined_at"`
	QueuePosition int       `db:"queue_position" json:"queue_position"`
	PriorityScore float64   `db:"priority_score" json:"priority_score"`

	// Derived on read from JoinedAt and the ranking policy.
	WaitingDays       int `db:"-" json:"waiting_days"`
	EstimatedWaitDays int `db:"-" json:"estimated_wait_days"`
}

// WaitlistEntryDetail enriches an entry with member context for queue views.
type WaitlistEntryDetail struct {
	WaitlistEntry
	StudentName string     `db:"student_name" json:"student_name"`
	StudentTier MemberTier `db:"student_tier" json:"student_tier"`
}
