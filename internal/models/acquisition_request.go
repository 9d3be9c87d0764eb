package models

import "time"

// AcquisitionRequest asks the library to add a new title to the catalog. It
// shares the terminal-state invariant with IssueRequest but never touches
// circulation stock.
type AcquisitionRequest struct {
	ID              string        `db:"id" json:"id"`
	StudentID       string        `db:"student_id" json:"student_id"`
	BookName        string        `db:"book_name" json:"book_name"`
	Author          string        `db:"author" json:"author"`
	Publisher       string        `db:"publisher" json:"publisher,omitempty"`
	Edition         string        `db:"edition" json:"edition,omitempty"`
	Genre           string        `db:"genre" json:"genre,omitempty"`
	Justification   string        `db:"justification" json:"justification,omitempty"`
	Status          RequestStatus `db:"status" json:"status"`
	ReviewedBy      *string       `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// AcquisitionRequestFilter provides filters for listing acquisition requests.
type AcquisitionRequestFilter struct {
	StudentID string
	Status    RequestStatus
	Page      int
	PageSize  int
}
