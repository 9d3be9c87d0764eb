package dto

import (
	"time"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

// IssueBookRequest issues a copy directly to a student, bypassing the
// request queue. Librarian-only.
type IssueBookRequest struct {
	BookID    string     `json:"book_id" validate:"required"`
	StudentID string     `json:"student_id" validate:"required"`
	DueDate   *time.Time `json:"due_date,omitempty"`
}

// ReturnBookRequest closes a loan with the librarian's condition assessment.
type ReturnBookRequest struct {
	Damaged bool `json:"damaged"`
	Lost    bool `json:"lost"`
}

// ReturnBookResponse reports the closed record plus any waitlist promotion
// triggered by the freed copy.
type ReturnBookResponse struct {
	Record   *models.BorrowRecord `json:"record"`
	Promoted *PromotionResult     `json:"promoted,omitempty"`
}

// PromotionResult describes the loan auto-issued to the head of the waitlist.
type PromotionResult struct {
	StudentID      string    `json:"student_id"`
	BorrowRecordID string    `json:"borrow_record_id"`
	DueDate        time.Time `json:"due_date"`
}

// ListBorrowRecordsRequest mirrors the query parameters of the listing
// endpoint.
type ListBorrowRecordsRequest struct {
	StudentID     string `form:"student_id"`
	BookID        string `form:"book_id"`
	Status        string `form:"status"`
	PenaltyStatus string `form:"penalty_status"`
	OverdueOnly   bool   `form:"overdue_only"`
	Page          int    `form:"page"`
	PageSize      int    `form:"page_size"`
	SortBy        string `form:"sort_by"`
	SortOrder     string `form:"sort_order"`
}
