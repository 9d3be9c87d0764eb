package dto

import "time"

// CreateIssueRequestRequest enqueues a student's ask to borrow a title.
type CreateIssueRequestRequest struct {
	BookID string `json:"book_id" validate:"required"`
}

// ApproveRequestRequest optionally overrides the default due date.
type ApproveRequestRequest struct {
	DueDate *time.Time `json:"due_date,omitempty"`
}

// RejectRequestRequest carries the mandatory rejection reason.
type RejectRequestRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// BulkApproveRequest approves requests in the given order. Processing is
// best-effort per item; the response lists every failure with its reason.
type BulkApproveRequest struct {
	RequestIDs []string   `json:"request_ids" validate:"required,min=1"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

// CreateAcquisitionRequestRequest asks the library to stock a new title.
type CreateAcquisitionRequestRequest struct {
	BookName      string `json:"book_name" validate:"required"`
	Author        string `json:"author" validate:"required"`
	Publisher     string `json:"publisher"`
	Edition       string `json:"edition"`
	Genre         string `json:"genre"`
	Justification string `json:"justification"`
}

// ReviewAcquisitionRequestRequest approves or rejects an acquisition ask.
type ReviewAcquisitionRequestRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

// ListRequestsRequest mirrors the query parameters of request listings.
type ListRequestsRequest struct {
	StudentID string `form:"student_id"`
	BookID    string `form:"book_id"`
	Status    string `form:"status"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}
