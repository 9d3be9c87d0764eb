package models

import "time"

// RequestStatus represents the approval lifecycle shared by issue and
// acquisition requests. Once a request leaves PENDING it is terminal.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// Terminal reports whether the request has been processed.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// IssueRequest is a student's ask to borrow a title, processed exactly once
// by a librarian.
type IssueRequest struct {
	ID                     string        `db:"id" json:"id"`
	StudentID              string        `db:"student_id" json:"student_id"`
	BookID                 string        `db:"book_id" json:"book_id"`
	RequestedAt            time.Time     `db:"requested_at" json:"requested_at"`
	Status                 RequestStatus `db:"status" json:"status"`
	ProcessedAt            *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy            *string       `db:"processed_by" json:"processed_by,omitempty"`
	RejectionReason        *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ResultingBorrowRecordID *string      `db:"resulting_borrow_record_id" json:"resulting_borrow_record_id,omitempty"`
}

// IssueRequestDetail enriches a request with book and member context.
type IssueRequestDetail struct {
	IssueRequest
	BookTitle   string `db:"book_title" json:"book_title"`
	StudentName string `db:"student_name" json:"student_name"`
}

// IssueRequestFilter provides filters for listing issue requests.
type IssueRequestFilter struct {
	StudentID string
	BookID    string
	Status    RequestStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// BulkItemFailure records why one request in a batch could not be approved.
type BulkItemFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkApproveResult reports the per-item outcome of a bulk approval. The
// batch is best-effort: failed entries stay PENDING for manual follow-up.
type BulkApproveResult struct {
	ApprovedCount  int               `json:"approved_count"`
	Succeeded      []string          `json:"succeeded"`
	FailedRequests []BulkItemFailure `json:"failed_requests"`
}
