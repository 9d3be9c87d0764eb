package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BorrowStatus represents the lifecycle of a loan. BORROWED is the only
// non-terminal state; there is no transition back to it.
type BorrowStatus string

const (
	BorrowStatusBorrowed     BorrowStatus = "BORROWED"
	BorrowStatusReturned     BorrowStatus = "RETURNED"
	BorrowStatusLateReturned BorrowStatus = "LATE_RETURNED"
	BorrowStatusDamaged      BorrowStatus = "DAMAGED"
	BorrowStatusLost         BorrowStatus = "LOST"
)

// Terminal reports whether the status represents a closed loan.
func (s BorrowStatus) Terminal() bool {
	switch s {
	case BorrowStatusReturned, BorrowStatusLateReturned, BorrowStatusDamaged, BorrowStatusLost:
		return true
	}
	return false
}

// PenaltyType classifies the charge attached to a borrow record.
type PenaltyType string

const (
	PenaltyTypeNone   PenaltyType = "NONE"
	PenaltyTypeLate   PenaltyType = "LATE"
	PenaltyTypeDamage PenaltyType = "DAMAGE"
	PenaltyTypeLost   PenaltyType = "LOST"
)

// PenaltyStatus tracks settlement of the charge. PAID and WAIVED are
// terminal; a settled penalty is never recomputed.
type PenaltyStatus string

const (
	PenaltyStatusNone    PenaltyStatus = "NONE"
	PenaltyStatusPending PenaltyStatus = "PENDING"
	PenaltyStatusPaid    PenaltyStatus = "PAID"
	PenaltyStatusWaived  PenaltyStatus = "WAIVED"
)

// Settled reports whether the penalty reached a terminal settlement state.
func (s PenaltyStatus) Settled() bool {
	return s == PenaltyStatusPaid || s == PenaltyStatusWaived
}

// PenaltyPaidVia distinguishes the settlement path in the audit trail.
type PenaltyPaidVia string

const (
	PaidViaPayment PenaltyPaidVia = "PAYMENT"
	PaidViaManual  PenaltyPaidVia = "MANUAL"
)

// BorrowRecord is one loan of one physical copy to one student. Records are
// retained as history and never physically deleted.
type BorrowRecord struct {
	ID                string          `db:"id" json:"id"`
	BookID            string          `db:"book_id" json:"book_id"`
	StudentID         string          `db:"student_id" json:"student_id"`
	BorrowedAt        time.Time       `db:"borrowed_at" json:"borrowed_at"`
	DueDate           time.Time       `db:"due_date" json:"due_date"`
	ReturnedAt        *time.Time      `db:"returned_at" json:"returned_at,omitempty"`
	Status            BorrowStatus    `db:"status" json:"status"`
	PenaltyAmount     decimal.Decimal `db:"penalty_amount" json:"penalty_amount"`
	OutstandingAmount decimal.Decimal `db:"outstanding_amount" json:"outstanding_amount"`
	PenaltyType       PenaltyType     `db:"penalty_type" json:"penalty_type"`
	PenaltyStatus     PenaltyStatus   `db:"penalty_status" json:"penalty_status"`
	PenaltyPaidVia    *PenaltyPaidVia `db:"penalty_paid_via" json:"penalty_paid_via,omitempty"`
	Version           int             `db:"version" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// OverdueDays computes whole days past the due date as of now, never
// negative. Accrual stops at the return timestamp once the loan is closed.
func (r *BorrowRecord) OverdueDays(now time.Time) int {
	asOf := now
	if r.ReturnedAt != nil {
		asOf = *r.ReturnedAt
	}
	if !asOf.After(r.DueDate) {
		return 0
	}
	return int(asOf.Sub(r.DueDate).Hours() / 24)
}

// BorrowRecordDetail enriches a record with title and member context for
// list views.
type BorrowRecordDetail struct {
	BorrowRecord
	BookTitle   string `db:"book_title" json:"book_title"`
	StudentName string `db:"student_name" json:"student_name"`
}

// BorrowRecordFilter provides filters for listing borrow records.
type BorrowRecordFilter struct {
	StudentID     string
	BookID        string
	Status        BorrowStatus
	PenaltyStatus PenaltyStatus
	OverdueOnly   bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// ReturnCondition captures the librarian's assessment at return time.
type ReturnCondition struct {
	Damaged bool `json:"damaged"`
	Lost    bool `json:"lost"`
}

// ResolveReturnStatus maps a return condition and overdue day count to the
// terminal status. Loss takes priority over damage, damage over lateness.
func ResolveReturnStatus(cond ReturnCondition, overdueDays int) BorrowStatus {
	switch {
	case cond.Lost:
		return BorrowStatusLost
	case cond.Damaged:
		return BorrowStatusDamaged
	case overdueDays > 0:
		return BorrowStatusLateReturned
	default:
		return BorrowStatusReturned
	}
}
