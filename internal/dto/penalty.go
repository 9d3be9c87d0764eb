package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

// PayPenaltyRequest settles part or all of a pending penalty. Amount is a
// decimal string to avoid float rounding on money.
type PayPenaltyRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// PenaltyQuote is a read-only fine preview. Nothing is persisted; the quote
// reflects the tariff as of AsOf and will grow while the loan stays overdue.
type PenaltyQuote struct {
	BorrowRecordID string             `json:"borrow_record_id"`
	OverdueDays    int                `json:"overdue_days"`
	PenaltyType    models.PenaltyType `json:"penalty_type"`
	Amount         decimal.Decimal    `json:"amount"`
	DailyRate      decimal.Decimal    `json:"daily_rate"`
	AsOf           time.Time          `json:"as_of"`
}

// ReconcileResult summarises one reconciliation sweep over open overdue
// loans.
type ReconcileResult struct {
	Scanned   int       `json:"scanned"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Conflicts int       `json:"conflicts"`
	RanAt     time.Time `json:"ran_at"`
}
