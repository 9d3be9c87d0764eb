package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Book carries the circulation-facing slice of a catalog title. Catalog
// metadata editing lives outside this service; circulation only needs the
// copy counters and the MRP used for late-fee accrual.
type Book struct {
	ID              string           `db:"id" json:"id"`
	Title           string           `db:"title" json:"title"`
	Author          string           `db:"author" json:"author"`
	MRP             *decimal.Decimal `db:"mrp" json:"mrp,omitempty"`
	TotalCopies     int              `db:"total_copies" json:"total_copies"`
	AvailableCopies int              `db:"available_copies" json:"available_copies"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// Available reports whether the title currently has free copies.
func (b *Book) Available() bool {
	return b != nil && b.AvailableCopies > 0
}
