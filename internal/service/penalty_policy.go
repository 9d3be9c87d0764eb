package service

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/lms-circulation-api/internal/models"
	"github.com/noah-isme/lms-circulation-api/pkg/config"
)

// PenaltyPolicy is the pure fine tariff. Given the same inputs it always
// produces the same charge, which keeps reconciliation idempotent.
type PenaltyPolicy struct {
	cfg config.PenaltyConfig
}

// NewPenaltyPolicy builds the tariff from configuration.
func NewPenaltyPolicy(cfg config.PenaltyConfig) PenaltyPolicy {
	return PenaltyPolicy{cfg: cfg}
}

// DailyRate returns the per-day late charge for a title. Books without a
// recorded MRP accrue no late fee.
func (p PenaltyPolicy) DailyRate(mrp *decimal.Decimal) decimal.Decimal {
	if mrp == nil {
		return decimal.Zero
	}
	return mrp.Mul(p.cfg.LateDailyFactor)
}

// Assess computes the charge for a loan in the given state. Loss and damage
// use flat replacement fees and override any accrued lateness; an open
// BORROWED loan past due accrues the late tariff.
func (p PenaltyPolicy) Assess(mrp *decimal.Decimal, status models.BorrowStatus, overdueDays int) (decimal.Decimal, models.PenaltyType) {
	switch status {
	case models.BorrowStatusLost:
		return p.cfg.LostFee, models.PenaltyTypeLost
	case models.BorrowStatusDamaged:
		return p.cfg.DamageFee, models.PenaltyTypeDamage
	}
	if overdueDays <= 0 {
		return decimal.Zero, models.PenaltyTypeNone
	}
	amount := p.DailyRate(mrp).Mul(decimal.NewFromInt(int64(overdueDays)))
	if amount.IsZero() {
		return decimal.Zero, models.PenaltyTypeNone
	}
	return amount, models.PenaltyTypeLate
}
