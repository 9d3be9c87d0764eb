package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveReturnStatus(t *testing.T) {
	cases := []struct {
		name        string
		cond        ReturnCondition
		overdueDays int
		want        BorrowStatus
	}{
		{"on time clean", ReturnCondition{}, 0, BorrowStatusReturned},
		{"late", ReturnCondition{}, 3, BorrowStatusLateReturned},
		{"damaged beats late", ReturnCondition{Damaged: true}, 3, BorrowStatusDamaged},
		{"lost beats damaged", ReturnCondition{Damaged: true, Lost: true}, 0, BorrowStatusLost},
		{"lost beats late", ReturnCondition{Lost: true}, 10, BorrowStatusLost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveReturnStatus(tc.cond, tc.overdueDays))
		})
	}
}

func TestBorrowStatusTerminal(t *testing.T) {
	assert.False(t, BorrowStatusBorrowed.Terminal())
	for _, s := range []BorrowStatus{BorrowStatusReturned, BorrowStatusLateReturned, BorrowStatusDamaged, BorrowStatusLost} {
		assert.True(t, s.Terminal(), "%s", s)
	}
}

func TestPenaltyStatusSettled(t *testing.T) {
	assert.True(t, PenaltyStatusPaid.Settled())
	assert.True(t, PenaltyStatusWaived.Settled())
	assert.False(t, PenaltyStatusPending.Settled())
	assert.False(t, PenaltyStatusNone.Settled())
}

func TestOverdueDays(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	record := BorrowRecord{DueDate: time.Date(2026, 5, 7, 12, 0, 0, 0, time.UTC)}
	assert.Equal(t, 3, record.OverdueDays(now))

	record.DueDate = now.Add(time.Hour)
	assert.Equal(t, 0, record.OverdueDays(now), "not yet due")

	// Partial days round down.
	record.DueDate = time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, record.OverdueDays(now))
}

func TestOverdueDaysStopsAtReturn(t *testing.T) {
	returnedAt := time.Date(2026, 5, 9, 12, 0, 0, 0, time.UTC)
	record := BorrowRecord{
		DueDate:    time.Date(2026, 5, 7, 12, 0, 0, 0, time.UTC),
		ReturnedAt: &returnedAt,
	}
	muchLater := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, record.OverdueDays(muchLater), "accrual freezes at the return timestamp")
}

func TestRequestStatusTerminal(t *testing.T) {
	assert.False(t, RequestStatusPending.Terminal())
	assert.True(t, RequestStatusApproved.Terminal())
	assert.True(t, RequestStatusRejected.Terminal())
}
