package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/dto"
	"github.com/noah-isme/lms-circulation-api/internal/models"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
)

type penaltyRecordStoreStub struct {
	records      map[string]*models.BorrowRecord
	overdue      []models.BorrowRecord
	failUpdates  bool
	failSettles  bool
	settleCalls  int
	updateCalls  int
}

func (s *penaltyRecordStoreStub) FindByID(_ context.Context, id string) (*models.BorrowRecord, error) {
	record, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *record
	return &copy, nil
}

func (s *penaltyRecordStoreStub) ListOverdueOpen(_ context.Context, _ time.Time) ([]models.BorrowRecord, error) {
	return s.overdue, nil
}

func (s *penaltyRecordStoreStub) UpdatePenaltyGuarded(_ context.Context, id string, amount, outstanding decimal.Decimal, penaltyType models.PenaltyType, status models.PenaltyStatus, expectedVersion int) (bool, error) {
	s.updateCalls++
	record, ok := s.records[id]
	if !ok || s.failUpdates || record.Version != expectedVersion || record.PenaltyStatus.Settled() {
		return false, nil
	}
	record.PenaltyAmount = amount
	record.OutstandingAmount = outstanding
	record.PenaltyType = penaltyType
	record.PenaltyStatus = status
	record.Version++
	return true, nil
}

func (s *penaltyRecordStoreStub) SettlePenaltyGuarded(_ context.Context, id string, outstanding decimal.Decimal, status models.PenaltyStatus, paidVia *models.PenaltyPaidVia, expectedVersion int) (bool, error) {
	s.settleCalls++
	record, ok := s.records[id]
	if !ok || s.failSettles || record.Version != expectedVersion {
		return false, nil
	}
	record.OutstandingAmount = outstanding
	record.PenaltyStatus = status
	record.PenaltyPaidVia = paidVia
	record.Version++
	return true, nil
}

type penaltyBookReaderStub struct {
	books map[string]*models.Book
}

func (s *penaltyBookReaderStub) FindByID(_ context.Context, id string) (*models.Book, error) {
	book, ok := s.books[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return book, nil
}

type notifierStub struct {
	sent []Notification
}

func (s *notifierStub) Dispatch(n Notification) {
	s.sent = append(s.sent, n)
}

func pendingRecord(id string, amount string) *models.BorrowRecord {
	amt := decimal.RequireFromString(amount)
	now := time.Now().UTC()
	return &models.BorrowRecord{
		ID:                id,
		BookID:            "book-1",
		StudentID:         "student-1",
		BorrowedAt:        now.AddDate(0, 0, -20),
		DueDate:           now.AddDate(0, 0, -6),
		Status:            models.BorrowStatusBorrowed,
		PenaltyAmount:     amt,
		OutstandingAmount: amt,
		PenaltyType:       models.PenaltyTypeLate,
		PenaltyStatus:     models.PenaltyStatusPending,
		Version:           3,
	}
}

func newPenaltyFixture(t *testing.T, store *penaltyRecordStoreStub, allowPartial bool) (*PenaltyService, *notifierStub) {
	t.Helper()
	mrp := decimal.RequireFromString("500")
	books := &penaltyBookReaderStub{books: map[string]*models.Book{
		"book-1": {ID: "book-1", Title: "Distributed Systems", MRP: &mrp, TotalCopies: 3},
	}}
	notifier := &notifierStub{}
	svc := NewPenaltyService(store, books, testPolicy(), allowPartial, 3, notifier, nil, validator.New(), zap.NewNop())
	return svc, notifier
}

func TestPenaltyServicePayFullSettles(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, false)

	record, err := svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: "150"})
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusPaid, record.PenaltyStatus)
	assert.True(t, record.OutstandingAmount.IsZero())
	require.NotNil(t, record.PenaltyPaidVia)
	assert.Equal(t, models.PaidViaPayment, *record.PenaltyPaidVia)
}

func TestPenaltyServicePayRejectsOverpayment(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, true)

	_, err := svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: "151"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidAmount.Code, appErrors.FromError(err).Code)
}

func TestPenaltyServicePayRejectsNonPositiveAmounts(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, true)

	for _, amount := range []string{"0", "-5", "abc"} {
		_, err := svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: amount})
		require.Error(t, err, "amount %q should be rejected", amount)
	}
	assert.Zero(t, store.settleCalls)
}

func TestPenaltyServicePartialPaymentDisabled(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, false)

	_, err := svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: "50"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidAmount.Code, appErrors.FromError(err).Code)
}

func TestPenaltyServicePartialPaymentKeepsPending(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, true)

	record, err := svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: "50"})
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusPending, record.PenaltyStatus)
	assert.True(t, record.OutstandingAmount.Equal(decimal.RequireFromString("100")))
	assert.Nil(t, record.PenaltyPaidVia)
}

func TestPenaltyServiceWaiveThenPayFails(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, false)

	record, err := svc.Waive(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusWaived, record.PenaltyStatus)
	assert.True(t, record.OutstandingAmount.IsZero())

	_, err = svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: "150"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyProcessed.Code, appErrors.FromError(err).Code)
}

func TestPenaltyServiceWaiveAfterPaidFails(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, false)

	_, err := svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: "150"})
	require.NoError(t, err)

	_, err = svc.Waive(context.Background(), "rec-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyProcessed.Code, appErrors.FromError(err).Code)
}

func TestPenaltyServiceMarkPaidRecordsManualPath(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, false)

	record, err := svc.MarkPaid(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusPaid, record.PenaltyStatus)
	require.NotNil(t, record.PenaltyPaidVia)
	assert.Equal(t, models.PaidViaManual, *record.PenaltyPaidVia)
}

func TestPenaltyServicePayConcurrencyConflict(t *testing.T) {
	store := &penaltyRecordStoreStub{
		records:     map[string]*models.BorrowRecord{"rec-1": pendingRecord("rec-1", "150")},
		failSettles: true,
	}
	svc, _ := newPenaltyFixture(t, store, false)

	_, err := svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: "150"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConcurrencyConflict.Code, appErrors.FromError(err).Code)
}

func TestPenaltyServiceRecomputeLeavesSettledAlone(t *testing.T) {
	settled := pendingRecord("rec-1", "150")
	settled.PenaltyStatus = models.PenaltyStatusPaid
	settled.OutstandingAmount = decimal.Zero
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{"rec-1": settled}}
	svc, _ := newPenaltyFixture(t, store, false)

	record, err := svc.Recompute(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusPaid, record.PenaltyStatus)
	assert.Zero(t, store.updateCalls)
}

func TestPenaltyServiceReconcileUpdatesOverdueLoans(t *testing.T) {
	overdue := pendingRecord("rec-1", "0")
	overdue.PenaltyAmount = decimal.Zero
	overdue.OutstandingAmount = decimal.Zero
	overdue.PenaltyType = models.PenaltyTypeNone
	overdue.PenaltyStatus = models.PenaltyStatusNone
	store := &penaltyRecordStoreStub{
		records: map[string]*models.BorrowRecord{"rec-1": overdue},
		overdue: []models.BorrowRecord{*overdue},
	}
	svc, _ := newPenaltyFixture(t, store, false)

	result, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Updated)

	record := store.records["rec-1"]
	assert.Equal(t, models.PenaltyStatusPending, record.PenaltyStatus)
	assert.Equal(t, models.PenaltyTypeLate, record.PenaltyType)
	// 6 days overdue at 50 per day.
	assert.True(t, record.PenaltyAmount.Equal(decimal.RequireFromString("300")), "got %s", record.PenaltyAmount)
}

func TestPenaltyServiceReconcileNeverRevertsSettlement(t *testing.T) {
	paid := pendingRecord("rec-1", "150")
	store := &penaltyRecordStoreStub{
		records: map[string]*models.BorrowRecord{"rec-1": paid},
		overdue: []models.BorrowRecord{*paid},
	}
	svc, _ := newPenaltyFixture(t, store, false)

	// Settle between the sweep's listing and its per-record read.
	_, err := svc.Pay(context.Background(), "rec-1", dto.PayPenaltyRequest{Amount: "150"})
	require.NoError(t, err)

	result, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 0, result.Updated)

	record := store.records["rec-1"]
	assert.Equal(t, models.PenaltyStatusPaid, record.PenaltyStatus)
	assert.True(t, record.OutstandingAmount.IsZero())
}

func TestPenaltyServiceReconcileCountsConflicts(t *testing.T) {
	overdue := pendingRecord("rec-1", "100")
	store := &penaltyRecordStoreStub{
		records:     map[string]*models.BorrowRecord{"rec-1": overdue},
		overdue:     []models.BorrowRecord{*overdue},
		failUpdates: true,
	}
	svc, _ := newPenaltyFixture(t, store, false)

	result, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 3, result.Conflicts, "bounded retry should stop at max retries")
}

func TestPenaltyServicePayNotFound(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{}}
	svc, _ := newPenaltyFixture(t, store, false)

	_, err := svc.Pay(context.Background(), "missing", dto.PayPenaltyRequest{Amount: "10"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPenaltyServicePreviewQuotesWithoutWriting(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, true)

	quote, err := svc.Preview(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 6, quote.OverdueDays)
	assert.Equal(t, "50", quote.DailyRate.String())
	assert.Equal(t, "300", quote.Amount.String(), "6 overdue days at 10% of MRP 500")
	assert.Equal(t, models.PenaltyTypeLate, quote.PenaltyType)
	assert.Equal(t, 0, store.updateCalls, "preview must not persist anything")
	assert.Equal(t, 0, store.settleCalls)
}

func TestPenaltyServiceRecomputeCarriesPriorPayments(t *testing.T) {
	record := pendingRecord("rec-1", "100")
	// 60 already paid against the stale assessment.
	record.OutstandingAmount = decimal.RequireFromString("40")
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{"rec-1": record}}
	svc, _ := newPenaltyFixture(t, store, true)

	updated, err := svc.Recompute(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "300", updated.PenaltyAmount.String(), "6 overdue days at 50 per day")
	assert.Equal(t, "240", updated.OutstandingAmount.String(), "prior payments stay credited")
	assert.Equal(t, models.PenaltyStatusPending, updated.PenaltyStatus)
}

func TestPenaltyServiceRecomputeIsIdempotent(t *testing.T) {
	store := &penaltyRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": pendingRecord("rec-1", "150"),
	}}
	svc, _ := newPenaltyFixture(t, store, true)

	first, err := svc.Recompute(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "300", first.PenaltyAmount.String())

	second, err := svc.Recompute(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, first.PenaltyAmount.Equal(second.PenaltyAmount))
	assert.Equal(t, 1, store.updateCalls, "unchanged inputs must not rewrite the record")
}
