package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

type reportRecordStoreStub struct {
	details []models.BorrowRecordDetail
	records map[string]*models.BorrowRecord
	filter  models.BorrowRecordFilter
}

func (s *reportRecordStoreStub) List(_ context.Context, filter models.BorrowRecordFilter) ([]models.BorrowRecordDetail, int, error) {
	s.filter = filter
	return s.details, len(s.details), nil
}

func (s *reportRecordStoreStub) FindByID(_ context.Context, id string) (*models.BorrowRecord, error) {
	record, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return record, nil
}

func newReportFixture(t *testing.T, store *reportRecordStoreStub) *ReportService {
	t.Helper()
	mrp := decimal.RequireFromString("500")
	books := &penaltyBookReaderStub{books: map[string]*models.Book{
		"book-1": {ID: "book-1", Title: "Distributed Systems", MRP: &mrp, TotalCopies: 3},
	}}
	members := &memberReaderStub{members: map[string]*models.Member{
		"student-1": {ID: "student-1", FullName: "Ada", Status: models.MemberStatusApproved, Tier: models.TierRegular},
	}}
	return NewReportService(store, books, members, nil, nil, zap.NewNop())
}

func parseCSV(t *testing.T, payload []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestReportServiceOverdueCSV(t *testing.T) {
	now := time.Now().UTC()
	store := &reportRecordStoreStub{details: []models.BorrowRecordDetail{{
		BorrowRecord: models.BorrowRecord{
			ID:                "rec-1",
			BookID:            "book-1",
			StudentID:         "student-1",
			BorrowedAt:        now.AddDate(0, 0, -18),
			DueDate:           now.AddDate(0, 0, -4),
			Status:            models.BorrowStatusBorrowed,
			PenaltyAmount:     decimal.RequireFromString("200"),
			OutstandingAmount: decimal.RequireFromString("200"),
			PenaltyType:       models.PenaltyTypeLate,
			PenaltyStatus:     models.PenaltyStatusPending,
		},
		BookTitle:   "Distributed Systems",
		StudentName: "Ada",
	}}}
	svc := newReportFixture(t, store)

	payload, filename, err := svc.OverdueCSV(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.BorrowStatusBorrowed, store.filter.Status)
	assert.True(t, store.filter.OverdueOnly)

	rows := parseCSV(t, payload)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"borrow_record_id", "book_title", "student_name", "borrowed_at", "due_date", "days_overdue", "penalty_amount", "penalty_status"}, rows[0])
	assert.Equal(t, "rec-1", rows[1][0])
	assert.Equal(t, "Distributed Systems", rows[1][1])
	assert.Equal(t, "Ada", rows[1][2])
	assert.Equal(t, "4", rows[1][5])
	assert.Equal(t, "200", rows[1][6])
	assert.Equal(t, string(models.PenaltyStatusPending), rows[1][7])
	assert.Contains(t, filename, "overdue-loans-")
	assert.Contains(t, filename, ".csv")
}

func TestReportServicePendingPenaltiesCSV(t *testing.T) {
	store := &reportRecordStoreStub{details: []models.BorrowRecordDetail{{
		BorrowRecord: models.BorrowRecord{
			ID:                "rec-1",
			PenaltyAmount:     decimal.RequireFromString("150"),
			OutstandingAmount: decimal.RequireFromString("100"),
			PenaltyType:       models.PenaltyTypeLate,
			PenaltyStatus:     models.PenaltyStatusPending,
		},
		BookTitle:   "Distributed Systems",
		StudentName: "Ada",
	}}}
	svc := newReportFixture(t, store)

	payload, _, err := svc.PendingPenaltiesCSV(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusPending, store.filter.PenaltyStatus)

	rows := parseCSV(t, payload)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"rec-1", "Distributed Systems", "Ada", "LATE", "150", "100"}, rows[1])
}

func TestReportServicePenaltyStatementPDF(t *testing.T) {
	now := time.Now().UTC()
	returnedAt := now.AddDate(0, 0, -1)
	store := &reportRecordStoreStub{records: map[string]*models.BorrowRecord{
		"rec-1": {
			ID:                "rec-1",
			BookID:            "book-1",
			StudentID:         "student-1",
			BorrowedAt:        now.AddDate(0, 0, -20),
			DueDate:           now.AddDate(0, 0, -6),
			ReturnedAt:        &returnedAt,
			Status:            models.BorrowStatusLateReturned,
			PenaltyAmount:     decimal.RequireFromString("250"),
			OutstandingAmount: decimal.RequireFromString("250"),
			PenaltyType:       models.PenaltyTypeLate,
			PenaltyStatus:     models.PenaltyStatusPending,
		},
	}}
	svc := newReportFixture(t, store)

	payload, filename, err := svc.PenaltyStatementPDF(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(payload, []byte("%PDF")), "output must be a PDF document")
	assert.Equal(t, "penalty-statement-rec-1.pdf", filename)
}

func TestReportServicePenaltyStatementPDFNotFound(t *testing.T) {
	store := &reportRecordStoreStub{records: map[string]*models.BorrowRecord{}}
	svc := newReportFixture(t, store)

	_, _, err := svc.PenaltyStatementPDF(context.Background(), "missing")
	require.Error(t, err)
}
