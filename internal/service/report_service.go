package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/models"
	"github.com/noah-isme/lms-circulation-api/pkg/export"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
)

type reportRecordStore interface {
	List(ctx context.Context, filter models.BorrowRecordFilter) ([]models.BorrowRecordDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.BorrowRecord, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string, summary [][2]string) ([]byte, error)
}

// ReportService renders circulation reports for download. Reports are built
// on demand from live data; nothing is stored.
type ReportService struct {
	records reportRecordStore
	books   penaltyBookReader
	members circulationMemberReader
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
}

// NewReportService constructs a ReportService.
func NewReportService(records reportRecordStore, books penaltyBookReader, members circulationMemberReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ReportService{records: records, books: books, members: members, csv: csv, pdf: pdf, logger: logger}
}

// OverdueCSV renders currently overdue loans as CSV.
func (s *ReportService) OverdueCSV(ctx context.Context) ([]byte, string, error) {
	records, _, err := s.records.List(ctx, models.BorrowRecordFilter{
		Status:      models.BorrowStatusBorrowed,
		OverdueOnly: true,
		Page:        1,
		PageSize:    10000,
	})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect overdue loans")
	}

	now := time.Now().UTC()
	dataset := export.Dataset{
		Headers: []string{"borrow_record_id", "book_title", "student_name", "borrowed_at", "due_date", "days_overdue", "penalty_amount", "penalty_status"},
	}
	for i := range records {
		r := &records[i]
		dataset.Rows = append(dataset.Rows, []string{
			r.ID,
			r.BookTitle,
			r.StudentName,
			r.BorrowedAt.Format(time.RFC3339),
			r.DueDate.Format(time.RFC3339),
			fmt.Sprintf("%d", r.OverdueDays(now)),
			r.PenaltyAmount.String(),
			string(r.PenaltyStatus),
		})
	}

	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render overdue report")
	}
	filename := fmt.Sprintf("overdue-loans-%s.csv", now.Format("2006-01-02"))
	return payload, filename, nil
}

// PendingPenaltiesCSV renders all unsettled fines as CSV.
func (s *ReportService) PendingPenaltiesCSV(ctx context.Context) ([]byte, string, error) {
	records, _, err := s.records.List(ctx, models.BorrowRecordFilter{
		PenaltyStatus: models.PenaltyStatusPending,
		Page:          1,
		PageSize:      10000,
	})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect pending penalties")
	}

	dataset := export.Dataset{
		Headers: []string{"borrow_record_id", "book_title", "student_name", "penalty_type", "penalty_amount", "outstanding_amount"},
	}
	for i := range records {
		r := &records[i]
		dataset.Rows = append(dataset.Rows, []string{
			r.ID,
			r.BookTitle,
			r.StudentName,
			string(r.PenaltyType),
			r.PenaltyAmount.String(),
			r.OutstandingAmount.String(),
		})
	}

	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render penalties report")
	}
	filename := fmt.Sprintf("pending-penalties-%s.csv", time.Now().UTC().Format("2006-01-02"))
	return payload, filename, nil
}

// PenaltyStatementPDF renders a printable statement for one loan's fine.
func (s *ReportService) PenaltyStatementPDF(ctx context.Context, recordID string) ([]byte, string, error) {
	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "borrow record not found")
	}
	book, err := s.books.FindByID(ctx, record.BookID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}
	member, err := s.members.FindByID(ctx, record.StudentID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member")
	}

	returned := "not yet returned"
	if record.ReturnedAt != nil {
		returned = record.ReturnedAt.Format("2006-01-02")
	}
	paidVia := "-"
	if record.PenaltyPaidVia != nil {
		paidVia = string(*record.PenaltyPaidVia)
	}

	summary := [][2]string{
		{"Member", member.FullName},
		{"Book", book.Title},
		{"Borrowed", record.BorrowedAt.Format("2006-01-02")},
		{"Due", record.DueDate.Format("2006-01-02")},
		{"Returned", returned},
		{"Loan status", string(record.Status)},
	}
	dataset := export.Dataset{
		Headers: []string{"Penalty type", "Assessed", "Outstanding", "Status", "Settled via"},
		Rows: [][]string{{
			string(record.PenaltyType),
			record.PenaltyAmount.String(),
			record.OutstandingAmount.String(),
			string(record.PenaltyStatus),
			paidVia,
		}},
	}

	payload, err := s.pdf.Render(dataset, "Penalty Statement", summary)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render penalty statement")
	}
	filename := fmt.Sprintf("penalty-statement-%s.pdf", record.ID)
	return payload, filename, nil
}
