package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/dto"
	"github.com/noah-isme/lms-circulation-api/internal/models"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type circulationRecordStore interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, record *models.BorrowRecord) error
	FindByID(ctx context.Context, id string) (*models.BorrowRecord, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.BorrowRecord, error)
	CloseReturnTx(ctx context.Context, tx *sqlx.Tx, record *models.BorrowRecord) error
	List(ctx context.Context, filter models.BorrowRecordFilter) ([]models.BorrowRecordDetail, int, error)
}

type circulationBookStore interface {
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Book, error)
	DecrementAvailableTx(ctx context.Context, tx *sqlx.Tx, bookID string) (bool, error)
	IncrementAvailableTx(ctx context.Context, tx *sqlx.Tx, bookID string) error
}

type circulationMemberReader interface {
	FindByID(ctx context.Context, id string) (*models.Member, error)
}

type waitlistPromoter interface {
	PromoteNextTx(ctx context.Context, tx *sqlx.Tx, bookID string) (*models.WaitlistEntryDetail, error)
}

type cacheInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CirculationService owns the borrow-record lifecycle. Stock movements ride
// on conditional updates so two librarians can never issue the last copy
// twice.
type CirculationService struct {
	tx        txProvider
	records   circulationRecordStore
	books     circulationBookStore
	members   circulationMemberReader
	waitlist  waitlistPromoter
	policy    PenaltyPolicy
	loanDays  int
	cache     cacheInvalidator
	notifier  notificationDispatcher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCirculationService wires circulation dependencies.
func NewCirculationService(
	tx txProvider,
	records circulationRecordStore,
	books circulationBookStore,
	members circulationMemberReader,
	waitlist waitlistPromoter,
	policy PenaltyPolicy,
	loanDays int,
	cache cacheInvalidator,
	notifier notificationDispatcher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *CirculationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loanDays <= 0 {
		loanDays = 14
	}
	return &CirculationService{
		tx:        tx,
		records:   records,
		books:     books,
		members:   members,
		waitlist:  waitlist,
		policy:    policy,
		loanDays:  loanDays,
		cache:     cache,
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Issue lends a copy directly to a student.
func (s *CirculationService) Issue(ctx context.Context, req dto.IssueBookRequest) (*models.BorrowRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issue payload")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var record *models.BorrowRecord
	record, err = s.IssueTx(ctx, tx, req.BookID, req.StudentID, req.DueDate)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit loan")
		return nil, err
	}

	s.metrics.RecordLoanIssued("direct")
	s.invalidate(ctx, req.BookID)
	s.logger.Sugar().Infow("loan issued",
		"borrow_record_id", record.ID,
		"book_id", record.BookID,
		"student_id", record.StudentID,
		"due_date", record.DueDate,
	)
	return record, nil
}

// IssueTx creates a loan inside the caller's transaction. It claims a copy
// with a conditional decrement; when no copy is free the transaction is left
// usable and ErrOutOfStock is returned.
func (s *CirculationService) IssueTx(ctx context.Context, tx *sqlx.Tx, bookID, studentID string, dueDate *time.Time) (*models.BorrowRecord, error) {
	member, err := s.members.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "member not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member")
	}
	if !member.Eligible() {
		return nil, appErrors.Clone(appErrors.ErrMemberNotEligible, fmt.Sprintf("member is %s", member.Status))
	}

	claimed, err := s.books.DecrementAvailableTx(ctx, tx, bookID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim copy")
	}
	if !claimed {
		return nil, appErrors.Clone(appErrors.ErrOutOfStock, "no available copies for this book")
	}

	now := time.Now().UTC()
	due := now.AddDate(0, 0, s.loanDays)
	if dueDate != nil {
		due = dueDate.UTC()
	}
	record := &models.BorrowRecord{
		ID:         uuid.NewString(),
		BookID:     bookID,
		StudentID:  studentID,
		BorrowedAt: now,
		DueDate:    due,
		Status:     models.BorrowStatusBorrowed,
	}
	if err := s.records.CreateTx(ctx, tx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create borrow record")
	}
	return record, nil
}

// ProcessReturn closes a loan, assesses any fine, restores the copy to stock
// and hands it straight to the head of the waitlist when one exists. The
// whole sequence is one transaction. A head that is no longer eligible to
// borrow loses its entry without blocking the return.
func (s *CirculationService) ProcessReturn(ctx context.Context, recordID string, req dto.ReturnBookRequest) (*dto.ReturnBookResponse, error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var record *models.BorrowRecord
	record, err = s.records.FindByIDTx(ctx, tx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "borrow record not found")
		} else {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load borrow record")
		}
		return nil, err
	}
	if record.Status.Terminal() {
		err = appErrors.Clone(appErrors.ErrAlreadyReturned, "borrow record already closed")
		return nil, err
	}

	var book *models.Book
	book, err = s.books.FindByIDTx(ctx, tx, record.BookID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
		return nil, err
	}

	now := time.Now().UTC()
	record.ReturnedAt = &now
	overdueDays := record.OverdueDays(now)
	record.Status = models.ResolveReturnStatus(models.ReturnCondition{Damaged: req.Damaged, Lost: req.Lost}, overdueDays)
	record.PenaltyAmount, record.PenaltyType = s.policy.Assess(book.MRP, record.Status, overdueDays)
	record.OutstandingAmount = record.PenaltyAmount
	record.PenaltyStatus = models.PenaltyStatusNone
	if !record.PenaltyAmount.IsZero() {
		record.PenaltyStatus = models.PenaltyStatusPending
	}

	if err = s.records.CloseReturnTx(ctx, tx, record); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close borrow record")
		return nil, err
	}

	// A lost copy never comes back to the shelf, so nobody gets promoted.
	var promotion *dto.PromotionResult
	var promoted *models.WaitlistEntryDetail
	if record.Status != models.BorrowStatusLost {
		if err = s.books.IncrementAvailableTx(ctx, tx, record.BookID); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restock copy")
			return nil, err
		}
		// An ineligible head forfeits the promotion. The entry is already
		// popped, so the next one gets a chance and the return still commits.
		for {
			promoted, err = s.waitlist.PromoteNextTx(ctx, tx, record.BookID)
			if err != nil {
				return nil, err
			}
			if promoted == nil {
				break
			}
			var promotedRecord *models.BorrowRecord
			promotedRecord, err = s.IssueTx(ctx, tx, record.BookID, promoted.StudentID, nil)
			if err != nil {
				if appErrors.FromError(err).Code == appErrors.ErrMemberNotEligible.Code {
					s.logger.Sugar().Warnw("waitlist promotion skipped",
						"book_id", record.BookID,
						"student_id", promoted.StudentID,
					)
					err = nil
					continue
				}
				return nil, err
			}
			promotion = &dto.PromotionResult{
				StudentID:      promoted.StudentID,
				BorrowRecordID: promotedRecord.ID,
				DueDate:        promotedRecord.DueDate,
			}
			break
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit return")
		return nil, err
	}

	s.metrics.RecordReturn(record.Status)
	if record.PenaltyStatus == models.PenaltyStatusPending {
		s.metrics.RecordPenaltyAssessed(record.PenaltyType)
		if s.notifier != nil {
			s.notifier.Dispatch(Notification{
				Type:        NotifyPenaltyAssessed,
				RecipientID: record.StudentID,
				Subject:     "Library fine assessed",
				Data: map[string]any{
					"borrow_record_id": record.ID,
					"amount":           record.PenaltyAmount.String(),
					"penalty_type":     record.PenaltyType,
				},
			})
		}
	}
	if promotion != nil {
		s.metrics.RecordWaitlistPromotion()
		s.metrics.RecordLoanIssued("promotion")
		if s.notifier != nil {
			s.notifier.Dispatch(Notification{
				Type:        NotifyWaitlistPromoted,
				RecipientID: promotion.StudentID,
				Subject:     "Your reserved book is ready",
				Data: map[string]any{
					"book_id":          record.BookID,
					"book_title":       book.Title,
					"borrow_record_id": promotion.BorrowRecordID,
					"due_date":         promotion.DueDate,
				},
			})
		}
	}
	s.invalidate(ctx, record.BookID)
	s.logger.Sugar().Infow("return processed",
		"borrow_record_id", record.ID,
		"status", record.Status,
		"penalty_amount", record.PenaltyAmount.String(),
		"promoted", promotion != nil,
	)
	return &dto.ReturnBookResponse{Record: record, Promoted: promotion}, nil
}

// Get returns one borrow record.
func (s *CirculationService) Get(ctx context.Context, id string) (*models.BorrowRecord, error) {
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "borrow record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load borrow record")
	}
	return record, nil
}

// List returns borrow records matching the filter.
func (s *CirculationService) List(ctx context.Context, req dto.ListBorrowRecordsRequest) ([]models.BorrowRecordDetail, models.Pagination, error) {
	filter := models.BorrowRecordFilter{
		StudentID:     req.StudentID,
		BookID:        req.BookID,
		Status:        models.BorrowStatus(req.Status),
		PenaltyStatus: models.PenaltyStatus(req.PenaltyStatus),
		OverdueOnly:   req.OverdueOnly,
		Page:          req.Page,
		PageSize:      req.PageSize,
		SortBy:        req.SortBy,
		SortOrder:     req.SortOrder,
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	records, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, models.Pagination{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list borrow records")
	}
	return records, models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *CirculationService) invalidate(ctx context.Context, bookID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "waitlist:"+bookID+":*"); err != nil {
		s.logger.Sugar().Warnw("cache invalidation failed", "book_id", bookID, "error", err)
	}
	if err := s.cache.DeleteByPattern(ctx, "borrow_records:*"); err != nil {
		s.logger.Sugar().Warnw("cache invalidation failed", "scope", "borrow_records", "error", err)
	}
}
