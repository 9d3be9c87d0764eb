package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/dto"
	"github.com/noah-isme/lms-circulation-api/internal/models"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
)

type issueRequestStore interface {
	Create(ctx context.Context, request *models.IssueRequest) error
	FindByID(ctx context.Context, id string) (*models.IssueRequest, error)
	List(ctx context.Context, filter models.IssueRequestFilter) ([]models.IssueRequestDetail, int, error)
	MarkApprovedTx(ctx context.Context, tx *sqlx.Tx, id, processedBy, borrowRecordID string, processedAt time.Time) (bool, error)
	MarkRejected(ctx context.Context, id, processedBy, reason string, processedAt time.Time) (bool, error)
}

type loanIssuer interface {
	IssueTx(ctx context.Context, tx *sqlx.Tx, bookID, studentID string, dueDate *time.Time) (*models.BorrowRecord, error)
}

// RequestService processes issue requests. Every request is decided exactly
// once: approval and rejection both gate on the PENDING state at write time,
// so a double decision loses cleanly with ALREADY_PROCESSED.
type RequestService struct {
	tx        txProvider
	requests  issueRequestStore
	issuer    loanIssuer
	notifier  notificationDispatcher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService wires request-workflow dependencies.
func NewRequestService(
	tx txProvider,
	requests issueRequestStore,
	issuer loanIssuer,
	notifier notificationDispatcher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		tx:        tx,
		requests:  requests,
		issuer:    issuer,
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Create enqueues a student's borrow request.
func (s *RequestService) Create(ctx context.Context, studentID string, req dto.CreateIssueRequestRequest) (*models.IssueRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issue request payload")
	}
	request := &models.IssueRequest{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		BookID:      req.BookID,
		RequestedAt: time.Now().UTC(),
		Status:      models.RequestStatusPending,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create issue request")
	}
	s.logger.Sugar().Infow("issue request created", "request_id", request.ID, "book_id", request.BookID, "student_id", studentID)
	return request, nil
}

// Get returns one issue request.
func (s *RequestService) Get(ctx context.Context, id string) (*models.IssueRequest, error) {
	return s.findRequest(ctx, id)
}

// List returns issue requests matching the filter.
func (s *RequestService) List(ctx context.Context, req dto.ListRequestsRequest) ([]models.IssueRequestDetail, models.Pagination, error) {
	filter := models.IssueRequestFilter{
		StudentID: req.StudentID,
		BookID:    req.BookID,
		Status:    models.RequestStatus(req.Status),
		Page:      req.Page,
		PageSize:  req.PageSize,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, models.Pagination{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issue requests")
	}
	return requests, models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Approve issues the requested book and closes the request in one
// transaction. A request that lost the stock race stays PENDING.
func (s *RequestService) Approve(ctx context.Context, requestID, librarianID string, dueDate *time.Time) (*models.IssueRequest, error) {
	request, err := s.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already processed")
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
	record, err = s.issuer.IssueTx(ctx, tx, request.BookID, request.StudentID, dueDate)
	if err != nil {
		return nil, err
	}

	var claimed bool
	claimed, err = s.requests.MarkApprovedTx(ctx, tx, request.ID, librarianID, record.ID, time.Now().UTC())
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark request approved")
		return nil, err
	}
	if !claimed {
		// Another librarian decided the request between our read and write.
		err = appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already processed")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit approval")
		return nil, err
	}

	s.metrics.RecordLoanIssued("request")
	if s.notifier != nil {
		s.notifier.Dispatch(Notification{
			Type:        NotifyRequestApproved,
			RecipientID: request.StudentID,
			Subject:     "Your book request was approved",
			Data: map[string]any{
				"request_id":       request.ID,
				"book_id":          request.BookID,
				"borrow_record_id": record.ID,
				"due_date":         record.DueDate,
			},
		})
	}
	s.logger.Sugar().Infow("issue request approved",
		"request_id", request.ID,
		"borrow_record_id", record.ID,
		"librarian_id", librarianID,
	)
	return s.findRequest(ctx, request.ID)
}

// Reject closes a request without issuing. The reason is mandatory and is
// surfaced to the student.
func (s *RequestService) Reject(ctx context.Context, requestID, librarianID, reason string) (*models.IssueRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrReasonRequired, "rejection reason is required")
	}

	request, err := s.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already processed")
	}

	claimed, err := s.requests.MarkRejected(ctx, requestID, librarianID, reason, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark request rejected")
	}
	if !claimed {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already processed")
	}

	if s.notifier != nil {
		s.notifier.Dispatch(Notification{
			Type:        NotifyRequestRejected,
			RecipientID: request.StudentID,
			Subject:     "Your book request was rejected",
			Data: map[string]any{
				"request_id": request.ID,
				"book_id":    request.BookID,
				"reason":     reason,
			},
		})
	}
	s.logger.Sugar().Infow("issue request rejected", "request_id", requestID, "librarian_id", librarianID)
	return s.findRequest(ctx, requestID)
}

// BulkApprove processes requests strictly in the given order, one
// transaction per item. The batch never aborts: each failure is recorded
// with its reason and the remaining items continue, so when stock runs out
// mid-batch the earlier items keep their copies.
func (s *RequestService) BulkApprove(ctx context.Context, librarianID string, req dto.BulkApproveRequest) (*models.BulkApproveResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk approve payload")
	}

	result := &models.BulkApproveResult{
		Succeeded:      make([]string, 0, len(req.RequestIDs)),
		FailedRequests: make([]models.BulkItemFailure, 0),
	}
	seen := make(map[string]struct{}, len(req.RequestIDs))
	for _, id := range req.RequestIDs {
		if _, dup := seen[id]; dup {
			result.FailedRequests = append(result.FailedRequests, models.BulkItemFailure{ID: id, Reason: "DUPLICATE_IN_BATCH"})
			continue
		}
		seen[id] = struct{}{}

		if _, err := s.Approve(ctx, id, librarianID, req.DueDate); err != nil {
			result.FailedRequests = append(result.FailedRequests, models.BulkItemFailure{
				ID:     id,
				Reason: appErrors.FromError(err).Code,
			})
			continue
		}
		result.ApprovedCount++
		result.Succeeded = append(result.Succeeded, id)
	}

	s.metrics.RecordBulkApproval(result.ApprovedCount, len(result.FailedRequests))
	s.logger.Sugar().Infow("bulk approval finished",
		"librarian_id", librarianID,
		"requested", len(req.RequestIDs),
		"approved", result.ApprovedCount,
		"failed", len(result.FailedRequests),
	)
	return result, nil
}

func (s *RequestService) findRequest(ctx context.Context, id string) (*models.IssueRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue request")
	}
	return request, nil
}
