package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/dto"
	"github.com/noah-isme/lms-circulation-api/internal/models"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
)

type acquisitionStore interface {
	Create(ctx context.Context, request *models.AcquisitionRequest) error
	FindByID(ctx context.Context, id string) (*models.AcquisitionRequest, error)
	List(ctx context.Context, filter models.AcquisitionRequestFilter) ([]models.AcquisitionRequest, int, error)
	MarkReviewed(ctx context.Context, id, reviewedBy string, status models.RequestStatus, reason *string, reviewedAt time.Time) (bool, error)
}

// AcquisitionService handles suggestions for new catalog titles. Review
// shares the decide-once discipline of issue requests but never touches
// stock.
type AcquisitionService struct {
	requests  acquisitionStore
	notifier  notificationDispatcher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAcquisitionService wires acquisition dependencies.
func NewAcquisitionService(requests acquisitionStore, notifier notificationDispatcher, validate *validator.Validate, logger *zap.Logger) *AcquisitionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcquisitionService{requests: requests, notifier: notifier, validator: validate, logger: logger}
}

// Create files a new acquisition suggestion.
func (s *AcquisitionService) Create(ctx context.Context, studentID string, req dto.CreateAcquisitionRequestRequest) (*models.AcquisitionRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid acquisition payload")
	}
	request := &models.AcquisitionRequest{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		BookName:      req.BookName,
		Author:        req.Author,
		Publisher:     req.Publisher,
		Edition:       req.Edition,
		Genre:         req.Genre,
		Justification: req.Justification,
		Status:        models.RequestStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create acquisition request")
	}
	s.logger.Sugar().Infow("acquisition request created", "request_id", request.ID, "book_name", request.BookName)
	return request, nil
}

// List returns acquisition requests matching the filter.
func (s *AcquisitionService) List(ctx context.Context, filter models.AcquisitionRequestFilter) ([]models.AcquisitionRequest, models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, models.Pagination{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list acquisition requests")
	}
	return requests, models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Review approves or rejects a suggestion. Rejection requires a reason.
func (s *AcquisitionService) Review(ctx context.Context, requestID, librarianID string, req dto.ReviewAcquisitionRequestRequest) (*models.AcquisitionRequest, error) {
	status := models.RequestStatusApproved
	var reason *string
	if !req.Approve {
		trimmed := strings.TrimSpace(req.Reason)
		if trimmed == "" {
			return nil, appErrors.Clone(appErrors.ErrReasonRequired, "rejection reason is required")
		}
		status = models.RequestStatusRejected
		reason = &trimmed
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "acquisition request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load acquisition request")
	}
	if request.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "acquisition request already reviewed")
	}

	claimed, err := s.requests.MarkReviewed(ctx, requestID, librarianID, status, reason, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist review")
	}
	if !claimed {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "acquisition request already reviewed")
	}

	if s.notifier != nil {
		s.notifier.Dispatch(Notification{
			Type:        NotifyAcquisitionReviewed,
			RecipientID: request.StudentID,
			Subject:     "Your acquisition suggestion was reviewed",
			Data: map[string]any{
				"request_id": request.ID,
				"book_name":  request.BookName,
				"status":     status,
			},
		})
	}
	s.logger.Sugar().Infow("acquisition request reviewed", "request_id", requestID, "status", status, "librarian_id", librarianID)

	updated, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return request, nil
	}
	return updated, nil
}
