package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

// AcquisitionRequestRepository handles persistence of acquisition requests.
type AcquisitionRequestRepository struct {
	db *sqlx.DB
}

// NewAcquisitionRequestRepository constructs the repository.
func NewAcquisitionRequestRepository(db *sqlx.DB) *AcquisitionRequestRepository {
	return &AcquisitionRequestRepository{db: db}
}

// Create persists a new pending acquisition request.
func (r *AcquisitionRequestRepository) Create(ctx context.Context, request *models.AcquisitionRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	const query = `INSERT INTO acquisition_requests (id, student_id, book_name, author, publisher, edition, genre, justification, status, created_at)
        VALUES (:id, :student_id, :book_name, :author, :publisher, :edition, :genre, :justification, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create acquisition request: %w", err)
	}
	return nil
}

// FindByID returns an acquisition request by its ID.
func (r *AcquisitionRequestRepository) FindByID(ctx context.Context, id string) (*models.AcquisitionRequest, error) {
	const query = `SELECT id, student_id, book_name, author, publisher, edition, genre, justification,
        status, reviewed_by, reviewed_at, rejection_reason, created_at
        FROM acquisition_requests WHERE id = $1`
	var request models.AcquisitionRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns acquisition requests filtered by the provided criteria.
func (r *AcquisitionRequestRepository) List(ctx context.Context, filter models.AcquisitionRequestFilter) ([]models.AcquisitionRequest, int, error) {
	base := `FROM acquisition_requests`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, student_id, book_name, author, publisher, edition, genre, justification,
        status, reviewed_by, reviewed_at, rejection_reason, created_at
        %s ORDER BY created_at ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var requests []models.AcquisitionRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list acquisition requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count acquisition requests: %w", err)
	}
	return requests, total, nil
}

// MarkReviewed records the terminal review decision. It reports false when
// the request was no longer PENDING.
func (r *AcquisitionRequestRepository) MarkReviewed(ctx context.Context, id, reviewedBy string, status models.RequestStatus, reason *string, reviewedAt time.Time) (bool, error) {
	const query = `UPDATE acquisition_requests
        SET status = $2, reviewed_by = $3, reviewed_at = $4, rejection_reason = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, status, reviewedBy, reviewedAt, reason, models.RequestStatusPending)
	if err != nil {
		return false, fmt.Errorf("review acquisition request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review acquisition request: %w", err)
	}
	return affected > 0, nil
}
