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

const issueRequestColumns = `id, student_id, book_id, requested_at, status, processed_at, processed_by,
        rejection_reason, resulting_borrow_record_id`

// IssueRequestRepository handles persistence of issue requests. Terminal
// transitions are conditional on status = PENDING, which enforces the
// process-exactly-once invariant at the storage layer even under concurrent
// librarians.
type IssueRequestRepository struct {
	db *sqlx.DB
}

// NewIssueRequestRepository constructs the repository.
func NewIssueRequestRepository(db *sqlx.DB) *IssueRequestRepository {
	return &IssueRequestRepository{db: db}
}

// Create persists a new pending request.
func (r *IssueRequestRepository) Create(ctx context.Context, request *models.IssueRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	const query = `INSERT INTO issue_requests (id, student_id, book_id, requested_at, status)
        VALUES (:id, :student_id, :book_id, :requested_at, :status)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create issue request: %w", err)
	}
	return nil
}

// FindByID returns an issue request by its ID.
func (r *IssueRequestRepository) FindByID(ctx context.Context, id string) (*models.IssueRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM issue_requests WHERE id = $1`, issueRequestColumns)
	var request models.IssueRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests filtered by the provided criteria.
func (r *IssueRequestRepository) List(ctx context.Context, filter models.IssueRequestFilter) ([]models.IssueRequestDetail, int, error) {
	base := `FROM issue_requests ir
LEFT JOIN books b ON b.id = ir.book_id
LEFT JOIN members m ON m.id = ir.student_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("ir.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.BookID != "" {
		conditions = append(conditions, fmt.Sprintf("ir.book_id = $%d", len(args)+1))
		args = append(args, filter.BookID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("ir.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"requested_at": "ir.requested_at",
		"book_title":   "b.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "ir.requested_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT ir.id, ir.student_id, ir.book_id, ir.requested_at, ir.status,
        ir.processed_at, ir.processed_by, ir.rejection_reason, ir.resulting_borrow_record_id,
        b.title AS book_title, m.full_name AS student_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var requests []models.IssueRequestDetail
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list issue requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count issue requests: %w", err)
	}
	return requests, total, nil
}

// MarkApprovedTx flips a pending request to APPROVED inside the approval
// transaction. It reports false when the request was no longer PENDING,
// which callers surface as AlreadyProcessed.
func (r *IssueRequestRepository) MarkApprovedTx(ctx context.Context, tx *sqlx.Tx, id, processedBy, borrowRecordID string, processedAt time.Time) (bool, error) {
	const query = `UPDATE issue_requests
        SET status = $2, processed_at = $3, processed_by = $4, resulting_borrow_record_id = $5
        WHERE id = $1 AND status = $6`
	res, err := tx.ExecContext(ctx, query, id, models.RequestStatusApproved, processedAt, processedBy, borrowRecordID, models.RequestStatusPending)
	if err != nil {
		return false, fmt.Errorf("approve issue request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve issue request: %w", err)
	}
	return affected > 0, nil
}

// MarkRejected flips a pending request to REJECTED with the mandatory reason.
func (r *IssueRequestRepository) MarkRejected(ctx context.Context, id, processedBy, reason string, processedAt time.Time) (bool, error) {
	const query = `UPDATE issue_requests
        SET status = $2, processed_at = $3, processed_by = $4, rejection_reason = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, models.RequestStatusRejected, processedAt, processedBy, reason, models.RequestStatusPending)
	if err != nil {
		return false, fmt.Errorf("reject issue request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject issue request: %w", err)
	}
	return affected > 0, nil
}
