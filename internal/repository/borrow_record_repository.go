package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

const borrowRecordColumns = `id, book_id, student_id, borrowed_at, due_date, returned_at, status,
        penalty_amount, outstanding_amount, penalty_type, penalty_status, penalty_paid_via,
        version, created_at, updated_at`

// BorrowRecordRepository handles persistence of borrow records. Records carry
// a version column; every penalty mutation is guarded by it so a
// reconciliation sweep can never clobber a payment that landed in between.
type BorrowRecordRepository struct {
	db *sqlx.DB
}

// NewBorrowRecordRepository constructs the repository.
func NewBorrowRecordRepository(db *sqlx.DB) *BorrowRecordRepository {
	return &BorrowRecordRepository{db: db}
}

// CreateTx inserts a new BORROWED record inside the issuing transaction.
func (r *BorrowRecordRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, record *models.BorrowRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.BorrowedAt.IsZero() {
		record.BorrowedAt = now
	}
	if record.Status == "" {
		record.Status = models.BorrowStatusBorrowed
	}
	if record.PenaltyType == "" {
		record.PenaltyType = models.PenaltyTypeNone
	}
	if record.PenaltyStatus == "" {
		record.PenaltyStatus = models.PenaltyStatusNone
	}
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now
	const query = `INSERT INTO borrow_records (id, book_id, student_id, borrowed_at, due_date, returned_at, status,
        penalty_amount, outstanding_amount, penalty_type, penalty_status, penalty_paid_via, version, created_at, updated_at)
        VALUES (:id, :book_id, :student_id, :borrowed_at, :due_date, :returned_at, :status,
        :penalty_amount, :outstanding_amount, :penalty_type, :penalty_status, :penalty_paid_via, :version, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create borrow record: %w", err)
	}
	return nil
}

// FindByID returns a borrow record by its ID.
func (r *BorrowRecordRepository) FindByID(ctx context.Context, id string) (*models.BorrowRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM borrow_records WHERE id = $1`, borrowRecordColumns)
	var record models.BorrowRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByIDTx locks and returns a record inside a transaction.
func (r *BorrowRecordRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.BorrowRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM borrow_records WHERE id = $1 FOR UPDATE`, borrowRecordColumns)
	var record models.BorrowRecord
	if err := tx.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns borrow records filtered by the provided criteria.
func (r *BorrowRecordRepository) List(ctx context.Context, filter models.BorrowRecordFilter) ([]models.BorrowRecordDetail, int, error) {
	base := `FROM borrow_records br
LEFT JOIN books b ON b.id = br.book_id
LEFT JOIN members m ON m.id = br.student_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("br.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.BookID != "" {
		conditions = append(conditions, fmt.Sprintf("br.book_id = $%d", len(args)+1))
		args = append(args, filter.BookID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("br.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.PenaltyStatus != "" {
		conditions = append(conditions, fmt.Sprintf("br.penalty_status = $%d", len(args)+1))
		args = append(args, filter.PenaltyStatus)
	}
	if filter.OverdueOnly {
		conditions = append(conditions, fmt.Sprintf("br.status = $%d AND br.due_date < NOW()", len(args)+1))
		args = append(args, models.BorrowStatusBorrowed)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"borrowed_at": "br.borrowed_at",
		"due_date":    "br.due_date",
		"book_title":  "b.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "br.borrowed_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT br.id, br.book_id, br.student_id, br.borrowed_at, br.due_date, br.returned_at, br.status,
        br.penalty_amount, br.outstanding_amount, br.penalty_type, br.penalty_status, br.penalty_paid_via,
        br.version, br.created_at, br.updated_at,
        b.title AS book_title, m.full_name AS student_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var records []models.BorrowRecordDetail
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list borrow records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count borrow records: %w", err)
	}
	return records, total, nil
}

// ListOverdueOpen returns active loans past their due date whose penalty is
// still mutable, the reconciliation sweep's working set.
func (r *BorrowRecordRepository) ListOverdueOpen(ctx context.Context, asOf time.Time) ([]models.BorrowRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM borrow_records
        WHERE status = $1 AND due_date < $2 AND penalty_status IN ($3, $4)`, borrowRecordColumns)
	var records []models.BorrowRecord
	err := r.db.SelectContext(ctx, &records, query,
		models.BorrowStatusBorrowed, asOf, models.PenaltyStatusNone, models.PenaltyStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list overdue records: %w", err)
	}
	return records, nil
}

// CloseReturnTx writes the terminal status and penalty assessment for a
// returned loan inside the return transaction.
func (r *BorrowRecordRepository) CloseReturnTx(ctx context.Context, tx *sqlx.Tx, record *models.BorrowRecord) error {
	const query = `UPDATE borrow_records
        SET returned_at = $2, status = $3, penalty_amount = $4, outstanding_amount = $5,
            penalty_type = $6, penalty_status = $7, version = version + 1, updated_at = NOW()
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query,
		record.ID, record.ReturnedAt, record.Status, record.PenaltyAmount,
		record.OutstandingAmount, record.PenaltyType, record.PenaltyStatus); err != nil {
		return fmt.Errorf("close borrow record: %w", err)
	}
	return nil
}

// UpdatePenaltyGuarded overwrites a PENDING (or absent) penalty assessment.
// The version check makes the write optimistic: it reports false when the
// record changed since it was read, and never touches settled penalties.
func (r *BorrowRecordRepository) UpdatePenaltyGuarded(ctx context.Context, id string, amount, outstanding decimal.Decimal, penaltyType models.PenaltyType, status models.PenaltyStatus, expectedVersion int) (bool, error) {
	const query = `UPDATE borrow_records
        SET penalty_amount = $2, outstanding_amount = $3, penalty_type = $4, penalty_status = $5,
            version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $6 AND penalty_status IN ($7, $8)`
	res, err := r.db.ExecContext(ctx, query, id, amount, outstanding, penaltyType, status,
		expectedVersion, models.PenaltyStatusNone, models.PenaltyStatusPending)
	if err != nil {
		return false, fmt.Errorf("update penalty: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update penalty: %w", err)
	}
	return affected > 0, nil
}

// SettlePenaltyGuarded applies a payment, waiver, or manual settlement with
// the same optimistic version discipline.
func (r *BorrowRecordRepository) SettlePenaltyGuarded(ctx context.Context, id string, outstanding decimal.Decimal, status models.PenaltyStatus, paidVia *models.PenaltyPaidVia, expectedVersion int) (bool, error) {
	const query = `UPDATE borrow_records
        SET outstanding_amount = $2, penalty_status = $3, penalty_paid_via = $4,
            version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $5`
	res, err := r.db.ExecContext(ctx, query, id, outstanding, status, paidVia, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("settle penalty: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle penalty: %w", err)
	}
	return affected > 0, nil
}
