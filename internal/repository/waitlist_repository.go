package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

// WaitlistRepository handles persistence of per-book waitlist queues.
// Positions and scores are persisted on every membership change so the queue
// a student sees is always the queue the ranker last committed.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// FindEntry returns the entry for a student on a book's waitlist.
func (r *WaitlistRepository) FindEntry(ctx context.Context, bookID, studentID string) (*models.WaitlistEntry, error) {
	const query = `SELECT id, book_id, student_id, joined_at, queue_position, priority_score
        FROM waitlist_entries WHERE book_id = $1 AND student_id = $2`
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, bookID, studentID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByBook returns a book's queue with member context, ordered by position.
func (r *WaitlistRepository) ListByBook(ctx context.Context, bookID string) ([]models.WaitlistEntryDetail, error) {
	const query = `SELECT w.id, w.book_id, w.student_id, w.joined_at, w.queue_position, w.priority_score,
        m.full_name AS student_name, m.tier AS student_tier
        FROM waitlist_entries w
        LEFT JOIN members m ON m.id = w.student_id
        WHERE w.book_id = $1
        ORDER BY w.queue_position ASC`
	var entries []models.WaitlistEntryDetail
	if err := r.db.SelectContext(ctx, &entries, query, bookID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// ListByBookTx is ListByBook with a row lock, used while renumbering inside
// a transaction.
func (r *WaitlistRepository) ListByBookTx(ctx context.Context, tx *sqlx.Tx, bookID string) ([]models.WaitlistEntryDetail, error) {
	const query = `SELECT w.id, w.book_id, w.student_id, w.joined_at, w.queue_position, w.priority_score,
        m.full_name AS student_name, m.tier AS student_tier
        FROM waitlist_entries w
        LEFT JOIN members m ON m.id = w.student_id
        WHERE w.book_id = $1
        ORDER BY w.queue_position ASC
        FOR UPDATE OF w`
	var entries []models.WaitlistEntryDetail
	if err := tx.SelectContext(ctx, &entries, query, bookID); err != nil {
		return nil, fmt.Errorf("list waitlist for update: %w", err)
	}
	return entries, nil
}

// Insert adds a student to a book's waitlist.
func (r *WaitlistRepository) Insert(ctx context.Context, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO waitlist_entries (id, book_id, student_id, joined_at, queue_position, priority_score)
        VALUES (:id, :book_id, :student_id, :joined_at, :queue_position, :priority_score)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

// Delete removes an entry by book and student. It reports whether an entry
// existed.
func (r *WaitlistRepository) Delete(ctx context.Context, bookID, studentID string) (bool, error) {
	const query = `DELETE FROM waitlist_entries WHERE book_id = $1 AND student_id = $2`
	res, err := r.db.ExecContext(ctx, query, bookID, studentID)
	if err != nil {
		return false, fmt.Errorf("delete waitlist entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete waitlist entry: %w", err)
	}
	return affected > 0, nil
}

// DeleteTx removes an entry inside a transaction (promotion path).
func (r *WaitlistRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, entryID string) error {
	const query = `DELETE FROM waitlist_entries WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, entryID); err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	return nil
}

// UpdateRanking persists a recomputed position and score for one entry.
func (r *WaitlistRepository) UpdateRanking(ctx context.Context, entryID string, position int, score float64) error {
	const query = `UPDATE waitlist_entries SET queue_position = $2, priority_score = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, entryID, position, score); err != nil {
		return fmt.Errorf("update waitlist ranking: %w", err)
	}
	return nil
}

// UpdateRankingTx is UpdateRanking participating in a caller's transaction.
func (r *WaitlistRepository) UpdateRankingTx(ctx context.Context, tx *sqlx.Tx, entryID string, position int, score float64) error {
	const query = `UPDATE waitlist_entries SET queue_position = $2, priority_score = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, entryID, position, score); err != nil {
		return fmt.Errorf("update waitlist ranking: %w", err)
	}
	return nil
}

// CountByBook returns the queue length for a book.
func (r *WaitlistRepository) CountByBook(ctx context.Context, bookID string) (int, error) {
	const query = `SELECT COUNT(*) FROM waitlist_entries WHERE book_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, bookID); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	return count, nil
}
