package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

// BookRepository reads the circulation-facing slice of the catalog and owns
// the contended available-copy counter. All counter mutations are
// conditional UPDATEs so concurrent issuance can never drive the count
// negative or above total_copies.
type BookRepository struct {
	db *sqlx.DB
}

// NewBookRepository constructs the repository.
func NewBookRepository(db *sqlx.DB) *BookRepository {
	return &BookRepository{db: db}
}

// FindByID returns a book by its ID.
func (r *BookRepository) FindByID(ctx context.Context, id string) (*models.Book, error) {
	const query = `SELECT id, title, author, mrp, total_copies, available_copies, created_at, updated_at FROM books WHERE id = $1`
	var book models.Book
	if err := r.db.GetContext(ctx, &book, query, id); err != nil {
		return nil, err
	}
	return &book, nil
}

// FindByIDTx returns a book inside a transaction with a row lock, for flows
// that read the counter and mutate it in the same commit.
func (r *BookRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Book, error) {
	const query = `SELECT id, title, author, mrp, total_copies, available_copies, created_at, updated_at FROM books WHERE id = $1 FOR UPDATE`
	var book models.Book
	if err := tx.GetContext(ctx, &book, query, id); err != nil {
		return nil, err
	}
	return &book, nil
}

// DecrementAvailableTx atomically consumes one available copy. It reports
// false when the title has no free copies at commit time.
func (r *BookRepository) DecrementAvailableTx(ctx context.Context, tx *sqlx.Tx, bookID string) (bool, error) {
	const query = `UPDATE books SET available_copies = available_copies - 1, updated_at = NOW()
        WHERE id = $1 AND available_copies > 0`
	res, err := tx.ExecContext(ctx, query, bookID)
	if err != nil {
		return false, fmt.Errorf("decrement available copies: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement available copies: %w", err)
	}
	return affected > 0, nil
}

// IncrementAvailableTx frees one copy, capped at total_copies.
func (r *BookRepository) IncrementAvailableTx(ctx context.Context, tx *sqlx.Tx, bookID string) error {
	const query = `UPDATE books SET available_copies = available_copies + 1, updated_at = NOW()
        WHERE id = $1 AND available_copies < total_copies`
	if _, err := tx.ExecContext(ctx, query, bookID); err != nil {
		return fmt.Errorf("increment available copies: %w", err)
	}
	return nil
}
