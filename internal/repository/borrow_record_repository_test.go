package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func borrowRecordRows(id string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "book_id", "student_id", "borrowed_at", "due_date", "returned_at", "status",
		"penalty_amount", "outstanding_amount", "penalty_type", "penalty_status", "penalty_paid_via",
		"version", "created_at", "updated_at",
	}).AddRow(id, "book-1", "student-1", now.AddDate(0, 0, -10), now.AddDate(0, 0, -3), nil,
		models.BorrowStatusBorrowed, "0", "0", models.PenaltyTypeNone, models.PenaltyStatusNone, nil,
		1, now, now)
}

func TestBorrowRecordRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBorrowRecordRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM borrow_records WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(borrowRecordRows("rec-1"))

	record, err := repo.FindByID(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Equal(t, "rec-1", record.ID)
	require.Equal(t, models.BorrowStatusBorrowed, record.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowRecordRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBorrowRecordRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM borrow_records WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "ghost")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowRecordRepositoryCreateTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBorrowRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO borrow_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	record := &models.BorrowRecord{
		BookID:    "book-1",
		StudentID: "student-1",
		DueDate:   time.Now().UTC().AddDate(0, 0, 14),
	}
	require.NoError(t, repo.CreateTx(context.Background(), tx, record))
	require.NotEmpty(t, record.ID)
	require.Equal(t, models.BorrowStatusBorrowed, record.Status)
	require.Equal(t, 1, record.Version)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowRecordRepositoryListOverdueOpen(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBorrowRecordRepository(db)

	asOf := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM borrow_records\s+WHERE status = \$1 AND due_date < \$2 AND penalty_status IN \(\$3, \$4\)`).
		WithArgs(models.BorrowStatusBorrowed, asOf, models.PenaltyStatusNone, models.PenaltyStatusPending).
		WillReturnRows(borrowRecordRows("rec-1"))

	records, err := repo.ListOverdueOpen(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowRecordRepositoryUpdatePenaltyGuarded(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBorrowRecordRepository(db)

	amount := decimal.RequireFromString("150")
	mock.ExpectExec(`UPDATE borrow_records`).
		WithArgs("rec-1", amount, amount, models.PenaltyTypeLate, models.PenaltyStatusPending,
			3, models.PenaltyStatusNone, models.PenaltyStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdatePenaltyGuarded(context.Background(), "rec-1", amount, amount,
		models.PenaltyTypeLate, models.PenaltyStatusPending, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowRecordRepositoryUpdatePenaltyGuardedStaleVersion(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBorrowRecordRepository(db)

	amount := decimal.RequireFromString("150")
	mock.ExpectExec(`UPDATE borrow_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdatePenaltyGuarded(context.Background(), "rec-1", amount, amount,
		models.PenaltyTypeLate, models.PenaltyStatusPending, 2)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowRecordRepositorySettlePenaltyGuarded(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBorrowRecordRepository(db)

	paidVia := models.PaidViaPayment
	mock.ExpectExec(`UPDATE borrow_records`).
		WithArgs("rec-1", decimal.Zero, models.PenaltyStatusPaid, &paidVia, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.SettlePenaltyGuarded(context.Background(), "rec-1", decimal.Zero,
		models.PenaltyStatusPaid, &paidVia, 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowRecordRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBorrowRecordRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "book_id", "student_id", "borrowed_at", "due_date", "returned_at", "status",
		"penalty_amount", "outstanding_amount", "penalty_type", "penalty_status", "penalty_paid_via",
		"version", "created_at", "updated_at", "book_title", "student_name",
	}).AddRow("rec-1", "book-1", "student-1", now, now.AddDate(0, 0, 14), nil,
		models.BorrowStatusBorrowed, "0", "0", models.PenaltyTypeNone, models.PenaltyStatusNone, nil,
		1, now, now, "Dune", "Alex Doe")

	mock.ExpectQuery(`SELECT br\..+ FROM borrow_records br`).
		WithArgs("student-1", models.BorrowStatusBorrowed).
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM borrow_records br`).
		WithArgs("student-1", models.BorrowStatusBorrowed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	records, total, err := repo.List(context.Background(), models.BorrowRecordFilter{
		StudentID: "student-1",
		Status:    models.BorrowStatusBorrowed,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)
	require.Equal(t, "Dune", records[0].BookTitle)
	require.NoError(t, mock.ExpectationsWereMet())
}
