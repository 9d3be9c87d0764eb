package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

func TestIssueRequestRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIssueRequestRepository(db)

	mock.ExpectExec(`INSERT INTO issue_requests`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &models.IssueRequest{StudentID: "student-1", BookID: "book-1"}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)
	require.Equal(t, models.RequestStatusPending, request.Status)
	require.False(t, request.RequestedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRequestRepositoryMarkApprovedTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIssueRequestRepository(db)

	processedAt := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE issue_requests`).
		WithArgs("req-1", models.RequestStatusApproved, processedAt, "lib-1", "rec-1", models.RequestStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	claimed, err := repo.MarkApprovedTx(context.Background(), tx, "req-1", "lib-1", "rec-1", processedAt)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRequestRepositoryMarkApprovedTxNotPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIssueRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE issue_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	claimed, err := repo.MarkApprovedTx(context.Background(), tx, "req-1", "lib-1", "rec-1", time.Now().UTC())
	require.NoError(t, err)
	require.False(t, claimed)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRequestRepositoryMarkRejected(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIssueRequestRepository(db)

	processedAt := time.Now().UTC()
	mock.ExpectExec(`UPDATE issue_requests`).
		WithArgs("req-1", models.RequestStatusRejected, processedAt, "lib-1", "damaged copy only", models.RequestStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.MarkRejected(context.Background(), "req-1", "lib-1", "damaged copy only", processedAt)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRequestRepositoryListByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewIssueRequestRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "student_id", "book_id", "requested_at", "status",
		"processed_at", "processed_by", "rejection_reason", "resulting_borrow_record_id",
		"book_title", "student_name",
	}).AddRow("req-1", "student-1", "book-1", now, models.RequestStatusPending,
		nil, nil, nil, nil, "Dune", "Alex Doe")

	mock.ExpectQuery(`SELECT ir\..+ FROM issue_requests ir`).
		WithArgs(models.RequestStatusPending).
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM issue_requests ir`).
		WithArgs(models.RequestStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	requests, total, err := repo.List(context.Background(), models.IssueRequestFilter{Status: models.RequestStatusPending})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, requests, 1)
	require.Equal(t, "Dune", requests[0].BookTitle)
	require.NoError(t, mock.ExpectationsWereMet())
}
