package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/dto"
	"github.com/noah-isme/lms-circulation-api/internal/models"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
)

type penaltyRecordStore interface {
	FindByID(ctx context.Context, id string) (*models.BorrowRecord, error)
	ListOverdueOpen(ctx context.Context, asOf time.Time) ([]models.BorrowRecord, error)
	UpdatePenaltyGuarded(ctx context.Context, id string, amount, outstanding decimal.Decimal, penaltyType models.PenaltyType, status models.PenaltyStatus, expectedVersion int) (bool, error)
	SettlePenaltyGuarded(ctx context.Context, id string, outstanding decimal.Decimal, status models.PenaltyStatus, paidVia *models.PenaltyPaidVia, expectedVersion int) (bool, error)
}

type penaltyBookReader interface {
	FindByID(ctx context.Context, id string) (*models.Book, error)
}

type notificationDispatcher interface {
	Dispatch(n Notification)
}

// PenaltyService owns fine computation and settlement. Every write goes
// through an optimistic version guard so a settlement can never be reverted
// by a concurrent recomputation.
type PenaltyService struct {
	records      penaltyRecordStore
	books        penaltyBookReader
	policy       PenaltyPolicy
	allowPartial bool
	maxRetries   int
	notifier     notificationDispatcher
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewPenaltyService wires penalty dependencies.
func NewPenaltyService(
	records penaltyRecordStore,
	books penaltyBookReader,
	policy PenaltyPolicy,
	allowPartial bool,
	maxRetries int,
	notifier notificationDispatcher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *PenaltyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &PenaltyService{
		records:      records,
		books:        books,
		policy:       policy,
		allowPartial: allowPartial,
		maxRetries:   maxRetries,
		notifier:     notifier,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// Preview quotes the fine a loan would carry if assessed right now. Nothing
// is persisted.
func (s *PenaltyService) Preview(ctx context.Context, recordID string) (*dto.PenaltyQuote, error) {
	record, err := s.findRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	book, err := s.findBook(ctx, record.BookID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	quote := &dto.PenaltyQuote{
		BorrowRecordID: record.ID,
		AsOf:           now,
		DailyRate:      s.policy.DailyRate(book.MRP),
	}
	if record.PenaltyStatus.Settled() {
		quote.PenaltyType = record.PenaltyType
		quote.Amount = record.PenaltyAmount
		return quote, nil
	}
	quote.OverdueDays = record.OverdueDays(now)
	quote.Amount, quote.PenaltyType = s.policy.Assess(book.MRP, record.Status, quote.OverdueDays)
	return quote, nil
}

// Recompute assesses the fine for one loan and persists it. The operation is
// idempotent: re-running with unchanged inputs yields the same stored amount.
// Settled penalties are left untouched.
func (s *PenaltyService) Recompute(ctx context.Context, recordID string) (*models.BorrowRecord, error) {
	record, err := s.findRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.PenaltyStatus.Settled() {
		return record, nil
	}
	book, err := s.findBook(ctx, record.BookID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	amount, penaltyType := s.policy.Assess(book.MRP, record.Status, record.OverdueDays(now))
	status := models.PenaltyStatusPending
	if amount.IsZero() {
		status = models.PenaltyStatusNone
	}
	if amount.Equal(record.PenaltyAmount) && penaltyType == record.PenaltyType && status == record.PenaltyStatus {
		return record, nil
	}

	// Payments against the stale amount reduce the new outstanding too.
	paidSoFar := record.PenaltyAmount.Sub(record.OutstandingAmount)
	outstanding := amount.Sub(paidSoFar)
	if outstanding.LessThan(decimal.Zero) {
		outstanding = decimal.Zero
	}

	ok, err := s.records.UpdatePenaltyGuarded(ctx, record.ID, amount, outstanding, penaltyType, status, record.Version)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist penalty")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConcurrencyConflict, "penalty changed concurrently")
	}
	s.metrics.RecordPenaltyAssessed(penaltyType)
	if s.notifier != nil && status == models.PenaltyStatusPending {
		s.notifier.Dispatch(Notification{
			Type:        NotifyPenaltyAssessed,
			RecipientID: record.StudentID,
			Subject:     "Library fine updated",
			Data: map[string]any{
				"borrow_record_id": record.ID,
				"amount":           amount.String(),
				"penalty_type":     penaltyType,
			},
		})
	}
	return s.findRecord(ctx, record.ID)
}

// Pay settles a pending penalty. The full outstanding amount must be paid
// unless partial payments are enabled; overpayment is always rejected.
func (s *PenaltyService) Pay(ctx context.Context, recordID string, req dto.PayPenaltyRequest) (*models.BorrowRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "amount is not a valid decimal")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "amount must be positive")
	}

	record, err := s.findRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.PenaltyStatus.Settled() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "penalty already settled")
	}
	if record.PenaltyStatus != models.PenaltyStatusPending {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no pending penalty on this record")
	}
	if amount.GreaterThan(record.OutstandingAmount) {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "amount exceeds outstanding balance")
	}
	if !s.allowPartial && !amount.Equal(record.OutstandingAmount) {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "partial payments are disabled, pay the full outstanding amount")
	}

	outstanding := record.OutstandingAmount.Sub(amount)
	status := models.PenaltyStatusPending
	var paidVia *models.PenaltyPaidVia
	if outstanding.IsZero() {
		status = models.PenaltyStatusPaid
		via := models.PaidViaPayment
		paidVia = &via
	}

	ok, err := s.records.SettlePenaltyGuarded(ctx, record.ID, outstanding, status, paidVia, record.Version)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConcurrencyConflict, "penalty changed concurrently, retry the payment")
	}

	if status == models.PenaltyStatusPaid {
		s.metrics.RecordPenaltySettled(string(models.PaidViaPayment))
	}
	s.logger.Sugar().Infow("penalty payment recorded",
		"borrow_record_id", record.ID,
		"amount", amount.String(),
		"outstanding", outstanding.String(),
	)
	return s.findRecord(ctx, record.ID)
}

// Waive forgives a penalty in full regardless of amount. Waiving is
// irreversible and rejected once the penalty is already settled.
func (s *PenaltyService) Waive(ctx context.Context, recordID string) (*models.BorrowRecord, error) {
	return s.settle(ctx, recordID, models.PenaltyStatusWaived, nil)
}

// MarkPaid records an out-of-band settlement, cash at the desk or an external
// ledger. Distinguished from Pay in the audit trail by the MANUAL path.
func (s *PenaltyService) MarkPaid(ctx context.Context, recordID string) (*models.BorrowRecord, error) {
	via := models.PaidViaManual
	return s.settle(ctx, recordID, models.PenaltyStatusPaid, &via)
}

func (s *PenaltyService) settle(ctx context.Context, recordID string, status models.PenaltyStatus, paidVia *models.PenaltyPaidVia) (*models.BorrowRecord, error) {
	record, err := s.findRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.PenaltyStatus.Settled() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "penalty already settled")
	}

	ok, err := s.records.SettlePenaltyGuarded(ctx, record.ID, decimal.Zero, status, paidVia, record.Version)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle penalty")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConcurrencyConflict, "penalty changed concurrently")
	}

	via := string(models.PenaltyStatusWaived)
	if paidVia != nil {
		via = string(*paidVia)
	}
	s.metrics.RecordPenaltySettled(via)
	s.logger.Sugar().Infow("penalty settled", "borrow_record_id", record.ID, "status", status, "via", via)
	return s.findRecord(ctx, record.ID)
}

// Reconcile sweeps open overdue loans and brings their accrued fines up to
// date. Settlements racing with the sweep always win: a version conflict is
// retried from a fresh read, and a record settled meanwhile is skipped.
func (s *PenaltyService) Reconcile(ctx context.Context) (*dto.ReconcileResult, error) {
	now := time.Now().UTC()
	records, err := s.records.ListOverdueOpen(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue loans")
	}

	result := &dto.ReconcileResult{Scanned: len(records), RanAt: now}
	for i := range records {
		updated, conflicts, err := s.reconcileOne(ctx, records[i].ID)
		if err != nil {
			s.logger.Sugar().Warnw("reconciliation skipped record", "borrow_record_id", records[i].ID, "error", err)
			result.Skipped++
			continue
		}
		result.Conflicts += conflicts
		if updated {
			result.Updated++
		} else {
			result.Skipped++
		}
	}

	s.metrics.RecordReconciliation(result.Conflicts, now)
	s.logger.Sugar().Infow("penalty reconciliation complete",
		"scanned", result.Scanned,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"conflicts", result.Conflicts,
	)
	return result, nil
}

// reconcileOne recomputes a single record with bounded retry on version
// conflicts. Reports whether a write happened and how many conflicts were
// absorbed along the way.
func (s *PenaltyService) reconcileOne(ctx context.Context, recordID string) (bool, int, error) {
	conflicts := 0
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		record, err := s.findRecord(ctx, recordID)
		if err != nil {
			return false, conflicts, err
		}
		if record.PenaltyStatus.Settled() {
			return false, conflicts, nil
		}
		book, err := s.findBook(ctx, record.BookID)
		if err != nil {
			return false, conflicts, err
		}

		amount, penaltyType := s.policy.Assess(book.MRP, record.Status, record.OverdueDays(time.Now().UTC()))
		if amount.IsZero() {
			return false, conflicts, nil
		}
		if amount.Equal(record.PenaltyAmount) && record.PenaltyStatus == models.PenaltyStatusPending {
			return false, conflicts, nil
		}

		// Payments against the stale amount reduce the new outstanding too.
		paidSoFar := record.PenaltyAmount.Sub(record.OutstandingAmount)
		outstanding := amount.Sub(paidSoFar)
		if outstanding.LessThan(decimal.Zero) {
			outstanding = decimal.Zero
		}

		ok, err := s.records.UpdatePenaltyGuarded(ctx, record.ID, amount, outstanding, penaltyType, models.PenaltyStatusPending, record.Version)
		if err != nil {
			return false, conflicts, err
		}
		if ok {
			s.metrics.RecordPenaltyAssessed(penaltyType)
			return true, conflicts, nil
		}
		conflicts++
	}
	return false, conflicts, nil
}

func (s *PenaltyService) findRecord(ctx context.Context, id string) (*models.BorrowRecord, error) {
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "borrow record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load borrow record")
	}
	return record, nil
}

func (s *PenaltyService) findBook(ctx context.Context, id string) (*models.Book, error) {
	book, err := s.books.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}
	return book, nil
}
