package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/models"
	"github.com/noah-isme/lms-circulation-api/pkg/config"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
)

type waitlistStore interface {
	FindEntry(ctx context.Context, bookID, studentID string) (*models.WaitlistEntry, error)
	ListByBook(ctx context.Context, bookID string) ([]models.WaitlistEntryDetail, error)
	ListByBookTx(ctx context.Context, tx *sqlx.Tx, bookID string) ([]models.WaitlistEntryDetail, error)
	Insert(ctx context.Context, entry *models.WaitlistEntry) error
	Delete(ctx context.Context, bookID, studentID string) (bool, error)
	DeleteTx(ctx context.Context, tx *sqlx.Tx, entryID string) error
	UpdateRanking(ctx context.Context, entryID string, position int, score float64) error
	UpdateRankingTx(ctx context.Context, tx *sqlx.Tx, entryID string, position int, score float64) error
	CountByBook(ctx context.Context, bookID string) (int, error)
}

type waitlistBookReader interface {
	FindByID(ctx context.Context, id string) (*models.Book, error)
}

type waitlistCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// WaitlistService ranks students queueing for unavailable titles. Positions
// are dense 1..N per book; the priority score grows with waiting time so an
// entry's rank can only improve while it waits, unless a higher tier joins.
type WaitlistService struct {
	entries  waitlistStore
	books    waitlistBookReader
	members  circulationMemberReader
	cfg      config.WaitlistConfig
	cache    waitlistCache
	cacheTTL time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewWaitlistService wires waitlist dependencies.
func NewWaitlistService(
	entries waitlistStore,
	books waitlistBookReader,
	members circulationMemberReader,
	cfg config.WaitlistConfig,
	cache waitlistCache,
	cacheTTL time.Duration,
	metrics *MetricsService,
	logger *zap.Logger,
) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &WaitlistService{
		entries:  entries,
		books:    books,
		members:  members,
		cfg:      cfg,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  metrics,
		logger:   logger,
	}
}

// Score computes the priority of one entry as of now. Waiting days weigh in
// linearly and the member tier adds a flat boost.
func (s *WaitlistService) Score(tier models.MemberTier, joinedAt, now time.Time) float64 {
	waitingDays := 0
	if now.After(joinedAt) {
		waitingDays = int(now.Sub(joinedAt).Hours() / 24)
	}
	score := float64(waitingDays) * s.cfg.WaitWeight
	switch tier {
	case models.TierHonors:
		score += s.cfg.HonorsBoost
	case models.TierFaculty:
		score += s.cfg.FacultyBoost
	}
	return score
}

// Join puts a student on a book's waitlist. Only titles with no free copies
// accept entries, and a student holds at most one entry per book.
func (s *WaitlistService) Join(ctx context.Context, bookID, studentID string) (*models.WaitlistEntry, error) {
	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "book not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load book")
	}
	if book.Available() {
		return nil, appErrors.Clone(appErrors.ErrBookAvailable, "book has free copies, borrow it instead")
	}

	member, err := s.members.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "member not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member")
	}
	if !member.Eligible() {
		return nil, appErrors.Clone(appErrors.ErrMemberNotEligible, "member may not join waitlists")
	}

	if _, err := s.entries.FindEntry(ctx, bookID, studentID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrAlreadyOnWaitlist, "student already queued for this book")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check waitlist")
	}

	count, err := s.entries.CountByBook(ctx, bookID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to size waitlist")
	}

	now := time.Now().UTC()
	entry := &models.WaitlistEntry{
		ID:            uuid.NewString(),
		BookID:        bookID,
		StudentID:     studentID,
		JoinedAt:      now,
		QueuePosition: count + 1,
		PriorityScore: s.Score(member.Tier, now, now),
	}
	if err := s.entries.Insert(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join waitlist")
	}

	if err := s.Rerank(ctx, bookID); err != nil {
		s.logger.Sugar().Warnw("waitlist rerank failed after join", "book_id", bookID, "error", err)
	}
	s.invalidate(ctx, bookID)

	refreshed, err := s.entries.FindEntry(ctx, bookID, studentID)
	if err != nil {
		return entry, nil
	}
	s.decorate(refreshed, time.Now().UTC())
	return refreshed, nil
}

// Leave removes a student's entry. Leaving forfeits accumulated wait time;
// rejoining starts from the back of the scoring window.
func (s *WaitlistService) Leave(ctx context.Context, bookID, studentID string) error {
	removed, err := s.entries.Delete(ctx, bookID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave waitlist")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "no waitlist entry for this student and book")
	}
	if err := s.Rerank(ctx, bookID); err != nil {
		s.logger.Sugar().Warnw("waitlist rerank failed after leave", "book_id", bookID, "error", err)
	}
	s.invalidate(ctx, bookID)
	return nil
}

// GetQueue returns the ranked waitlist for a book with derived wait
// estimates, served from the read-view cache when warm.
func (s *WaitlistService) GetQueue(ctx context.Context, bookID string) ([]models.WaitlistEntryDetail, error) {
	key := "waitlist:" + bookID + ":queue"
	if s.cache != nil {
		var cached []models.WaitlistEntryDetail
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	entries, err := s.entries.ListByBook(ctx, bookID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	now := time.Now().UTC()
	for i := range entries {
		s.decorate(&entries[i].WaitlistEntry, now)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, entries, s.cacheTTL); err != nil {
			s.logger.Sugar().Warnw("waitlist cache write failed", "book_id", bookID, "error", err)
		}
	}
	return entries, nil
}

// Rerank recomputes scores for a book's queue and rewrites the dense
// positions 1..N.
func (s *WaitlistService) Rerank(ctx context.Context, bookID string) error {
	entries, err := s.entries.ListByBook(ctx, bookID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ranked := s.rank(entries, now)
	for i := range ranked {
		position := i + 1
		if ranked[i].QueuePosition == position && ranked[i].PriorityScore == ranked[i].computedScore {
			continue
		}
		if err := s.entries.UpdateRanking(ctx, ranked[i].ID, position, ranked[i].computedScore); err != nil {
			return err
		}
	}
	return nil
}

// PromoteNextTx pops the highest-priority entry inside the caller's
// transaction and renumbers the remainder. Returns nil when the queue is
// empty.
func (s *WaitlistService) PromoteNextTx(ctx context.Context, tx *sqlx.Tx, bookID string) (*models.WaitlistEntryDetail, error) {
	entries, err := s.entries.ListByBookTx(ctx, tx, bookID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock waitlist")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	ranked := s.rank(entries, now)
	head := ranked[0]

	if err := s.entries.DeleteTx(ctx, tx, head.entry.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to pop waitlist head")
	}
	for i := 1; i < len(ranked); i++ {
		if err := s.entries.UpdateRankingTx(ctx, tx, ranked[i].ID, i, ranked[i].computedScore); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to renumber waitlist")
		}
	}
	return head.entry, nil
}

type rankedEntry struct {
	entry         *models.WaitlistEntryDetail
	ID            string
	QueuePosition int
	PriorityScore float64
	computedScore float64
}

// rank orders entries by descending score, breaking ties by earlier join
// time so equal-priority students keep FIFO order.
func (s *WaitlistService) rank(entries []models.WaitlistEntryDetail, now time.Time) []rankedEntry {
	ranked := make([]rankedEntry, 0, len(entries))
	for i := range entries {
		ranked = append(ranked, rankedEntry{
			entry:         &entries[i],
			ID:            entries[i].ID,
			QueuePosition: entries[i].QueuePosition,
			PriorityScore: entries[i].PriorityScore,
			computedScore: s.Score(entries[i].StudentTier, entries[i].JoinedAt, now),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].computedScore != ranked[j].computedScore {
			return ranked[i].computedScore > ranked[j].computedScore
		}
		return ranked[i].entry.JoinedAt.Before(ranked[j].entry.JoinedAt)
	})
	return ranked
}

func (s *WaitlistService) decorate(entry *models.WaitlistEntry, now time.Time) {
	if now.After(entry.JoinedAt) {
		entry.WaitingDays = int(now.Sub(entry.JoinedAt).Hours() / 24)
	}
	entry.EstimatedWaitDays = entry.QueuePosition * s.cfg.EstimatedLoanDays
}

func (s *WaitlistService) invalidate(ctx context.Context, bookID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "waitlist:"+bookID+":*"); err != nil {
		s.logger.Sugar().Warnw("waitlist cache invalidation failed", "book_id", bookID, "error", err)
	}
}
