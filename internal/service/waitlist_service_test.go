package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-circulation-api/internal/models"
	"github.com/noah-isme/lms-circulation-api/pkg/config"
	appErrors "github.com/noah-isme/lms-circulation-api/pkg/errors"
)

type waitlistStoreStub struct {
	entries []*models.WaitlistEntryDetail
}

func (s *waitlistStoreStub) FindEntry(_ context.Context, bookID, studentID string) (*models.WaitlistEntry, error) {
	for _, e := range s.entries {
		if e.BookID == bookID && e.StudentID == studentID {
			copy := e.WaitlistEntry
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *waitlistStoreStub) ListByBook(_ context.Context, bookID string) ([]models.WaitlistEntryDetail, error) {
	var out []models.WaitlistEntryDetail
	for _, e := range s.entries {
		if e.BookID == bookID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuePosition < out[j].QueuePosition })
	return out, nil
}

func (s *waitlistStoreStub) ListByBookTx(ctx context.Context, _ *sqlx.Tx, bookID string) ([]models.WaitlistEntryDetail, error) {
	return s.ListByBook(ctx, bookID)
}

func (s *waitlistStoreStub) Insert(_ context.Context, entry *models.WaitlistEntry) error {
	s.entries = append(s.entries, &models.WaitlistEntryDetail{WaitlistEntry: *entry, StudentTier: models.TierRegular})
	return nil
}

func (s *waitlistStoreStub) Delete(_ context.Context, bookID, studentID string) (bool, error) {
	for i, e := range s.entries {
		if e.BookID == bookID && e.StudentID == studentID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *waitlistStoreStub) DeleteTx(_ context.Context, _ *sqlx.Tx, entryID string) error {
	for i, e := range s.entries {
		if e.ID == entryID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *waitlistStoreStub) UpdateRanking(_ context.Context, entryID string, position int, score float64) error {
	for _, e := range s.entries {
		if e.ID == entryID {
			e.QueuePosition = position
			e.PriorityScore = score
		}
	}
	return nil
}

func (s *waitlistStoreStub) UpdateRankingTx(ctx context.Context, _ *sqlx.Tx, entryID string, position int, score float64) error {
	return s.UpdateRanking(ctx, entryID, position, score)
}

func (s *waitlistStoreStub) CountByBook(_ context.Context, bookID string) (int, error) {
	count := 0
	for _, e := range s.entries {
		if e.BookID == bookID {
			count++
		}
	}
	return count, nil
}

func (s *waitlistStoreStub) add(id, bookID, studentID string, tier models.MemberTier, joinedDaysAgo, position int) {
	s.entries = append(s.entries, &models.WaitlistEntryDetail{
		WaitlistEntry: models.WaitlistEntry{
			ID:            id,
			BookID:        bookID,
			StudentID:     studentID,
			JoinedAt:      time.Now().UTC().AddDate(0, 0, -joinedDaysAgo),
			QueuePosition: position,
		},
		StudentTier: tier,
	})
}

type waitlistCacheStub struct {
	data map[string][]byte
	hits int
	sets int
}

func (c *waitlistCacheStub) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := c.data[key]
	if !ok {
		return appErrors.Clone(appErrors.ErrCacheMiss, "")
	}
	c.hits++
	return json.Unmarshal(payload, dest)
}

func (c *waitlistCacheStub) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = payload
	c.sets++
	return nil
}

func (c *waitlistCacheStub) DeleteByPattern(_ context.Context, _ string) error {
	c.data = map[string][]byte{}
	return nil
}

func waitlistTestConfig() config.WaitlistConfig {
	return config.WaitlistConfig{
		WaitWeight:        1.0,
		HonorsBoost:       5,
		FacultyBoost:      10,
		EstimatedLoanDays: 14,
	}
}

func newWaitlistFixture(t *testing.T, store *waitlistStoreStub) (*WaitlistService, *waitlistCacheStub) {
	t.Helper()
	mrp := decimal.RequireFromString("500")
	books := &penaltyBookReaderStub{books: map[string]*models.Book{
		"book-1": {ID: "book-1", Title: "Distributed Systems", MRP: &mrp, TotalCopies: 2, AvailableCopies: 0},
		"book-2": {ID: "book-2", Title: "Compilers", TotalCopies: 3, AvailableCopies: 1},
	}}
	members := &memberReaderStub{members: map[string]*models.Member{
		"student-1": {ID: "student-1", Status: models.MemberStatusApproved, Tier: models.TierRegular},
		"student-2": {ID: "student-2", Status: models.MemberStatusApproved, Tier: models.TierHonors},
		"faculty-1": {ID: "faculty-1", Status: models.MemberStatusApproved, Tier: models.TierFaculty},
		"suspended": {ID: "suspended", Status: models.MemberStatusSuspended},
	}}
	cache := &waitlistCacheStub{data: map[string][]byte{}}
	svc := NewWaitlistService(store, books, members, waitlistTestConfig(), cache, time.Minute, nil, zap.NewNop())
	return svc, cache
}

func TestWaitlistScoreGrowsWithWaitAndTier(t *testing.T) {
	svc, _ := newWaitlistFixture(t, &waitlistStoreStub{})
	now := time.Now().UTC()

	regular := svc.Score(models.TierRegular, now.AddDate(0, 0, -20), now)
	honors := svc.Score(models.TierHonors, now.AddDate(0, 0, -20), now)
	faculty := svc.Score(models.TierFaculty, now, now)

	assert.Equal(t, 20.0, regular)
	assert.Equal(t, 25.0, honors)
	assert.Equal(t, 10.0, faculty)

	later := svc.Score(models.TierRegular, now.AddDate(0, 0, -21), now)
	assert.Greater(t, later, regular, "score must not decrease as waiting grows")
}

func TestWaitlistJoinRejectsAvailableBook(t *testing.T) {
	svc, _ := newWaitlistFixture(t, &waitlistStoreStub{})

	_, err := svc.Join(context.Background(), "book-2", "student-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBookAvailable.Code, appErrors.FromError(err).Code)
}

func TestWaitlistJoinRejectsDuplicate(t *testing.T) {
	store := &waitlistStoreStub{}
	svc, _ := newWaitlistFixture(t, store)

	_, err := svc.Join(context.Background(), "book-1", "student-1")
	require.NoError(t, err)

	_, err = svc.Join(context.Background(), "book-1", "student-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyOnWaitlist.Code, appErrors.FromError(err).Code)
}

func TestWaitlistJoinRejectsSuspendedMember(t *testing.T) {
	svc, _ := newWaitlistFixture(t, &waitlistStoreStub{})

	_, err := svc.Join(context.Background(), "book-1", "suspended")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMemberNotEligible.Code, appErrors.FromError(err).Code)
}

func TestWaitlistRerankOrdersByScoreThenJoinTime(t *testing.T) {
	store := &waitlistStoreStub{}
	// A long-waiting regular outranks a fresh faculty join; a faculty member
	// with substantial wait outranks both.
	store.add("wl-regular", "book-1", "student-1", models.TierRegular, 20, 1)
	store.add("wl-faculty-new", "book-1", "faculty-1", models.TierFaculty, 0, 2)
	store.add("wl-faculty-old", "book-1", "student-2", models.TierFaculty, 15, 3)
	svc, _ := newWaitlistFixture(t, store)

	require.NoError(t, svc.Rerank(context.Background(), "book-1"))

	queue, err := store.ListByBook(context.Background(), "book-1")
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, "wl-faculty-old", queue[0].ID, "15 days + 10 boost = 25")
	assert.Equal(t, "wl-regular", queue[1].ID, "20 days + 0 boost = 20")
	assert.Equal(t, "wl-faculty-new", queue[2].ID, "0 days + 10 boost = 10")
}

func TestWaitlistRerankBreaksTiesFIFO(t *testing.T) {
	store := &waitlistStoreStub{}
	now := time.Now().UTC()
	first := &models.WaitlistEntryDetail{
		WaitlistEntry: models.WaitlistEntry{ID: "wl-first", BookID: "book-1", StudentID: "a", JoinedAt: now.Add(-2 * time.Hour), QueuePosition: 2},
		StudentTier:   models.TierRegular,
	}
	second := &models.WaitlistEntryDetail{
		WaitlistEntry: models.WaitlistEntry{ID: "wl-second", BookID: "book-1", StudentID: "b", JoinedAt: now.Add(-1 * time.Hour), QueuePosition: 1},
		StudentTier:   models.TierRegular,
	}
	store.entries = []*models.WaitlistEntryDetail{first, second}
	svc, _ := newWaitlistFixture(t, store)

	require.NoError(t, svc.Rerank(context.Background(), "book-1"))

	queue, _ := store.ListByBook(context.Background(), "book-1")
	assert.Equal(t, "wl-first", queue[0].ID)
	assert.Equal(t, "wl-second", queue[1].ID)
}

func TestWaitlistLeaveUnknownEntry(t *testing.T) {
	svc, _ := newWaitlistFixture(t, &waitlistStoreStub{})

	err := svc.Leave(context.Background(), "book-1", "student-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestWaitlistLeaveRenumbersQueue(t *testing.T) {
	store := &waitlistStoreStub{}
	store.add("wl-1", "book-1", "student-1", models.TierRegular, 10, 1)
	store.add("wl-2", "book-1", "student-2", models.TierRegular, 5, 2)
	svc, _ := newWaitlistFixture(t, store)

	require.NoError(t, svc.Leave(context.Background(), "book-1", "student-1"))

	queue, _ := store.ListByBook(context.Background(), "book-1")
	require.Len(t, queue, 1)
	assert.Equal(t, "wl-2", queue[0].ID)
	assert.Equal(t, 1, queue[0].QueuePosition)
}

func TestWaitlistPromoteNextPopsHeadAndRenumbers(t *testing.T) {
	store := &waitlistStoreStub{}
	store.add("wl-1", "book-1", "student-1", models.TierRegular, 20, 1)
	store.add("wl-2", "book-1", "student-2", models.TierHonors, 2, 2)
	svc, _ := newWaitlistFixture(t, store)

	head, err := svc.PromoteNextTx(context.Background(), nil, "book-1")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "wl-1", head.ID, "20 days regular beats 2 days honors")

	queue, _ := store.ListByBook(context.Background(), "book-1")
	require.Len(t, queue, 1)
	assert.Equal(t, "wl-2", queue[0].ID)
	assert.Equal(t, 1, queue[0].QueuePosition)
}

func TestWaitlistPromoteNextEmptyQueue(t *testing.T) {
	svc, _ := newWaitlistFixture(t, &waitlistStoreStub{})

	head, err := svc.PromoteNextTx(context.Background(), nil, "book-1")
	require.NoError(t, err)
	assert.Nil(t, head)
}

func TestWaitlistGetQueueDecoratesAndCaches(t *testing.T) {
	store := &waitlistStoreStub{}
	store.add("wl-1", "book-1", "student-1", models.TierRegular, 3, 1)
	store.add("wl-2", "book-1", "student-2", models.TierRegular, 1, 2)
	svc, cache := newWaitlistFixture(t, store)

	queue, err := svc.GetQueue(context.Background(), "book-1")
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, 3, queue[0].WaitingDays)
	assert.Equal(t, 14, queue[0].EstimatedWaitDays)
	assert.Equal(t, 28, queue[1].EstimatedWaitDays)
	assert.Equal(t, 1, cache.sets)

	// Second read is served from the cache.
	again, err := svc.GetQueue(context.Background(), "book-1")
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, 1, cache.hits)
}

func TestWaitlistRejoinResetsPriority(t *testing.T) {
	store := &waitlistStoreStub{}
	store.add("wl-1", "book-1", "student-1", models.TierRegular, 20, 1)
	store.add("wl-2", "book-1", "student-2", models.TierHonors, 10, 2)
	svc, _ := newWaitlistFixture(t, store)

	require.NoError(t, svc.Leave(context.Background(), "book-1", "student-1"))
	entry, err := svc.Join(context.Background(), "book-1", "student-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), entry.JoinedAt, time.Minute, "rejoin must not keep the old join time")

	queue, _ := store.ListByBook(context.Background(), "book-1")
	require.Len(t, queue, 2)
	assert.Equal(t, "wl-2", queue[0].ID, "accrued waiting of the remaining entry wins")
	assert.Equal(t, "student-1", queue[1].StudentID)
	assert.Equal(t, 2, queue[1].QueuePosition)
}
