package review_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/review"
	"github.com/conorfennell/recall/internal/sm2"
	"github.com/conorfennell/recall/internal/storage/kv"
	"github.com/conorfennell/recall/internal/storage/storetest"
	"github.com/conorfennell/recall/internal/streak"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *kv.Store
	clock   *clock
	svc     *review.Service
	reg     *prometheus.Registry
	metrics *review.Metrics
	tracker *streak.Tracker
}

func newFixture(t *testing.T, opts ...review.Option) *fixture {
	t.Helper()
	store, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	storetest.Seed(t, store, "deck-1", "card-a", "card-b", "card-c")

	f := &fixture{store: store, clock: &clock{now: t0}, reg: prometheus.NewRegistry()}
	f.metrics = review.NewMetrics(f.reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.tracker = streak.NewTracker(store, time.UTC, logger)
	f.svc = f.service(store, opts...)
	return f
}

func (f *fixture) service(store review.Store, opts ...review.Option) *review.Service {
	base := []review.Option{
		review.WithClock(f.clock.Now),
		review.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		review.WithMetrics(f.metrics),
	}
	return review.NewService(store, f.tracker, append(base, opts...)...)
}

func asUser(userID string) context.Context {
	return review.WithUser(context.Background(), userID)
}

func TestOperationsRequireUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 4})
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = f.svc.GetDueCards(ctx, "deck-1")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = f.svc.PreviewReview(ctx, "card-a")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = f.svc.GetStreak(ctx)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = f.svc.StartSession(ctx, "deck-1")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestGetOrCreateReviewState(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	first, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, sm2.DefaultEasinessFactor, first.EasinessFactor)
	assert.Zero(t, first.IntervalDays)
	assert.Zero(t, first.Repetitions)
	assert.True(t, first.NextReviewDate.Equal(t0))
	assert.Nil(t, first.LastReviewed)
	assert.Empty(t, first.History)
	assert.Equal(t, int64(1), first.Version)

	f.clock.Advance(time.Hour)
	second, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	require.NoError(t, err)
	assert.True(t, second.NextReviewDate.Equal(t0), "existing state is returned, not recreated")
	assert.Equal(t, int64(1), second.Version)

	_, err = f.svc.GetOrCreateReviewState(ctx, "no-such-card")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitReviewPersistsState(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	got, err := f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 5})
	require.NoError(t, err)
	assert.Equal(t, 2.6, got.EasinessFactor)
	assert.Equal(t, 1, got.IntervalDays)
	assert.Equal(t, 1, got.Repetitions)
	assert.True(t, got.NextReviewDate.Equal(t0.AddDate(0, 0, 1)))
	assert.Equal(t, 1, got.TotalReviews)
	assert.Equal(t, 1, got.TotalCorrect)
	assert.Equal(t, 5.0, got.AverageQuality)
	require.Len(t, got.History, 1)
	assert.NoError(t, uuid.Validate(got.History[0].RequestID), "a request id is generated when absent")

	stored, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, *got, *stored)

	// Another user's schedule is independent.
	other, err := f.svc.GetOrCreateReviewState(asUser("u2"), "card-a")
	require.NoError(t, err)
	assert.Zero(t, other.TotalReviews)
}

func TestSubmitReviewSequence(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	for _, q := range []int{4, 4, 4} {
		_, err := f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: q})
		require.NoError(t, err)
	}
	st, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Repetitions)
	assert.Equal(t, 15, st.IntervalDays)
	assert.Equal(t, int64(4), st.Version)

	lapse, err := f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 2})
	require.NoError(t, err)
	assert.Zero(t, lapse.Repetitions)
	assert.Equal(t, 1, lapse.IntervalDays)
	assert.InDelta(t, 2.18, lapse.EasinessFactor, 1e-9)
	assert.Equal(t, 3, lapse.TotalCorrect)
	assert.Equal(t, 1, lapse.TotalIncorrect)
	assert.InDelta(t, 3.5, lapse.AverageQuality, 1e-9)
}

func TestSubmitReviewIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")
	req := review.SubmitRequest{CardID: "card-a", Quality: 4, RequestID: uuid.NewString()}

	first, err := f.svc.SubmitReview(ctx, req)
	require.NoError(t, err)
	again, err := f.svc.SubmitReview(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, *first, *again)
	assert.Equal(t, 1, again.TotalReviews)
	assertReviewCounts(t, f, `
		recall_reviews_total{result="applied"} 1
		recall_reviews_total{result="duplicate"} 1
	`)
}

func TestSubmitReviewValidation(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	_, err := f.svc.SubmitReview(ctx, review.SubmitRequest{Quality: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 3, RequestID: "not-a-uuid"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "no-such-card", Quality: 3})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Out-of-range quality is clamped by default.
	clamped, err := f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 11})
	require.NoError(t, err)
	assert.Equal(t, 5, clamped.History[0].Quality)
	assert.Equal(t, 2.6, clamped.EasinessFactor)
}

func TestStrictQuality(t *testing.T) {
	f := newFixture(t, review.WithStrictQuality(true))
	ctx := asUser("u1")

	_, err := f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 6})
	assert.ErrorIs(t, err, domain.ErrInvalidQuality)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidQuality)

	_, err = f.store.GetReviewState(ctx, "u1", "card-a")
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected reviews leave no state behind")

	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 0})
	assert.NoError(t, err)
}

// racingStore lets another submission commit between this one's read and write.
type racingStore struct {
	review.Store
	once sync.Once
	race func()
}

func (r *racingStore) GetReviewState(ctx context.Context, userID, cardID string) (*domain.ReviewState, error) {
	st, err := r.Store.GetReviewState(ctx, userID, cardID)
	r.once.Do(r.race)
	return st, err
}

func TestSubmitReviewLosesRace(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")
	_, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	require.NoError(t, err)

	slow := f.service(&racingStore{Store: f.store, race: func() {
		_, err := f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 5})
		require.NoError(t, err)
	}})

	_, err = slow.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 1})
	assert.ErrorIs(t, err, domain.ErrConflict)

	st, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalReviews)
	assert.Equal(t, 5, st.History[0].Quality, "only the winning review is applied")

	// Retrying reloads the winner's state and applies on top of it.
	got, err := review.Retry(ctx, review.DefaultRetryPolicy(), func() (*domain.ReviewState, error) {
		return slow.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 1})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalReviews)
}

func TestConcurrentSubmissionsNeverLoseUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")
	_, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	require.NoError(t, err)

	const n = 8
	var (
		wg                   sync.WaitGroup
		mu                   sync.Mutex
		applied, conflicting int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: i % 6})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case assert.ErrorIs(t, err, domain.ErrConflict):
				conflicting++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n, applied+conflicting)
	assert.GreaterOrEqual(t, applied, 1)

	st, err := f.svc.GetOrCreateReviewState(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, applied, st.TotalReviews)
	assert.Len(t, st.History, applied)
	assert.Equal(t, int64(applied+1), st.Version)
}

func TestGetDueCards(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	due, err := f.svc.GetDueCards(ctx, "deck-1")
	require.NoError(t, err)
	require.Len(t, due, 3, "never-reviewed cards are due")
	for _, d := range due {
		assert.Zero(t, d.State.Version)
		assert.True(t, d.State.NextReviewDate.Equal(t0))
	}

	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-b", Quality: 4})
	require.NoError(t, err)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-c", Quality: 0})
	require.NoError(t, err)

	due, err = f.svc.GetDueCards(ctx, "deck-1")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "card-a", due[0].Card.ID)

	// Two days later the reviewed cards come due before the new one.
	f.clock.Advance(48 * time.Hour)
	due, err = f.svc.GetDueCards(ctx, "deck-1")
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "card-b", due[0].Card.ID)
	assert.Equal(t, "card-c", due[1].Card.ID)
	assert.Equal(t, "card-a", due[2].Card.ID)
	for i := 1; i < len(due); i++ {
		assert.False(t, due[i].State.NextReviewDate.Before(due[i-1].State.NextReviewDate))
	}

	_, err = f.svc.GetDueCards(ctx, "no-such-deck")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPreviewReview(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	p, err := f.svc.PreviewReview(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, sm2.Preview{Again: 1, Hard: 1, Good: 1, Easy: 1}, p.Intervals)
	assert.Equal(t, 1.0, p.Retention)
	assert.Equal(t, sm2.DifficultyEasy, p.Difficulty)

	_, err = f.store.GetReviewState(ctx, "u1", "card-a")
	assert.ErrorIs(t, err, domain.ErrNotFound, "preview creates no state")

	for _, q := range []int{5, 5} {
		_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: q})
		require.NoError(t, err)
	}
	f.clock.Advance(6 * 24 * time.Hour)
	p, err = f.svc.PreviewReview(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Intervals.Again)
	assert.LessOrEqual(t, p.Intervals.Hard, p.Intervals.Good)
	assert.LessOrEqual(t, p.Intervals.Good, p.Intervals.Easy)
	assert.Less(t, p.Retention, 1.0)

	_, err = f.svc.PreviewReview(ctx, "no-such-card")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitReviewRecordsStreak(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	s, err := f.svc.GetStreak(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.CurrentStreak)

	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 4})
	require.NoError(t, err)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-b", Quality: 4})
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-c", Quality: 1})
	require.NoError(t, err)

	s, err = f.svc.GetStreak(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.CurrentStreak)
	assert.Equal(t, 2, s.LongestStreak)
	assert.Equal(t, 2, s.TotalReviewDays)
}

func TestSessions(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	sess, err := f.svc.StartSession(ctx, "deck-1")
	require.NoError(t, err)
	assert.Equal(t, "deck-1", sess.DeckID)
	assert.True(t, sess.StartedAt.Equal(t0))

	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 4, SessionID: sess.ID})
	require.NoError(t, err)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-b", Quality: 1, SessionID: sess.ID})
	require.NoError(t, err)
	// A review outside the session is not counted.
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-c", Quality: 5})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	ended, err := f.svc.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, ended.Reviewed)
	assert.Equal(t, 1, ended.Correct)
	assert.Equal(t, 1, ended.Incorrect)
	require.NotNil(t, ended.EndedAt)
	assert.True(t, ended.EndedAt.Equal(t0.Add(10*time.Minute)))

	_, err = f.svc.GetSession(asUser("u2"), sess.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.StartSession(ctx, "no-such-deck")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("u1")

	_, err := f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "card-a", Quality: 4})
	require.NoError(t, err)
	_, err = f.svc.SubmitReview(ctx, review.SubmitRequest{CardID: "no-such-card", Quality: 4})
	require.Error(t, err)

	assertReviewCounts(t, f, `
		recall_reviews_total{result="applied"} 1
		recall_reviews_total{result="error"} 1
	`)
}

func assertReviewCounts(t *testing.T, f *fixture, samples string) {
	t.Helper()
	expected := `
		# HELP recall_reviews_total Review submissions by result
		# TYPE recall_reviews_total counter
	` + samples
	assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "recall_reviews_total"))
}
