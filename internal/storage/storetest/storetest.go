// Package storetest is a conformance suite run against every store implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/recall/internal/deckimport"
	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/review"
	"github.com/conorfennell/recall/internal/streak"
)

// Store is everything a backend implements.
type Store interface {
	review.Store
	streak.Store
	deckimport.Store
}

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

// Run exercises newStore's result. newStore must return an empty store and
// register its own cleanup.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("decks and cards", func(t *testing.T) { testDecksAndCards(t, newStore(t)) })
	t.Run("create review state", func(t *testing.T) { testCreateReviewState(t, newStore(t)) })
	t.Run("conditional update", func(t *testing.T) { testUpdateReviewState(t, newStore(t)) })
	t.Run("concurrent updates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
	t.Run("due range query", func(t *testing.T) { testListDeckReviews(t, newStore(t)) })
	t.Run("card deletion cascades", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
	t.Run("streaks", func(t *testing.T) { testStreaks(t, newStore(t)) })
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
}

// Seed stores a deck with the given card ids, in order.
func Seed(t *testing.T, s deckimport.Store, deckID string, cardIDs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveDeck(ctx, &domain.Deck{
		ID:         deckID,
		Title:      "Deck " + deckID,
		Owner:      "owner",
		Visibility: domain.VisibilityPrivate,
		Source:     "/decks/" + deckID,
	}))
	for i, id := range cardIDs {
		require.NoError(t, s.SaveCard(ctx, &domain.Flashcard{
			ID:       id,
			DeckID:   deckID,
			Front:    "front " + id,
			Back:     "back " + id,
			Tags:     []string{"tag"},
			Media:    []string{},
			Position: i,
		}))
	}
}

func testDecksAndCards(t *testing.T, s Store) {
	ctx := context.Background()
	Seed(t, s, "d1", "c2", "c1")

	d, err := s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Deck d1", d.Title)
	assert.Equal(t, domain.VisibilityPrivate, d.Visibility)

	bySource, err := s.GetDeckBySource(ctx, "/decks/d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", bySource.ID)

	_, err = s.GetDeck(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c, err := s.GetCard(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "front c1", c.Front)
	assert.Equal(t, []string{"tag"}, c.Tags)

	_, err = s.GetCard(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Saving under an existing id replaces the text.
	edited := *c
	edited.Front, edited.Back = "Front C1", "Back C1"
	require.NoError(t, s.SaveCard(ctx, &edited))
	c, err = s.GetCard(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Front C1", c.Front)
	assert.Equal(t, "Back C1", c.Back)

	cards, err := s.ListCards(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "c2", cards[0].ID, "cards are returned in deck order")

	require.NoError(t, s.MarkDeckSynced(ctx, "d1", t0))
	d, err = s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d.LastSynced.Equal(t0))

	decks, err := s.ListDecks(ctx)
	require.NoError(t, err)
	assert.Len(t, decks, 1)
}

func initial(userID, cardID string) *domain.ReviewState {
	st := review.NewState(userID, cardID, t0)
	return &st
}

func testCreateReviewState(t *testing.T, s Store) {
	ctx := context.Background()
	Seed(t, s, "d1", "c1")

	first, err := s.CreateReviewState(ctx, initial("u1", "c1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, 2.5, first.EasinessFactor)
	assert.True(t, first.NextReviewDate.Equal(t0))
	assert.Nil(t, first.LastReviewed)

	// A second create for the same pair returns the stored row untouched.
	other := initial("u1", "c1")
	other.EasinessFactor = 1.9
	second, err := s.CreateReviewState(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 2.5, second.EasinessFactor)
	assert.Equal(t, int64(1), second.Version)

	_, err = s.CreateReviewState(ctx, initial("u1", "no-such-card"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetReviewState(ctx, "u2", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testUpdateReviewState(t *testing.T, s Store) {
	ctx := context.Background()
	Seed(t, s, "d1", "c1")

	created, err := s.CreateReviewState(ctx, initial("u1", "c1"))
	require.NoError(t, err)

	next := review.Apply(*created, 4, "req-1", t0)
	require.NoError(t, s.UpdateReviewState(ctx, &next, created.Version))
	assert.Equal(t, int64(2), next.Version)

	stored, err := s.GetReviewState(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, next.EasinessFactor, stored.EasinessFactor)
	assert.Equal(t, next.IntervalDays, stored.IntervalDays)
	assert.Equal(t, next.Repetitions, stored.Repetitions)
	assert.True(t, next.NextReviewDate.Equal(stored.NextReviewDate))
	require.NotNil(t, stored.LastReviewed)
	assert.True(t, stored.LastReviewed.Equal(t0))
	require.Len(t, stored.History, 1)
	assert.Equal(t, "req-1", stored.History[0].RequestID)
	assert.Equal(t, 4, stored.History[0].Quality)
	assert.Equal(t, int64(2), stored.Version)

	// A writer still holding version 1 loses.
	stale := review.Apply(*created, 1, "req-2", t0)
	err = s.UpdateReviewState(ctx, &stale, created.Version)
	assert.ErrorIs(t, err, domain.ErrConflict)

	after, err := s.GetReviewState(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, after.TotalReviews)
	assert.Equal(t, int64(2), after.Version)
}

func testConcurrentUpdates(t *testing.T, s Store) {
	ctx := context.Background()
	Seed(t, s, "d1", "c1")

	created, err := s.CreateReviewState(ctx, initial("u1", "c1"))
	require.NoError(t, err)

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := review.Apply(*created, i%6, "", t0)
			err := s.UpdateReviewState(ctx, &next, created.Version)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	got, err := s.GetReviewState(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 1, got.TotalReviews)
}

func testListDeckReviews(t *testing.T, s Store) {
	ctx := context.Background()
	Seed(t, s, "d1", "a", "b", "c", "d")
	Seed(t, s, "d2", "x")

	overdue := initial("u1", "b")
	overdue.NextReviewDate = t0.Add(-48 * time.Hour)
	_, err := s.CreateReviewState(ctx, overdue)
	require.NoError(t, err)

	future := initial("u1", "a")
	future.NextReviewDate = t0.Add(24 * time.Hour)
	_, err = s.CreateReviewState(ctx, future)
	require.NoError(t, err)

	exact := initial("u1", "d")
	_, err = s.CreateReviewState(ctx, exact)
	require.NoError(t, err)

	rows, err := s.ListDeckReviews(ctx, "u1", "d1", t0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "b", rows[0].Card.ID)
	require.NotNil(t, rows[0].State)
	assert.Equal(t, "c", rows[1].Card.ID)
	assert.Nil(t, rows[1].State, "never-reviewed card has no state")
	assert.Equal(t, "d", rows[2].Card.ID)
	require.NotNil(t, rows[2].State)

	// Another user has reviewed nothing.
	rows, err = s.ListDeckReviews(ctx, "u2", "d1", t0)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.Nil(t, r.State)
	}
}

func testDeleteCascade(t *testing.T, s Store) {
	ctx := context.Background()
	Seed(t, s, "d1", "c1", "c2")
	_, err := s.CreateReviewState(ctx, initial("u1", "c1"))
	require.NoError(t, err)
	_, err = s.CreateReviewState(ctx, initial("u2", "c1"))
	require.NoError(t, err)
	_, err = s.CreateReviewState(ctx, initial("u1", "c2"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteCard(ctx, "c1"))
	_, err = s.GetReviewState(ctx, "u1", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetReviewState(ctx, "u2", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetReviewState(ctx, "u1", "c2")
	assert.NoError(t, err)

	Seed(t, s, "d2", "x1")
	_, err = s.CreateReviewState(ctx, initial("u1", "x1"))
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(ctx, &domain.ReviewSession{ID: "s1", UserID: "u1", DeckID: "d1", StartedAt: t0}))
	require.NoError(t, s.CreateSession(ctx, &domain.ReviewSession{ID: "s2", UserID: "u1", DeckID: "d2", StartedAt: t0}))

	require.NoError(t, s.DeleteDeck(ctx, "d1"))
	_, err = s.GetDeck(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetDeckBySource(ctx, "/decks/d1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetSession(ctx, "u1", "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDeck(ctx, "d1"), domain.ErrNotFound)

	// The other deck is untouched.
	_, err = s.GetReviewState(ctx, "u1", "x1")
	assert.NoError(t, err)
	_, err = s.GetSession(ctx, "u1", "s2")
	assert.NoError(t, err)
	_, err = s.GetCard(ctx, "c2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetReviewState(ctx, "u1", "c2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testStreaks(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetStreak(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	st := &domain.ReviewStreak{UserID: "u1", CurrentStreak: 1, LongestStreak: 1, LastReviewDate: day, TotalReviewDays: 1}
	require.NoError(t, s.SaveStreak(ctx, st, 0))
	assert.Equal(t, int64(1), st.Version)

	dup := &domain.ReviewStreak{UserID: "u1", CurrentStreak: 9}
	assert.ErrorIs(t, s.SaveStreak(ctx, dup, 0), domain.ErrConflict)

	st.CurrentStreak, st.LongestStreak, st.TotalReviewDays = 2, 2, 2
	st.LastReviewDate = day.AddDate(0, 0, 1)
	require.NoError(t, s.SaveStreak(ctx, st, 1))

	got, err := s.GetStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStreak)
	assert.Equal(t, 2, got.TotalReviewDays)
	assert.True(t, got.LastReviewDate.Equal(day.AddDate(0, 0, 1)))
	assert.Equal(t, int64(2), got.Version)
}

func testSessions(t *testing.T, s Store) {
	ctx := context.Background()
	Seed(t, s, "d1", "c1")

	sess := &domain.ReviewSession{ID: "s1", UserID: "u1", DeckID: "d1", StartedAt: t0}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.RecordSessionReview(ctx, "u1", "s1", true))
	require.NoError(t, s.RecordSessionReview(ctx, "u1", "s1", false))
	require.NoError(t, s.RecordSessionReview(ctx, "u1", "s1", true))

	ended, err := s.EndSession(ctx, "u1", "s1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, ended.Reviewed)
	assert.Equal(t, 2, ended.Correct)
	assert.Equal(t, 1, ended.Incorrect)
	require.NotNil(t, ended.EndedAt)
	assert.True(t, ended.EndedAt.Equal(t0.Add(time.Hour)))

	again, err := s.EndSession(ctx, "u1", "s1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, again.EndedAt.Equal(t0.Add(time.Hour)), "end time is set once")

	_, err = s.GetSession(ctx, "u2", "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.RecordSessionReview(ctx, "u2", "s1", true), domain.ErrNotFound)
}
