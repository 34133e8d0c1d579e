package review

import (
	"context"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// Store persists per-(user, card) review state. Implementations map driver
// failures onto domain.ErrNotFound, domain.ErrConflict and domain.ErrTransient.
type Store interface {
	GetDeck(ctx context.Context, deckID string) (*domain.Deck, error)
	GetCard(ctx context.Context, cardID string) (*domain.Flashcard, error)

	GetReviewState(ctx context.Context, userID, cardID string) (*domain.ReviewState, error)
	// CreateReviewState inserts the state unless a row for the same
	// (user, card) exists, and returns whichever row is stored.
	CreateReviewState(ctx context.Context, state *domain.ReviewState) (*domain.ReviewState, error)
	// UpdateReviewState writes the whole record if the stored version still
	// equals expectedVersion, and bumps state.Version. Otherwise it returns
	// domain.ErrConflict.
	UpdateReviewState(ctx context.Context, state *domain.ReviewState, expectedVersion int64) error
	// ListDeckReviews returns the deck's cards whose stored state is due at
	// dueBy, plus cards the user has never reviewed, earliest-due first.
	ListDeckReviews(ctx context.Context, userID, deckID string, dueBy time.Time) ([]domain.CardReview, error)

	CreateSession(ctx context.Context, session *domain.ReviewSession) error
	GetSession(ctx context.Context, userID, sessionID string) (*domain.ReviewSession, error)
	RecordSessionReview(ctx context.Context, userID, sessionID string, correct bool) error
	EndSession(ctx context.Context, userID, sessionID string, at time.Time) (*domain.ReviewSession, error)
}

// StreakTracker is notified after every applied review.
type StreakTracker interface {
	RecordActivity(ctx context.Context, userID string, at time.Time) (*domain.ReviewStreak, error)
	GetStreak(ctx context.Context, userID string) (*domain.ReviewStreak, error)
}
