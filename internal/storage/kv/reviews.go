package kv

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/conorfennell/recall/internal/domain"
)

// GetReviewState retrieves the state of one card for one user.
func (s *Store) GetReviewState(_ context.Context, userID, cardID string) (*domain.ReviewState, error) {
	var st domain.ReviewState
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, stateKey(userID, cardID), &st)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find review state %s/%s: %w", userID, cardID, classify(err))
	}
	return &st, nil
}

// CreateReviewState stores the state unless one exists for the same
// (user, card), and returns whichever is stored. A racing creator makes the
// commit conflict; the retry then reads the winner's row.
func (s *Store) CreateReviewState(_ context.Context, st *domain.ReviewState) (*domain.ReviewState, error) {
	var stored domain.ReviewState
	err := s.update(3, func(txn *badger.Txn) error {
		if _, err := txn.Get(cardKey(st.CardID)); err != nil {
			return err
		}
		err := get(txn, stateKey(st.UserID, st.CardID), &stored)
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		stored = st.Clone()
		stored.Version = 1
		if err := txn.Set(cardStateKey(st.CardID, st.UserID), stateKey(st.UserID, st.CardID)); err != nil {
			return err
		}
		return set(txn, stateKey(st.UserID, st.CardID), stored)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert review state %s/%s: %w", st.UserID, st.CardID, classify(err))
	}
	return &stored, nil
}

// UpdateReviewState writes the full record if the stored version still equals
// expectedVersion. Both a version mismatch and a badger commit conflict are
// reported as domain.ErrConflict; neither is retried here.
func (s *Store) UpdateReviewState(_ context.Context, st *domain.ReviewState, expectedVersion int64) error {
	next := st.Clone()
	next.Version = expectedVersion + 1
	err := s.db.Update(func(txn *badger.Txn) error {
		var current domain.ReviewState
		if err := get(txn, stateKey(st.UserID, st.CardID), &current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("review state %s/%s is at version %d, not %d: %w",
				st.UserID, st.CardID, current.Version, expectedVersion, domain.ErrConflict)
		}
		return set(txn, stateKey(st.UserID, st.CardID), next)
	})
	if err != nil {
		return fmt.Errorf("failed to update review state %s/%s: %w", st.UserID, st.CardID, classify(err))
	}
	st.Version = next.Version
	return nil
}

// ListDeckReviews returns the deck's cards that are due at dueBy for the
// user, including cards without a state, ordered by due date then card id.
// Unreviewed cards sort as if due at dueBy.
func (s *Store) ListDeckReviews(_ context.Context, userID, deckID string, dueBy time.Time) ([]domain.CardReview, error) {
	var out []domain.CardReview
	err := s.db.View(func(txn *badger.Txn) error {
		cards, err := deckCards(txn, deckID)
		if err != nil {
			return err
		}
		for _, c := range cards {
			var st domain.ReviewState
			switch err := get(txn, stateKey(userID, c.ID), &st); {
			case errors.Is(err, badger.ErrKeyNotFound):
				out = append(out, domain.CardReview{Card: c})
			case err != nil:
				return err
			case st.IsDue(dueBy):
				out = append(out, domain.CardReview{Card: c, State: &st})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards for deck %s: %w", deckID, classify(err))
	}

	dueAt := func(r domain.CardReview) time.Time {
		if r.State == nil {
			return dueBy
		}
		return r.State.NextReviewDate
	}
	slices.SortStableFunc(out, func(a, b domain.CardReview) int {
		return domain.CompareDue(
			domain.DueCard{Card: a.Card, State: domain.ReviewState{NextReviewDate: dueAt(a)}},
			domain.DueCard{Card: b.Card, State: domain.ReviewState{NextReviewDate: dueAt(b)}},
		)
	})
	return out, nil
}
