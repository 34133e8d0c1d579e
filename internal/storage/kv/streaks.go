package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/conorfennell/recall/internal/domain"
)

// GetStreak retrieves a user's streak.
func (s *Store) GetStreak(_ context.Context, userID string) (*domain.ReviewStreak, error) {
	var st domain.ReviewStreak
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, streakKey(userID), &st)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find streak for %s: %w", userID, classify(err))
	}
	return &st, nil
}

// SaveStreak writes the streak if the stored version equals expectedVersion,
// zero meaning no streak is stored yet.
func (s *Store) SaveStreak(_ context.Context, st *domain.ReviewStreak, expectedVersion int64) error {
	next := *st
	next.Version = expectedVersion + 1
	err := s.db.Update(func(txn *badger.Txn) error {
		var current domain.ReviewStreak
		err := get(txn, streakKey(st.UserID), &current)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			current.Version = 0
		case err != nil:
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("streak for %s is at version %d, not %d: %w",
				st.UserID, current.Version, expectedVersion, domain.ErrConflict)
		}
		return set(txn, streakKey(st.UserID), next)
	})
	if err != nil {
		return fmt.Errorf("failed to save streak for %s: %w", st.UserID, classify(err))
	}
	st.Version = next.Version
	return nil
}
