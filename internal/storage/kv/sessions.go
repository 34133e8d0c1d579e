package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/conorfennell/recall/internal/domain"
)

// CreateSession stores a new review session.
func (s *Store) CreateSession(_ context.Context, sess *domain.ReviewSession) error {
	err := s.update(1, func(txn *badger.Txn) error {
		if err := txn.Set(deckSessionKey(sess.DeckID, sess.UserID, sess.ID), sessionKey(sess.UserID, sess.ID)); err != nil {
			return err
		}
		return set(txn, sessionKey(sess.UserID, sess.ID), sess)
	})
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", sess.ID, classify(err))
	}
	return nil
}

// GetSession retrieves one of a user's sessions.
func (s *Store) GetSession(_ context.Context, userID, sessionID string) (*domain.ReviewSession, error) {
	var sess domain.ReviewSession
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, sessionKey(userID, sessionID), &sess)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find session %s: %w", sessionID, classify(err))
	}
	return &sess, nil
}

// RecordSessionReview increments a session's tally.
func (s *Store) RecordSessionReview(_ context.Context, userID, sessionID string, correct bool) error {
	err := s.update(5, func(txn *badger.Txn) error {
		var sess domain.ReviewSession
		if err := get(txn, sessionKey(userID, sessionID), &sess); err != nil {
			return err
		}
		sess.Reviewed++
		if correct {
			sess.Correct++
		} else {
			sess.Incorrect++
		}
		return set(txn, sessionKey(userID, sessionID), sess)
	})
	if err != nil {
		return fmt.Errorf("failed to tally session %s: %w", sessionID, classify(err))
	}
	return nil
}

// EndSession stamps the session's end time once and returns the session.
func (s *Store) EndSession(_ context.Context, userID, sessionID string, at time.Time) (*domain.ReviewSession, error) {
	var sess domain.ReviewSession
	err := s.update(3, func(txn *badger.Txn) error {
		if err := get(txn, sessionKey(userID, sessionID), &sess); err != nil {
			return err
		}
		if sess.EndedAt == nil {
			ended := at
			sess.EndedAt = &ended
		}
		return set(txn, sessionKey(userID, sessionID), sess)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to end session %s: %w", sessionID, classify(err))
	}
	return &sess, nil
}
