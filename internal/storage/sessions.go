package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// CreateSession inserts a new review session.
func (db *DB) CreateSession(ctx context.Context, s *domain.ReviewSession) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO review_sessions (id, user_id, deck_id, started_at)
		VALUES (?, ?, ?, ?)
	`, s.ID, s.UserID, s.DeckID, toNanos(s.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", s.ID, classify(err))
	}
	return nil
}

// GetSession retrieves one of a user's sessions.
func (db *DB) GetSession(ctx context.Context, userID, sessionID string) (*domain.ReviewSession, error) {
	var s domain.ReviewSession
	var started int64
	var ended sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, deck_id, started_at, ended_at, reviewed, correct, incorrect
		FROM review_sessions WHERE id = ? AND user_id = ?
	`, sessionID, userID).Scan(&s.ID, &s.UserID, &s.DeckID, &started, &ended, &s.Reviewed, &s.Correct, &s.Incorrect)
	if err != nil {
		return nil, fmt.Errorf("failed to find session %s: %w", sessionID, classify(err))
	}
	s.StartedAt = fromNanos(started)
	s.EndedAt = timePtr(ended)
	return &s, nil
}

// RecordSessionReview increments a session's tally in place.
func (db *DB) RecordSessionReview(ctx context.Context, userID, sessionID string, correct bool) error {
	c, i := 0, 1
	if correct {
		c, i = 1, 0
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE review_sessions
		SET reviewed = reviewed + 1, correct = correct + ?, incorrect = incorrect + ?
		WHERE id = ? AND user_id = ?
	`, c, i, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to tally session %s: %w", sessionID, classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// EndSession stamps the session's end time once and returns the session.
func (db *DB) EndSession(ctx context.Context, userID, sessionID string, at time.Time) (*domain.ReviewSession, error) {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE review_sessions SET ended_at = COALESCE(ended_at, ?)
		WHERE id = ? AND user_id = ?
	`, toNanos(at), sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to end session %s: %w", sessionID, classify(err))
	}
	return db.GetSession(ctx, userID, sessionID)
}
