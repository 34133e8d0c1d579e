package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

const dayLayout = "2006-01-02"

// GetStreak retrieves a user's streak.
func (db *DB) GetStreak(ctx context.Context, userID string) (*domain.ReviewStreak, error) {
	var s domain.ReviewStreak
	var last sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT user_id, current_streak, longest_streak, last_review_date, total_review_days, version
		FROM review_streaks WHERE user_id = ?
	`, userID).Scan(&s.UserID, &s.CurrentStreak, &s.LongestStreak, &last, &s.TotalReviewDays, &s.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to find streak for %s: %w", userID, classify(err))
	}
	if last.Valid {
		day, err := time.Parse(dayLayout, last.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last review date for %s: %w", userID, err)
		}
		s.LastReviewDate = day
	}
	return &s, nil
}

// SaveStreak inserts (expectedVersion 0) or conditionally updates a streak.
func (db *DB) SaveStreak(ctx context.Context, s *domain.ReviewStreak, expectedVersion int64) error {
	var last sql.NullString
	if !s.LastReviewDate.IsZero() {
		last = sql.NullString{String: s.LastReviewDate.Format(dayLayout), Valid: true}
	}

	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = db.conn.ExecContext(ctx, `
			INSERT INTO review_streaks (user_id, current_streak, longest_streak, last_review_date, total_review_days, version)
			VALUES (?, ?, ?, ?, ?, 1)
			ON CONFLICT(user_id) DO NOTHING
		`, s.UserID, s.CurrentStreak, s.LongestStreak, last, s.TotalReviewDays)
	} else {
		res, err = db.conn.ExecContext(ctx, `
			UPDATE review_streaks
			SET current_streak = ?, longest_streak = ?, last_review_date = ?, total_review_days = ?, version = version + 1
			WHERE user_id = ? AND version = ?
		`, s.CurrentStreak, s.LongestStreak, last, s.TotalReviewDays, s.UserID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to save streak for %s: %w", s.UserID, classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("streak for %s changed since version %d: %w", s.UserID, expectedVersion, domain.ErrConflict)
	}
	s.Version = expectedVersion + 1
	return nil
}
