package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

const stateColumns = `user_id, flashcard_id, easiness_factor, interval_days, repetition_count,
	last_reviewed, next_review_date, total_reviews, total_correct, total_incorrect,
	review_history, average_quality, version`

// stateRow scans review_states columns, which may be NULL on a LEFT JOIN.
type stateRow struct {
	userID, cardID                     sql.NullString
	ef, avg                            sql.NullFloat64
	interval, reps                     sql.NullInt64
	lastReviewed, nextReview           sql.NullInt64
	total, correct, incorrect, version sql.NullInt64
	history                            sql.NullString
}

func (r *stateRow) dest() []any {
	return []any{
		&r.userID, &r.cardID, &r.ef, &r.interval, &r.reps,
		&r.lastReviewed, &r.nextReview, &r.total, &r.correct, &r.incorrect,
		&r.history, &r.avg, &r.version,
	}
}

func (r *stateRow) state() (*domain.ReviewState, error) {
	if !r.userID.Valid {
		return nil, nil
	}
	s := &domain.ReviewState{
		UserID:         r.userID.String,
		CardID:         r.cardID.String,
		EasinessFactor: r.ef.Float64,
		IntervalDays:   int(r.interval.Int64),
		Repetitions:    int(r.reps.Int64),
		LastReviewed:   timePtr(r.lastReviewed),
		NextReviewDate: fromNanos(r.nextReview.Int64),
		TotalReviews:   int(r.total.Int64),
		TotalCorrect:   int(r.correct.Int64),
		TotalIncorrect: int(r.incorrect.Int64),
		AverageQuality: r.avg.Float64,
		Version:        r.version.Int64,
	}
	if err := json.Unmarshal([]byte(r.history.String), &s.History); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s/%s: %w", s.UserID, s.CardID, err)
	}
	return s, nil
}

func encodeHistory(h []domain.HistoryEntry) (string, error) {
	if h == nil {
		h = []domain.HistoryEntry{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to encode review history: %w", err)
	}
	return string(b), nil
}

// GetReviewState retrieves the state of one card for one user.
func (db *DB) GetReviewState(ctx context.Context, userID, cardID string) (*domain.ReviewState, error) {
	var r stateRow
	err := db.conn.QueryRowContext(ctx, `
		SELECT `+stateColumns+` FROM review_states WHERE user_id = ? AND flashcard_id = ?
	`, userID, cardID).Scan(r.dest()...)
	if err != nil {
		return nil, fmt.Errorf("failed to find review state %s/%s: %w", userID, cardID, classify(err))
	}
	return r.state()
}

// CreateReviewState inserts the state unless the (user, card) row already
// exists, then returns the stored row. Concurrent first reviews never create
// two rows; the primary key makes the losing insert a no-op. A missing card
// inserts nothing and surfaces as domain.ErrNotFound.
func (db *DB) CreateReviewState(ctx context.Context, s *domain.ReviewState) (*domain.ReviewState, error) {
	history, err := encodeHistory(s.History)
	if err != nil {
		return nil, err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO review_states (`+stateColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1
		WHERE EXISTS (SELECT 1 FROM cards WHERE id = ?)
		ON CONFLICT(user_id, flashcard_id) DO NOTHING
	`,
		s.UserID, s.CardID, s.EasinessFactor, s.IntervalDays, s.Repetitions,
		nullNanos(s.LastReviewed), toNanos(s.NextReviewDate),
		s.TotalReviews, s.TotalCorrect, s.TotalIncorrect,
		history, s.AverageQuality,
		s.CardID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert review state %s/%s: %w", s.UserID, s.CardID, classify(err))
	}
	return db.GetReviewState(ctx, s.UserID, s.CardID)
}

// UpdateReviewState writes the full record in one statement, conditional on
// the row still being at expectedVersion.
func (db *DB) UpdateReviewState(ctx context.Context, s *domain.ReviewState, expectedVersion int64) error {
	history, err := encodeHistory(s.History)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE review_states
		SET easiness_factor = ?, interval_days = ?, repetition_count = ?,
			last_reviewed = ?, next_review_date = ?,
			total_reviews = ?, total_correct = ?, total_incorrect = ?,
			review_history = ?, average_quality = ?, version = version + 1
		WHERE user_id = ? AND flashcard_id = ? AND version = ?
	`,
		s.EasinessFactor, s.IntervalDays, s.Repetitions,
		nullNanos(s.LastReviewed), toNanos(s.NextReviewDate),
		s.TotalReviews, s.TotalCorrect, s.TotalIncorrect,
		history, s.AverageQuality,
		s.UserID, s.CardID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update review state %s/%s: %w", s.UserID, s.CardID, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update review state %s/%s: %w", s.UserID, s.CardID, classify(err))
	}
	if n == 0 {
		return fmt.Errorf("review state %s/%s is no longer at version %d: %w", s.UserID, s.CardID, expectedVersion, domain.ErrConflict)
	}
	s.Version = expectedVersion + 1
	return nil
}

// ListDeckReviews returns the deck's cards that are due at dueBy for the
// user, including cards without a state, ordered by due date then card id.
// Unreviewed cards sort as if due at dueBy.
func (db *DB) ListDeckReviews(ctx context.Context, userID, deckID string, dueBy time.Time) ([]domain.CardReview, error) {
	due := toNanos(dueBy)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.id, c.deck_id, c.front, c.back, c.media, c.tags, c.difficulty_hint, c.position,
			rs.user_id, rs.flashcard_id, rs.easiness_factor, rs.interval_days, rs.repetition_count,
			rs.last_reviewed, rs.next_review_date, rs.total_reviews, rs.total_correct, rs.total_incorrect,
			rs.review_history, rs.average_quality, rs.version
		FROM cards c
		LEFT JOIN review_states rs ON rs.flashcard_id = c.id AND rs.user_id = ?
		WHERE c.deck_id = ? AND (rs.next_review_date IS NULL OR rs.next_review_date <= ?)
		ORDER BY COALESCE(rs.next_review_date, ?) ASC, c.id ASC
	`, userID, deckID, due, due)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards for deck %s: %w", deckID, classify(err))
	}
	defer rows.Close()

	var out []domain.CardReview
	for rows.Next() {
		var r stateRow
		card, err := scanCard(rows, r.dest()...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due card row: %w", err)
		}
		state, err := r.state()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.CardReview{Card: *card, State: state})
	}
	return out, rows.Err()
}
