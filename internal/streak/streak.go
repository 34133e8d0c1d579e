// Package streak maintains per-user daily review streaks.
package streak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

const maxAttempts = 3

// Store persists streaks. SaveStreak writes only if the stored version equals
// expectedVersion (zero meaning no row yet) and returns domain.ErrConflict otherwise.
type Store interface {
	GetStreak(ctx context.Context, userID string) (*domain.ReviewStreak, error)
	SaveStreak(ctx context.Context, streak *domain.ReviewStreak, expectedVersion int64) error
}

// Tracker records review activity against calendar days in a fixed location.
type Tracker struct {
	store  Store
	loc    *time.Location
	logger *slog.Logger
}

// NewTracker creates a Tracker. A nil loc means UTC.
func NewTracker(store Store, loc *time.Location, logger *slog.Logger) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, loc: loc, logger: logger}
}

// CalendarDay returns midnight UTC of the date at falls on in loc.
func CalendarDay(at time.Time, loc *time.Location) time.Time {
	y, m, d := at.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Advance applies one activity on day to s and reports whether s changed.
// Activity on the last counted day, or on an earlier day, changes nothing.
func Advance(s domain.ReviewStreak, day time.Time) (domain.ReviewStreak, bool) {
	if !s.LastReviewDate.IsZero() && !day.After(s.LastReviewDate) {
		return s, false
	}

	if !s.LastReviewDate.IsZero() && s.LastReviewDate.AddDate(0, 0, 1).Equal(day) {
		s.CurrentStreak++
	} else {
		s.CurrentStreak = 1
	}
	s.LongestStreak = max(s.LongestStreak, s.CurrentStreak)
	s.TotalReviewDays++
	s.LastReviewDate = day
	return s, true
}

// RecordActivity counts at towards the user's streak. Concurrent updates are
// retried a few times before the conflict is returned.
func (t *Tracker) RecordActivity(ctx context.Context, userID string, at time.Time) (*domain.ReviewStreak, error) {
	day := CalendarDay(at, t.loc)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var current *domain.ReviewStreak
		current, err = t.GetStreak(ctx, userID)
		if err != nil {
			return nil, err
		}

		next, changed := Advance(*current, day)
		if !changed {
			return current, nil
		}

		err = t.store.SaveStreak(ctx, &next, current.Version)
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("failed to save streak for %s: %w", userID, err)
		}
		t.logger.Debug("streak update conflict, retrying", "user", userID, "attempt", attempt)
	}
	return nil, err
}

// GetStreak returns the user's streak, or a zero streak if there is none.
func (t *Tracker) GetStreak(ctx context.Context, userID string) (*domain.ReviewStreak, error) {
	s, err := t.store.GetStreak(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.ReviewStreak{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
