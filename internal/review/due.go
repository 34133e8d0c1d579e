package review

import (
	"slices"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/sm2"
)

// SortByDueDate orders cards earliest-due first, ties broken by card id.
func SortByDueDate(cards []domain.DueCard) {
	slices.SortStableFunc(cards, domain.CompareDue)
}

// FilterDueCards returns the cards due at now, preserving order.
func FilterDueCards(cards []domain.DueCard, now time.Time) []domain.DueCard {
	out := make([]domain.DueCard, 0, len(cards))
	for _, c := range cards {
		if c.State.IsDue(now) {
			out = append(out, c)
		}
	}
	return out
}

// NewState returns the initial, unsaved state of a card, due at now.
func NewState(userID, cardID string, now time.Time) domain.ReviewState {
	init := sm2.InitialState()
	return domain.ReviewState{
		UserID:         userID,
		CardID:         cardID,
		EasinessFactor: init.EasinessFactor,
		IntervalDays:   init.IntervalDays,
		Repetitions:    init.Repetitions,
		NextReviewDate: now,
	}
}

// Apply returns the state that follows a review of quality at now.
// Quality is clamped to [0,5]; the input state is not modified.
func Apply(state domain.ReviewState, quality int, requestID string, now time.Time) domain.ReviewState {
	q := sm2.ClampQuality(quality)
	res := sm2.CalculateNextReview(sm2.State{
		EasinessFactor: state.EasinessFactor,
		IntervalDays:   state.IntervalDays,
		Repetitions:    state.Repetitions,
	}, q, now)

	next := state.Clone()
	next.EasinessFactor = res.State.EasinessFactor
	next.IntervalDays = res.State.IntervalDays
	next.Repetitions = res.State.Repetitions
	next.NextReviewDate = res.NextReviewDate
	reviewed := now
	next.LastReviewed = &reviewed

	count := float64(next.TotalReviews)
	next.AverageQuality = (next.AverageQuality*count + float64(q)) / (count + 1)
	next.TotalReviews++
	if q >= sm2.PassingQuality {
		next.TotalCorrect++
	} else {
		next.TotalIncorrect++
	}

	next.History = append(next.History, domain.HistoryEntry{
		RequestID:      requestID,
		Date:           now,
		Quality:        q,
		Interval:       next.IntervalDays,
		EasinessFactor: next.EasinessFactor,
	})
	return next
}
