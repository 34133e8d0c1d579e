package domain

import (
	"slices"
	"strings"
	"time"
)

// HistoryEntry records a single applied review of a card.
type HistoryEntry struct {
	RequestID      string    `json:"request_id"`
	Date           time.Time `json:"date"`
	Quality        int       `json:"quality"`
	Interval       int       `json:"interval"`
	EasinessFactor float64   `json:"ef"`
}

// ReviewState is the scheduling state of one card for one user.
// Version is zero for a state that has never been persisted.
type ReviewState struct {
	UserID         string
	CardID         string
	EasinessFactor float64
	IntervalDays   int
	Repetitions    int
	LastReviewed   *time.Time // nil before the first review
	NextReviewDate time.Time
	TotalReviews   int
	TotalCorrect   int
	TotalIncorrect int
	History        []HistoryEntry
	AverageQuality float64
	Version        int64
}

// IsDue reports whether the card should be shown at now.
func (s *ReviewState) IsDue(now time.Time) bool {
	return !now.Before(s.NextReviewDate)
}

// HasRequest reports whether a review with the given request id was already applied.
func (s *ReviewState) HasRequest(requestID string) bool {
	if requestID == "" {
		return false
	}
	for _, h := range s.History {
		if h.RequestID == requestID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the state.
func (s ReviewState) Clone() ReviewState {
	out := s
	if s.LastReviewed != nil {
		v := *s.LastReviewed
		out.LastReviewed = &v
	}
	out.History = slices.Clone(s.History)
	return out
}

// CardReview pairs a card with the user's stored state, which is nil
// when the user has never reviewed the card.
type CardReview struct {
	Card  Flashcard
	State *ReviewState
}

// DueCard is a card paired with the state that makes it due.
type DueCard struct {
	Card  Flashcard
	State ReviewState
}

// CompareDue orders due cards earliest-due first, breaking ties by card id.
func CompareDue(a, b DueCard) int {
	if c := a.State.NextReviewDate.Compare(b.State.NextReviewDate); c != 0 {
		return c
	}
	return strings.Compare(a.Card.ID, b.Card.ID)
}
