package web

import (
	"time"

	"github.com/conorfennell/recall/internal/deckimport"
	"github.com/conorfennell/recall/internal/domain"
)

type historyResponse struct {
	Date           time.Time `json:"date"`
	Quality        int       `json:"quality"`
	Interval       int       `json:"interval"`
	EasinessFactor float64   `json:"ef"`
}

type stateResponse struct {
	CardID         string            `json:"card_id"`
	EasinessFactor float64           `json:"easiness_factor"`
	IntervalDays   int               `json:"interval_days"`
	Repetitions    int               `json:"repetition_count"`
	LastReviewed   *time.Time        `json:"last_reviewed"`
	NextReviewDate time.Time         `json:"next_review_date"`
	TotalReviews   int               `json:"total_reviews"`
	TotalCorrect   int               `json:"total_correct"`
	TotalIncorrect int               `json:"total_incorrect"`
	AverageQuality float64           `json:"average_quality"`
	History        []historyResponse `json:"review_history"`
	Version        int64             `json:"version"`
}

func newStateResponse(s *domain.ReviewState) stateResponse {
	history := make([]historyResponse, 0, len(s.History))
	for _, h := range s.History {
		history = append(history, historyResponse{
			Date:           h.Date,
			Quality:        h.Quality,
			Interval:       h.Interval,
			EasinessFactor: h.EasinessFactor,
		})
	}
	return stateResponse{
		CardID:         s.CardID,
		EasinessFactor: s.EasinessFactor,
		IntervalDays:   s.IntervalDays,
		Repetitions:    s.Repetitions,
		LastReviewed:   s.LastReviewed,
		NextReviewDate: s.NextReviewDate,
		TotalReviews:   s.TotalReviews,
		TotalCorrect:   s.TotalCorrect,
		TotalIncorrect: s.TotalIncorrect,
		AverageQuality: s.AverageQuality,
		History:        history,
		Version:        s.Version,
	}
}

type cardResponse struct {
	ID    string   `json:"id"`
	Front string   `json:"front"`
	Back  string   `json:"back"`
	Media []string `json:"media,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func newCardResponse(c domain.Flashcard) cardResponse {
	return cardResponse{ID: c.ID, Front: c.Front, Back: c.Back, Media: c.Media, Tags: c.Tags}
}

type dueCardResponse struct {
	Card  cardResponse  `json:"card"`
	State stateResponse `json:"state"`
}

type streakResponse struct {
	CurrentStreak   int     `json:"current_streak"`
	LongestStreak   int     `json:"longest_streak"`
	LastReviewDate  *string `json:"last_review_date"`
	TotalReviewDays int     `json:"total_review_days"`
}

func newStreakResponse(s *domain.ReviewStreak) streakResponse {
	out := streakResponse{
		CurrentStreak:   s.CurrentStreak,
		LongestStreak:   s.LongestStreak,
		TotalReviewDays: s.TotalReviewDays,
	}
	if !s.LastReviewDate.IsZero() {
		day := s.LastReviewDate.Format("2006-01-02")
		out.LastReviewDate = &day
	}
	return out
}

type sessionResponse struct {
	ID        string     `json:"id"`
	DeckID    string     `json:"deck_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Reviewed  int        `json:"reviewed"`
	Correct   int        `json:"correct"`
	Incorrect int        `json:"incorrect"`
}

func newSessionResponse(s *domain.ReviewSession) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		DeckID:    s.DeckID,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Reviewed:  s.Reviewed,
		Correct:   s.Correct,
		Incorrect: s.Incorrect,
	}
}

type deckResponse struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Owner      string     `json:"owner"`
	Visibility string     `json:"visibility"`
	Source     string     `json:"source"`
	LastSynced *time.Time `json:"last_synced"`
}

func newDeckResponse(d domain.Deck) deckResponse {
	out := deckResponse{
		ID:         d.ID,
		Title:      d.Title,
		Owner:      d.Owner,
		Visibility: string(d.Visibility),
		Source:     d.Source,
	}
	if !d.LastSynced.IsZero() {
		out.LastSynced = &d.LastSynced
	}
	return out
}

type syncResponse struct {
	DeckID  string   `json:"deck_id"`
	Source  string   `json:"source"`
	Parsed  int      `json:"parsed"`
	Removed int      `json:"removed"`
	Errors  []string `json:"errors,omitempty"`
}

func newSyncResponse(r deckimport.Result) syncResponse {
	out := syncResponse{DeckID: r.DeckID, Source: r.Source, Parsed: r.Parsed, Removed: r.Removed}
	for _, err := range r.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}
