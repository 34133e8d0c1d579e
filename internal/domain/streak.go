package domain

import "time"

// ReviewStreak tracks consecutive calendar days with at least one review.
// LastReviewDate is midnight UTC of the calendar day, zero if the user never reviewed.
type ReviewStreak struct {
	UserID          string
	CurrentStreak   int
	LongestStreak   int
	LastReviewDate  time.Time
	TotalReviewDays int
	Version         int64
}

// ReviewSession groups a batch of reviews of one deck.
type ReviewSession struct {
	ID        string
	UserID    string
	DeckID    string
	StartedAt time.Time
	EndedAt   *time.Time
	Reviewed  int
	Correct   int
	Incorrect int
}
