package domain

import "time"

// Visibility controls who may study a deck.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Deck is a collection of cards imported from a single source.
type Deck struct {
	ID         string
	Title      string
	Owner      string
	Visibility Visibility
	Source     string // local directory or git URL
	LastSynced time.Time
}

// Flashcard is a single front/back entry belonging to exactly one deck.
type Flashcard struct {
	ID             string
	DeckID         string
	Front          string
	Back           string
	Media          []string
	Tags           []string
	DifficultyHint float64
	Position       int
}
