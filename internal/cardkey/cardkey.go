// Package cardkey derives content-addressed ids for decks and cards.
package cardkey

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// Normalize joins the parts after lowercasing, trimming and normalizing line endings.
// Each part is prefixed with its byte length, so parts that contain newlines
// cannot be confused with a different split.
func Normalize(parts ...string) string {
	clean := make([]string, len(parts))
	for i, p := range parts {
		p = strings.ToLower(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		p = strings.TrimSpace(p)
		clean[i] = strconv.Itoa(len(p)) + ":" + p
	}
	return strings.Join(clean, "\n")
}

func hash(s string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(s)))
}

// CardID returns the id of a card with the given content in a deck.
// Editing either side of a card yields a new id.
func CardID(deckID, front, back string) string {
	return hash(Normalize(deckID, front, back))
}

// DeckID returns the id of the deck imported from source.
func DeckID(source string) string {
	return hash(strings.TrimSpace(source))[:16]
}
