// Package parser extracts flashcards from markdown card files.
//
// A card starts with "Q:" (front) followed by "A:" (back). Optional "T:"
// lists comma-separated tags and "D:" a difficulty hint. Lines without a
// prefix continue the current block; "---" ends a card.
package parser

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/conorfennell/recall/internal/domain"
)

const (
	frontPrefix      = "Q:"
	backPrefix       = "A:"
	tagsPrefix       = "T:"
	difficultyPrefix = "D:"
	separator        = "---"

	// MaxLineSize is the longest line a card file may contain.
	MaxLineSize = 1 << 20
)

type state int

const (
	seeking state = iota
	readingFront
	readingBack
)

// ParseFile reads a file from the given path and extracts all cards.
func ParseFile(path string) ([]domain.Flashcard, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all cards. Cards are returned
// in file order without ids; Position is their index in the file.
func Parse(r io.Reader) ([]domain.Flashcard, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	var cards []domain.Flashcard
	var current domain.Flashcard
	var block []string
	currentState := seeking

	flushBlock := func() {
		content := strings.TrimRight(strings.Join(block, "\n"), "\n")
		switch currentState {
		case readingFront:
			current.Front = content
		case readingBack:
			current.Back = content
		}
		block = nil
	}

	finishCard := func() {
		flushBlock()
		if current.Front != "" {
			current.Media = mediaRefs(current.Front, current.Back)
			current.Position = len(cards)
			cards = append(cards, current)
		}
		current = domain.Flashcard{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == separator:
			finishCard()
		case strings.HasPrefix(line, frontPrefix):
			// A new front always starts a new card.
			if currentState != seeking {
				finishCard()
			}
			currentState = readingFront
			block = append(block, field(line, frontPrefix))
		case strings.HasPrefix(line, backPrefix):
			flushBlock()
			currentState = readingBack
			block = append(block, field(line, backPrefix))
		case strings.HasPrefix(line, tagsPrefix):
			current.Tags = append(current.Tags, splitTags(field(line, tagsPrefix))...)
		case strings.HasPrefix(line, difficultyPrefix):
			if v, err := strconv.ParseFloat(strings.TrimSpace(field(line, difficultyPrefix)), 64); err == nil {
				current.DifficultyHint = v
			}
		case currentState != seeking:
			block = append(block, line)
		}
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cards, nil
}

func field(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, strings.ToLower(t))
		}
	}
	return tags
}

// mediaRefs returns the destinations of markdown images on either side of a card.
func mediaRefs(sides ...string) []string {
	var refs []string
	md := goldmark.New()
	for _, side := range sides {
		src := []byte(side)
		doc := md.Parser().Parse(text.NewReader(src))
		_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
			if img, ok := n.(*ast.Image); ok && entering {
				refs = append(refs, string(img.Destination))
			}
			return ast.WalkContinue, nil
		})
	}
	return refs
}
