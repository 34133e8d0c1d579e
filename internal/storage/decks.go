package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

const deckColumns = `id, title, owner, visibility, source, last_synced`

const cardColumns = `id, deck_id, front, back, media, tags, difficulty_hint, position`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeck(row scanner) (*domain.Deck, error) {
	var d domain.Deck
	var lastSynced sql.NullInt64
	if err := row.Scan(&d.ID, &d.Title, &d.Owner, &d.Visibility, &d.Source, &lastSynced); err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		d.LastSynced = fromNanos(lastSynced.Int64)
	}
	return &d, nil
}

// SaveDeck inserts a deck or updates its metadata.
func (db *DB) SaveDeck(ctx context.Context, d *domain.Deck) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO decks (id, title, owner, visibility, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, owner = excluded.owner, visibility = excluded.visibility
	`, d.ID, d.Title, d.Owner, d.Visibility, d.Source)
	if err != nil {
		return fmt.Errorf("failed to save deck %s: %w", d.ID, classify(err))
	}
	return nil
}

// GetDeck retrieves a deck by id.
func (db *DB) GetDeck(ctx context.Context, deckID string) (*domain.Deck, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+deckColumns+` FROM decks WHERE id = ?`, deckID)
	d, err := scanDeck(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find deck %s: %w", deckID, classify(err))
	}
	return d, nil
}

// GetDeckBySource retrieves the deck imported from source.
func (db *DB) GetDeckBySource(ctx context.Context, source string) (*domain.Deck, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+deckColumns+` FROM decks WHERE source = ?`, source)
	d, err := scanDeck(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find deck by source %s: %w", source, classify(err))
	}
	return d, nil
}

// ListDecks retrieves all decks ordered by title.
func (db *DB) ListDecks(ctx context.Context) ([]domain.Deck, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+deckColumns+` FROM decks ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", classify(err))
	}
	defer rows.Close()

	var decks []domain.Deck
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decks = append(decks, *d)
	}
	return decks, rows.Err()
}

// MarkDeckSynced updates the last_synced timestamp for a deck.
func (db *DB) MarkDeckSynced(ctx context.Context, deckID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE decks SET last_synced = ? WHERE id = ?`, toNanos(at), deckID)
	if err != nil {
		return fmt.Errorf("failed to update last synced for deck %s: %w", deckID, classify(err))
	}
	return nil
}

// DeleteDeck removes a deck; its cards, review states and sessions cascade.
func (db *DB) DeleteDeck(ctx context.Context, deckID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, deckID)
	if err != nil {
		return fmt.Errorf("failed to delete deck %s: %w", deckID, classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deck %s: %w", deckID, domain.ErrNotFound)
	}
	return nil
}

func scanCard(row scanner, extra ...any) (*domain.Flashcard, error) {
	var c domain.Flashcard
	var media, tags string
	dest := append([]any{&c.ID, &c.DeckID, &c.Front, &c.Back, &media, &tags, &c.DifficultyHint, &c.Position}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(media), &c.Media); err != nil {
		return nil, fmt.Errorf("failed to decode media for card %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for card %s: %w", c.ID, err)
	}
	return &c, nil
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// SaveCard inserts a card or refreshes its text, position and metadata.
// Ids ignore case, so an existing card may come back with new capitalization.
func (db *DB) SaveCard(ctx context.Context, c *domain.Flashcard) error {
	media, err := encodeList(c.Media)
	if err != nil {
		return fmt.Errorf("failed to encode media for card %s: %w", c.ID, err)
	}
	tags, err := encodeList(c.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags for card %s: %w", c.ID, err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			front = excluded.front, back = excluded.back,
			media = excluded.media, tags = excluded.tags,
			difficulty_hint = excluded.difficulty_hint, position = excluded.position
	`, c.ID, c.DeckID, c.Front, c.Back, media, tags, c.DifficultyHint, c.Position)
	if err != nil {
		return fmt.Errorf("failed to save card %s: %w", c.ID, classify(err))
	}
	return nil
}

// GetCard retrieves a card by id.
func (db *DB) GetCard(ctx context.Context, cardID string) (*domain.Flashcard, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, cardID)
	c, err := scanCard(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find card %s: %w", cardID, classify(err))
	}
	return c, nil
}

// ListCards retrieves a deck's cards in deck order.
func (db *DB) ListCards(ctx context.Context, deckID string) ([]domain.Flashcard, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE deck_id = ? ORDER BY position, id`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for deck %s: %w", deckID, classify(err))
	}
	defer rows.Close()

	var cards []domain.Flashcard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row for deck %s: %w", deckID, err)
		}
		cards = append(cards, *c)
	}
	return cards, rows.Err()
}

// DeleteCard removes a card; review states for it cascade.
func (db *DB) DeleteCard(ctx context.Context, cardID string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, cardID)
	if err != nil {
		return fmt.Errorf("failed to delete card with id %s: %w", cardID, classify(err))
	}
	return nil
}
