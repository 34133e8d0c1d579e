package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/conorfennell/recall/internal/domain"
)

// SaveDeck inserts a deck or updates its metadata. The source of an existing
// deck never changes.
func (s *Store) SaveDeck(_ context.Context, d *domain.Deck) error {
	err := s.update(3, func(txn *badger.Txn) error {
		var existing domain.Deck
		switch err := get(txn, deckKey(d.ID), &existing); {
		case err == nil:
			existing.Title, existing.Owner, existing.Visibility = d.Title, d.Owner, d.Visibility
			return set(txn, deckKey(d.ID), existing)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(deckSourceKey(d.Source), []byte(d.ID)); err != nil {
			return err
		}
		return set(txn, deckKey(d.ID), d)
	})
	if err != nil {
		return fmt.Errorf("failed to save deck %s: %w", d.ID, classify(err))
	}
	return nil
}

// GetDeck retrieves a deck by id.
func (s *Store) GetDeck(_ context.Context, deckID string) (*domain.Deck, error) {
	var d domain.Deck
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, deckKey(deckID), &d)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find deck %s: %w", deckID, classify(err))
	}
	return &d, nil
}

// GetDeckBySource retrieves the deck imported from source.
func (s *Store) GetDeckBySource(_ context.Context, source string) (*domain.Deck, error) {
	var d domain.Deck
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deckSourceKey(source))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return get(txn, deckKey(string(id)), &d)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find deck by source %s: %w", source, classify(err))
	}
	return &d, nil
}

// ListDecks retrieves all decks ordered by title.
func (s *Store) ListDecks(_ context.Context) ([]domain.Deck, error) {
	var decks []domain.Deck
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("deck/"), func(item *badger.Item) error {
			var d domain.Deck
			if err := decodeItem(item, &d); err != nil {
				return err
			}
			decks = append(decks, d)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", classify(err))
	}
	sort.Slice(decks, func(i, j int) bool {
		if decks[i].Title != decks[j].Title {
			return decks[i].Title < decks[j].Title
		}
		return decks[i].ID < decks[j].ID
	})
	return decks, nil
}

// MarkDeckSynced updates the last synced timestamp for a deck.
func (s *Store) MarkDeckSynced(_ context.Context, deckID string, at time.Time) error {
	err := s.update(3, func(txn *badger.Txn) error {
		var d domain.Deck
		if err := get(txn, deckKey(deckID), &d); err != nil {
			return err
		}
		d.LastSynced = at
		return set(txn, deckKey(deckID), d)
	})
	if err != nil {
		return fmt.Errorf("failed to update last synced for deck %s: %w", deckID, classify(err))
	}
	return nil
}

// DeleteDeck removes a deck along with its cards, their review states and
// the deck's sessions, in one transaction.
func (s *Store) DeleteDeck(_ context.Context, deckID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var d domain.Deck
		if err := get(txn, deckKey(deckID), &d); err != nil {
			return err
		}
		cards, err := deckCards(txn, deckID)
		if err != nil {
			return err
		}
		for _, c := range cards {
			if err := deleteCard(txn, c); err != nil {
				return err
			}
		}
		if err := deleteIndexed(txn, deckSessionPrefix(deckID)); err != nil {
			return err
		}
		if err := txn.Delete(deckSourceKey(d.Source)); err != nil {
			return err
		}
		return txn.Delete(deckKey(deckID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete deck %s: %w", deckID, classify(err))
	}
	return nil
}

// SaveCard inserts a card or replaces its text, position and metadata.
func (s *Store) SaveCard(_ context.Context, c *domain.Flashcard) error {
	err := s.update(3, func(txn *badger.Txn) error {
		if _, err := txn.Get(deckKey(c.DeckID)); err != nil {
			return err
		}
		if err := txn.Set(deckCardKey(c.DeckID, c.ID), nil); err != nil {
			return err
		}
		return set(txn, cardKey(c.ID), c)
	})
	if err != nil {
		return fmt.Errorf("failed to save card %s: %w", c.ID, classify(err))
	}
	return nil
}

// GetCard retrieves a card by id.
func (s *Store) GetCard(_ context.Context, cardID string) (*domain.Flashcard, error) {
	var c domain.Flashcard
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, cardKey(cardID), &c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find card %s: %w", cardID, classify(err))
	}
	return &c, nil
}

// ListCards retrieves a deck's cards in deck order.
func (s *Store) ListCards(_ context.Context, deckID string) ([]domain.Flashcard, error) {
	var cards []domain.Flashcard
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		cards, err = deckCards(txn, deckID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for deck %s: %w", deckID, classify(err))
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Position != cards[j].Position {
			return cards[i].Position < cards[j].Position
		}
		return cards[i].ID < cards[j].ID
	})
	return cards, nil
}

// DeleteCard removes a card and every user's review state for it.
func (s *Store) DeleteCard(_ context.Context, cardID string) error {
	err := s.update(3, func(txn *badger.Txn) error {
		var c domain.Flashcard
		switch err := get(txn, cardKey(cardID), &c); {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return err
		}
		return deleteCard(txn, c)
	})
	if err != nil {
		return fmt.Errorf("failed to delete card with id %s: %w", cardID, classify(err))
	}
	return nil
}

func deleteCard(txn *badger.Txn, c domain.Flashcard) error {
	if err := deleteIndexed(txn, cardStatePrefix(c.ID)); err != nil {
		return err
	}
	if err := txn.Delete(deckCardKey(c.DeckID, c.ID)); err != nil {
		return err
	}
	return txn.Delete(cardKey(c.ID))
}

func deckCards(txn *badger.Txn, deckID string) ([]domain.Flashcard, error) {
	prefix := deckCardPrefix(deckID)
	var ids []string
	if err := scanPrefix(txn, prefix, func(item *badger.Item) error {
		ids = append(ids, strings.TrimPrefix(string(item.Key()), string(prefix)))
		return nil
	}); err != nil {
		return nil, err
	}

	cards := make([]domain.Flashcard, 0, len(ids))
	for _, id := range ids {
		var c domain.Flashcard
		if err := get(txn, cardKey(id), &c); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}
