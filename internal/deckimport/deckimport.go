// Package deckimport populates decks from markdown card files kept in local
// directories or git repositories. One source is one deck.
package deckimport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/recall/internal/cardkey"
	"github.com/conorfennell/recall/internal/deckimport/parser"
	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/gitsource"
)

// Store persists decks and cards.
type Store interface {
	SaveDeck(ctx context.Context, d *domain.Deck) error
	GetDeck(ctx context.Context, deckID string) (*domain.Deck, error)
	GetDeckBySource(ctx context.Context, source string) (*domain.Deck, error)
	ListDecks(ctx context.Context) ([]domain.Deck, error)
	MarkDeckSynced(ctx context.Context, deckID string, at time.Time) error
	DeleteDeck(ctx context.Context, deckID string) error

	SaveCard(ctx context.Context, c *domain.Flashcard) error
	ListCards(ctx context.Context, deckID string) ([]domain.Flashcard, error)
	DeleteCard(ctx context.Context, cardID string) error
}

// FetchFunc brings a git source up to date at localPath.
type FetchFunc func(ctx context.Context, logger *slog.Logger, repoURL, localPath string) error

// Importer reconciles decks with their sources.
type Importer struct {
	store    Store
	reposDir string
	logger   *slog.Logger
	fetch    FetchFunc
}

// New creates an Importer that checks out git sources under reposDir.
func New(store Store, reposDir string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, reposDir: reposDir, logger: logger, fetch: gitsource.Sync}
}

// WithFetch replaces the git fetcher.
func (im *Importer) WithFetch(fetch FetchFunc) *Importer {
	im.fetch = fetch
	return im
}

// Result summarizes one deck reconciliation.
type Result struct {
	DeckID  string
	Source  string
	Parsed  int
	Removed int
	Errors  []error
}

// AddSource registers a source as a new deck owned by owner. Adding a
// source the owner already tracks returns its existing deck; a source
// tracked by someone else is ErrForbidden.
func (im *Importer) AddSource(ctx context.Context, source, owner string, visibility domain.Visibility) (*domain.Deck, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: source cannot be empty", domain.ErrInvalidRequest)
	}
	if owner == "" {
		return nil, fmt.Errorf("%w: owner cannot be empty", domain.ErrInvalidRequest)
	}
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}

	existing, err := im.store.GetDeckBySource(ctx, source)
	if err == nil {
		if existing.Owner != owner {
			return nil, fmt.Errorf("%w: source is tracked by another user", domain.ErrForbidden)
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	d := &domain.Deck{
		ID:         cardkey.DeckID(source),
		Title:      deckTitle(source),
		Owner:      owner,
		Visibility: visibility,
		Source:     source,
	}
	if err := im.store.SaveDeck(ctx, d); err != nil {
		return nil, err
	}
	im.logger.Info("source added", "deck", d.ID, "source", source, "owner", owner)
	return d, nil
}

// RemoveSource deletes a deck owned by owner, with its cards and all review
// state for them. Private decks of other users are reported as not found.
func (im *Importer) RemoveSource(ctx context.Context, deckID, owner string) error {
	d, err := im.store.GetDeck(ctx, deckID)
	if err != nil {
		return err
	}
	if d.Owner != owner {
		if d.Visibility != domain.VisibilityPublic {
			return fmt.Errorf("deck %s: %w", deckID, domain.ErrNotFound)
		}
		return fmt.Errorf("deck %s belongs to another user: %w", deckID, domain.ErrForbidden)
	}
	if err := im.store.DeleteDeck(ctx, deckID); err != nil {
		return err
	}
	im.logger.Info("source removed", "deck", deckID, "owner", owner)
	return nil
}

// Sources returns every registered deck.
func (im *Importer) Sources(ctx context.Context) ([]domain.Deck, error) {
	return im.store.ListDecks(ctx)
}

// SourcesFor returns the decks visible to user: their own and public ones.
func (im *Importer) SourcesFor(ctx context.Context, user string) ([]domain.Deck, error) {
	decks, err := im.store.ListDecks(ctx)
	if err != nil {
		return nil, err
	}
	visible := decks[:0]
	for _, d := range decks {
		if d.Owner == user || d.Visibility == domain.VisibilityPublic {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

// SyncAll iterates over all sources and reconciles them. A failing source
// is logged and does not stop the others.
func (im *Importer) SyncAll(ctx context.Context) ([]Result, error) {
	im.logger.Info("starting sync for all sources")
	decks, err := im.store.ListDecks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	return im.syncDecks(ctx, decks), nil
}

// SyncOwned reconciles only the decks owned by owner.
func (im *Importer) SyncOwned(ctx context.Context, owner string) ([]Result, error) {
	decks, err := im.store.ListDecks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	owned := decks[:0]
	for _, d := range decks {
		if d.Owner == owner {
			owned = append(owned, d)
		}
	}
	return im.syncDecks(ctx, owned), nil
}

func (im *Importer) syncDecks(ctx context.Context, decks []domain.Deck) []Result {
	if len(decks) == 0 {
		im.logger.Info("no sources configured, add one with add-source <path/or/url.git>")
		return nil
	}

	results := make([]Result, 0, len(decks))
	for _, d := range decks {
		res, err := im.SyncDeck(ctx, d)
		if err != nil {
			im.logger.Error("failed to sync source", "deck", d.ID, "source", d.Source, "error", err)
			res.Errors = append(res.Errors, err)
		}
		results = append(results, res)
	}
	im.logger.Info("sync complete", "sources", len(decks))
	return results
}

// SyncDeck reconciles one deck with its source: new and changed cards are
// saved and cards no longer present are deleted. When any file fails to
// parse or any card fails to save, nothing is deleted, since the missing
// cards may still be in the source.
func (im *Importer) SyncDeck(ctx context.Context, d domain.Deck) (Result, error) {
	res := Result{DeckID: d.ID, Source: d.Source}

	dir := d.Source
	if gitsource.IsGitSource(d.Source) {
		localPath, err := gitsource.LocalPath(im.reposDir, d.Source)
		if err != nil {
			return res, err
		}
		if err := im.fetch(ctx, im.logger, d.Source, localPath); err != nil {
			return res, err
		}
		dir = localPath
	}

	found := make(map[string]bool)
	position := 0
	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
			return nil
		}

		cards, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			res.Errors = append(res.Errors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		for _, card := range cards {
			card.ID = cardkey.CardID(d.ID, card.Front, card.Back)
			card.DeckID = d.ID
			card.Position = position
			position++
			res.Parsed++
			found[card.ID] = true

			if err := im.store.SaveCard(ctx, &card); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("db save for %s: %w", card.ID, err))
			}
		}
		return nil
	})
	if walkErr != nil {
		return res, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}

	if len(res.Errors) > 0 {
		im.logger.Warn("skipping orphan removal after errors", "deck", d.ID, "errors", len(res.Errors))
		im.logResult(d.ID, dir, res)
		return res, nil
	}

	stored, err := im.store.ListCards(ctx, d.ID)
	if err != nil {
		return res, fmt.Errorf("error getting cards for deck %s: %w", d.ID, err)
	}
	for _, c := range stored {
		if found[c.ID] {
			continue
		}
		im.logger.Info("orphaned card, deleting", "card", c.ID)
		if err := im.store.DeleteCard(ctx, c.ID); err != nil {
			im.logger.Warn("failed to delete orphaned card", "card", c.ID, "error", err)
			continue
		}
		res.Removed++
	}

	if err := im.store.MarkDeckSynced(ctx, d.ID, time.Now().UTC()); err != nil {
		im.logger.Warn("failed to update last synced for deck", "deck", d.ID, "error", err)
	}

	im.logResult(d.ID, dir, res)
	return res, nil
}

func (im *Importer) logResult(deckID, dir string, res Result) {
	im.logger.Info("reconciliation complete",
		"deck", deckID,
		"path", dir,
		"parsed_cards", res.Parsed,
		"orphaned_deleted", res.Removed,
		"errors", len(res.Errors),
	)
}

func deckTitle(source string) string {
	base := filepath.Base(strings.TrimSuffix(strings.TrimRight(source, "/"), ".git"))
	if base == "." || base == string(os.PathSeparator) {
		return source
	}
	return base
}
