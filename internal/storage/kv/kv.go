// Package kv is the BadgerDB implementation of the review, streak and
// deck-import stores.
//
// Keys:
//
//	deck/<deck>             JSON domain.Deck
//	decksrc/<source>        deck id
//	card/<card>             JSON domain.Flashcard
//	deckcard/<deck>/<card>  empty, deck membership index
//	state/<user>/<card>     JSON domain.ReviewState
//	cardstate/<card>/<user> state key, reverse index for card deletion
//	streak/<user>           JSON domain.ReviewStreak
//	session/<user>/<id>     JSON domain.ReviewSession
//	decksession/<deck>/<user>/<id>  session key, reverse index for deck deletion
//
// Every write runs in a badger transaction; badger's optimistic conflict
// detection surfaces as domain.ErrConflict.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/conorfennell/recall/internal/domain"
)

// Config holds configuration for the badger store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// Store is a badger-backed store.
type Store struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens a badger store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func deckKey(id string) []byte           { return []byte("deck/" + id) }
func deckSourceKey(src string) []byte    { return []byte("decksrc/" + src) }
func cardKey(id string) []byte           { return []byte("card/" + id) }
func deckCardPrefix(deck string) []byte  { return []byte("deckcard/" + deck + "/") }
func deckCardKey(deck, id string) []byte { return []byte("deckcard/" + deck + "/" + id) }
func stateKey(user, card string) []byte  { return []byte("state/" + user + "/" + card) }
func streakKey(user string) []byte       { return []byte("streak/" + user) }
func sessionKey(user, id string) []byte  { return []byte("session/" + user + "/" + id) }

func cardStatePrefix(card string) []byte    { return []byte("cardstate/" + card + "/") }
func cardStateKey(card, user string) []byte { return []byte("cardstate/" + card + "/" + user) }
func deckSessionPrefix(deck string) []byte  { return []byte("decksession/" + deck + "/") }
func deckSessionKey(deck, user, id string) []byte {
	return []byte("decksession/" + deck + "/" + user + "/" + id)
}

// classify maps badger errors onto the domain sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	case errors.Is(err, badger.ErrBlockedWrites), errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}

func get(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func set(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, b)
}

// update runs fn in a read-write transaction, retrying commit conflicts
// until attempts run out.
func (s *Store) update(attempts int, fn func(txn *badger.Txn) error) error {
	var err error
	for range max(attempts, 1) {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return err
}

func decodeItem(item *badger.Item, v any) error {
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func scanPrefix(txn *badger.Txn, prefix []byte, fn func(item *badger.Item) error) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

// deleteIndexed deletes every index key under prefix together with the
// primary key stored as its value.
func deleteIndexed(txn *badger.Txn, prefix []byte) error {
	var doomed [][]byte
	if err := scanPrefix(txn, prefix, func(item *badger.Item) error {
		target, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		doomed = append(doomed, item.KeyCopy(nil), target)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range doomed {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
