package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/recall/internal/config"
	"github.com/conorfennell/recall/internal/domain"
)

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, cfg := range []config.StoreConfig{
		{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "recall.db")},
		{Driver: "badger", BadgerInMemory: true},
	} {
		t.Run(cfg.Driver, func(t *testing.T) {
			store, err := openStore(cfg, logger)
			require.NoError(t, err)
			defer store.Close()

			_, err = store.GetDeck(context.Background(), "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = newLogger(config.LogConfig{Level: "warn", Format: "text"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
