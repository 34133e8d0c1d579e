package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/conorfennell/recall/internal/config"
	"github.com/conorfennell/recall/internal/deckimport"
	"github.com/conorfennell/recall/internal/review"
	"github.com/conorfennell/recall/internal/storage"
	"github.com/conorfennell/recall/internal/storage/kv"
	"github.com/conorfennell/recall/internal/streak"
)

// backend is satisfied by both storage implementations.
type backend interface {
	review.Store
	streak.Store
	deckimport.Store
	io.Closer
}

// app is the wiring shared by every command, built in PersistentPreRunE.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    backend
	registry *prometheus.Registry
	reviews  *review.Service
	importer *deckimport.Importer
}

var a app

var rootCmd = &cobra.Command{
	Use:           "recall",
	Short:         "Spaced-repetition review engine built on SM-2",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return a.setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	},
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.Log)
	slog.SetDefault(a.logger)

	a.store, err = openStore(cfg.Store, a.logger)
	if err != nil {
		return err
	}
	a.logger.Debug("store opened", "driver", cfg.Store.Driver)

	loc, err := time.LoadLocation(cfg.Streak.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load time zone %s: %w", cfg.Streak.Timezone, err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tracker := streak.NewTracker(a.store, loc, a.logger.With("component", "streak"))
	a.reviews = review.NewService(a.store, tracker,
		review.WithLogger(a.logger.With("component", "review")),
		review.WithMetrics(review.NewMetrics(a.registry)),
		review.WithStrictQuality(cfg.Review.StrictQuality),
	)
	a.importer = deckimport.New(a.store, cfg.Import.ReposDir, a.logger.With("component", "import"))
	return nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (backend, error) {
	if cfg.Driver == "badger" {
		s, err := kv.Open(kv.Config{
			Path:       cfg.BadgerPath,
			InMemory:   cfg.BadgerInMemory,
			SyncWrites: true,
			Logger:     logger.With("component", "badger"),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	db, err := storage.Open(cfg.DSN)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// userContext returns a context carrying the --user flag.
func userContext(cmd *cobra.Command) (context.Context, error) {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return nil, fmt.Errorf("--user is required")
	}
	return review.WithUser(cmd.Context(), user), nil
}

func (a *app) retryPolicy() review.RetryPolicy {
	p := review.DefaultRetryPolicy()
	p.MaxAttempts = a.cfg.Review.MaxAttempts
	return p
}
