package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/review"
	"github.com/conorfennell/recall/internal/web"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addSourceCmd = &cobra.Command{
		Use:   "add-source <path/or/url.git>",
		Short: "Register a directory or git repository of markdown cards as a deck",
		Args:  cobra.ExactArgs(1),
		RunE:  runAddSource,
	}
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Import cards from every registered source",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
	dueCmd = &cobra.Command{
		Use:   "due <deck-id>",
		Short: "List the cards due now in a deck",
		Args:  cobra.ExactArgs(1),
		RunE:  runDue,
	}
	reviewCmd = &cobra.Command{
		Use:   "review <card-id> <quality 0-5>",
		Short: "Grade a card",
		Args:  cobra.ExactArgs(2),
		RunE:  runReview,
	}
	previewCmd = &cobra.Command{
		Use:   "preview <card-id>",
		Short: "Show the interval each answer would schedule",
		Args:  cobra.ExactArgs(1),
		RunE:  runPreview,
	}
	streakCmd = &cobra.Command{
		Use:   "streak",
		Short: "Show the daily review streak",
		Args:  cobra.NoArgs,
		RunE:  runStreak,
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, addSourceCmd, syncCmd, dueCmd, reviewCmd, previewCmd, streakCmd)

	addSourceCmd.Flags().String("owner", "", "Owner of the new deck")
	addSourceCmd.Flags().Bool("public", false, "Make the deck public")
	_ = addSourceCmd.MarkFlagRequired("owner")

	for _, c := range []*cobra.Command{dueCmd, reviewCmd, previewCmd, streakCmd} {
		c.Flags().String("user", "", "User to act as")
	}
	reviewCmd.Flags().String("request-id", "", "Idempotency token (UUID); reuse it when retrying")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           web.NewServer(a.reviews, a.importer, a.registry, a.logger.With("component", "web")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", a.cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runAddSource(cmd *cobra.Command, args []string) error {
	owner, _ := cmd.Flags().GetString("owner")
	public, _ := cmd.Flags().GetBool("public")
	visibility := domain.VisibilityPrivate
	if public {
		visibility = domain.VisibilityPublic
	}

	deck, err := a.importer.AddSource(cmd.Context(), args[0], owner, visibility)
	if err != nil {
		return err
	}
	cmd.Printf("Deck %s (%s) tracks %s\n", deck.ID, deck.Title, deck.Source)
	return nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	results, err := a.importer.SyncAll(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range results {
		cmd.Printf("%s: %d cards, %d removed, %d errors\n", r.DeckID, r.Parsed, r.Removed, len(r.Errors))
		for _, e := range r.Errors {
			cmd.Printf("  - %s\n", e)
		}
	}
	return nil
}

func runDue(cmd *cobra.Command, args []string) error {
	ctx, err := userContext(cmd)
	if err != nil {
		return err
	}
	due, err := a.reviews.GetDueCards(ctx, args[0])
	if err != nil {
		return err
	}
	cmd.Printf("%d cards due.\n", len(due))
	for _, d := range due {
		cmd.Printf("%s  %s  %s\n", d.State.NextReviewDate.Format(time.DateOnly), d.Card.ID, d.Card.Front)
	}
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx, err := userContext(cmd)
	if err != nil {
		return err
	}
	quality, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid quality %q: %w", args[1], err)
	}
	requestID, _ := cmd.Flags().GetString("request-id")

	req := review.SubmitRequest{CardID: args[0], Quality: quality, RequestID: requestID}
	if req.RequestID == "" {
		// One token for every attempt so a retry never applies the review twice.
		req.RequestID = uuid.NewString()
	}
	state, err := review.Retry(ctx, a.retryPolicy(), func() (*domain.ReviewState, error) {
		return a.reviews.SubmitReview(ctx, req)
	})
	if err != nil {
		return fmt.Errorf("couldn't save your review: %w", err)
	}
	cmd.Printf("EF %.2f, interval %d days, next review %s\n",
		state.EasinessFactor, state.IntervalDays, state.NextReviewDate.Format(time.DateOnly))
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx, err := userContext(cmd)
	if err != nil {
		return err
	}
	p, err := a.reviews.PreviewReview(ctx, args[0])
	if err != nil {
		return err
	}
	cmd.Printf("again %dd  hard %dd  good %dd  easy %dd  (retention %.0f%%, %s)\n",
		p.Intervals.Again, p.Intervals.Hard, p.Intervals.Good, p.Intervals.Easy, p.Retention*100, p.Difficulty)
	return nil
}

func runStreak(cmd *cobra.Command, _ []string) error {
	ctx, err := userContext(cmd)
	if err != nil {
		return err
	}
	s, err := a.reviews.GetStreak(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Current streak %d, longest %d, %d review days\n", s.CurrentStreak, s.LongestStreak, s.TotalReviewDays)
	return nil
}
