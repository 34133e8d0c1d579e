package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/sm2"
)

// Service schedules reviews for the user carried in the request context.
type Service struct {
	store    Store
	streaks  StreakTracker
	validate *validator.Validate
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	strict   bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStrictQuality rejects quality scores outside [0,5] instead of clamping them.
func WithStrictQuality(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

// NewService creates a Service. streaks may be nil.
func NewService(store Store, streaks StreakTracker, opts ...Option) *Service {
	s := &Service{
		store:    store,
		streaks:  streaks,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// SubmitRequest is a single graded review.
type SubmitRequest struct {
	CardID    string `json:"card_id" validate:"required"`
	Quality   int    `json:"quality"`
	RequestID string `json:"request_id,omitempty" validate:"omitempty,uuid"`
	SessionID string `json:"session_id,omitempty"`
}

// GetOrCreateReviewState returns the caller's state for the card, creating
// the initial state, due now, if the card was never reviewed.
func (s *Service) GetOrCreateReviewState(ctx context.Context, cardID string) (*domain.ReviewState, error) {
	userID, err := UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.getOrCreate(ctx, userID, cardID)
}

func (s *Service) getOrCreate(ctx context.Context, userID, cardID string) (*domain.ReviewState, error) {
	state, err := s.store.GetReviewState(ctx, userID, cardID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if _, err := s.store.GetCard(ctx, cardID); err != nil {
		return nil, fmt.Errorf("card %s: %w", cardID, err)
	}
	init := NewState(userID, cardID, s.now())
	return s.store.CreateReviewState(ctx, &init)
}

// SubmitReview grades the card and persists the next state in one
// conditional write. A concurrent submission for the same card makes one
// of them fail with domain.ErrConflict; reload and resubmit to recover.
// A request id that was already applied returns the stored state unchanged.
func (s *Service) SubmitReview(ctx context.Context, req SubmitRequest) (*domain.ReviewState, error) {
	start := time.Now()
	defer func() { s.metrics.duration.Observe(time.Since(start).Seconds()) }()

	userID, err := UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if s.strict && !sm2.ValidQuality(req.Quality) {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuality, req.Quality)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	current, err := s.getOrCreate(ctx, userID, req.CardID)
	if err != nil {
		s.metrics.reviews.WithLabelValues(resultError).Inc()
		return nil, err
	}
	if current.HasRequest(req.RequestID) {
		s.metrics.reviews.WithLabelValues(resultDuplicate).Inc()
		s.logger.Info("review already applied", "user", userID, "card", req.CardID, "request_id", req.RequestID)
		return current, nil
	}

	now := s.now()
	next := Apply(*current, req.Quality, req.RequestID, now)
	if err := s.store.UpdateReviewState(ctx, &next, current.Version); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.reviews.WithLabelValues(resultConflict).Inc()
			s.logger.Warn("review lost a concurrent update", "user", userID, "card", req.CardID, "version", current.Version)
		} else {
			s.metrics.reviews.WithLabelValues(resultError).Inc()
			s.logger.Error("failed to save review", "user", userID, "card", req.CardID, "error", err)
		}
		return nil, err
	}
	s.metrics.reviews.WithLabelValues(resultApplied).Inc()

	s.afterReview(ctx, userID, req.SessionID, next, now)
	return &next, nil
}

// afterReview runs the side effects that are not part of the review write.
// Failures are logged and never undo the review.
func (s *Service) afterReview(ctx context.Context, userID, sessionID string, state domain.ReviewState, now time.Time) {
	if s.streaks != nil {
		if _, err := s.streaks.RecordActivity(ctx, userID, now); err != nil {
			s.logger.Warn("failed to record streak activity", "user", userID, "error", err)
		}
	}
	if sessionID != "" {
		correct := state.History[len(state.History)-1].Quality >= sm2.PassingQuality
		if err := s.store.RecordSessionReview(ctx, userID, sessionID, correct); err != nil {
			s.logger.Warn("failed to tally session review", "user", userID, "session", sessionID, "error", err)
		}
	}
}

// GetDueCards returns the deck's cards due now, earliest first. Cards the
// caller never reviewed are included with their initial, unsaved state.
func (s *Service) GetDueCards(ctx context.Context, deckID string) ([]domain.DueCard, error) {
	userID, err := UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetDeck(ctx, deckID); err != nil {
		return nil, fmt.Errorf("deck %s: %w", deckID, err)
	}

	now := s.now()
	rows, err := s.store.ListDeckReviews(ctx, userID, deckID, now)
	if err != nil {
		return nil, err
	}

	cards := make([]domain.DueCard, 0, len(rows))
	for _, r := range rows {
		state := NewState(userID, r.Card.ID, now)
		if r.State != nil {
			state = *r.State
		}
		cards = append(cards, domain.DueCard{Card: r.Card, State: state})
	}
	cards = FilterDueCards(cards, now)
	SortByDueDate(cards)

	s.metrics.dueCards.Observe(float64(len(cards)))
	return cards, nil
}

// Preview describes what each answer button would do, without committing.
type Preview struct {
	CardID     string         `json:"card_id"`
	Intervals  sm2.Preview    `json:"intervals"`
	Retention  float64        `json:"retention"`
	Difficulty sm2.Difficulty `json:"difficulty"`
}

// PreviewReview reports the intervals the caller would get for each answer.
// It never creates or modifies state.
func (s *Service) PreviewReview(ctx context.Context, cardID string) (*Preview, error) {
	userID, err := UserFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	state, err := s.store.GetReviewState(ctx, userID, cardID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if _, err := s.store.GetCard(ctx, cardID); err != nil {
			return nil, fmt.Errorf("card %s: %w", cardID, err)
		}
		init := NewState(userID, cardID, now)
		state = &init
	case err != nil:
		return nil, err
	}

	days := 0.0
	if state.LastReviewed != nil {
		days = math.Max(now.Sub(*state.LastReviewed).Hours()/24, 0)
	}
	return &Preview{
		CardID: cardID,
		Intervals: sm2.PreviewIntervals(sm2.State{
			EasinessFactor: state.EasinessFactor,
			IntervalDays:   state.IntervalDays,
			Repetitions:    state.Repetitions,
		}),
		Retention:  sm2.EstimateRetention(days, state.EasinessFactor),
		Difficulty: sm2.DifficultyCategory(state.EasinessFactor),
	}, nil
}

// GetStreak returns the caller's streak, zero-valued if they never reviewed.
func (s *Service) GetStreak(ctx context.Context) (*domain.ReviewStreak, error) {
	userID, err := UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if s.streaks == nil {
		return &domain.ReviewStreak{UserID: userID}, nil
	}
	return s.streaks.GetStreak(ctx, userID)
}

// StartSession opens a review session over a deck.
func (s *Service) StartSession(ctx context.Context, deckID string) (*domain.ReviewSession, error) {
	userID, err := UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetDeck(ctx, deckID); err != nil {
		return nil, fmt.Errorf("deck %s: %w", deckID, err)
	}
	session := &domain.ReviewSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		DeckID:    deckID,
		StartedAt: s.now(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// EndSession closes one of the caller's sessions and returns its tally.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*domain.ReviewSession, error) {
	userID, err := UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.EndSession(ctx, userID, sessionID, s.now())
}

// GetSession returns one of the caller's sessions.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.ReviewSession, error) {
	userID, err := UserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, userID, sessionID)
}
