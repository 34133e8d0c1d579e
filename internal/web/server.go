// Package web exposes the review service over JSON HTTP. Authentication is
// owned by the fronting application, which passes the user in X-User-ID.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conorfennell/recall/internal/deckimport"
	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/review"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// Server holds the dependencies for the HTTP server.
type Server struct {
	reviews  *review.Service
	importer *deckimport.Importer
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   *http.ServeMux
}

// NewServer creates and configures a new server. gatherer may be nil to
// disable /metrics.
func NewServer(reviews *review.Service, importer *deckimport.Importer, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		reviews:  reviews,
		importer: importer,
		gatherer: gatherer,
		logger:   logger,
		router:   http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	// Review routes
	s.router.Handle("GET /cards/{cardID}/review", s.authenticated(s.handleGetReviewState()))
	s.router.Handle("POST /cards/{cardID}/review", s.authenticated(s.handlePostReview()))
	s.router.Handle("GET /cards/{cardID}/preview", s.authenticated(s.handlePreview()))
	s.router.Handle("GET /decks/{deckID}/due", s.authenticated(s.handleGetDueCards()))
	s.router.Handle("GET /streak", s.authenticated(s.handleGetStreak()))

	// Session routes
	s.router.Handle("POST /decks/{deckID}/sessions", s.authenticated(s.handleStartSession()))
	s.router.Handle("GET /sessions/{sessionID}", s.authenticated(s.handleGetSession()))
	s.router.Handle("POST /sessions/{sessionID}/end", s.authenticated(s.handleEndSession()))

	// Source management routes
	s.router.Handle("GET /sources", s.authenticated(s.handleGetSources()))
	s.router.Handle("POST /sources", s.authenticated(s.handlePostSource()))
	s.router.Handle("DELETE /sources/{deckID}", s.authenticated(s.handleDeleteSource()))
	s.router.Handle("POST /sync", s.authenticated(s.handlePostSync()))

	if s.gatherer != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// authenticated puts the caller's user id into the request context.
// Requests without one reach the service, which rejects them.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get(UserHeader); userID != "" {
			r = r.WithContext(review.WithUser(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWith(w, r, err, "temporarily unavailable, try again")
}

// writeErrorWith is writeError with the message shown for store failures.
func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, unavailable string) {
	status, msg := http.StatusServiceUnavailable, unavailable
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		status, msg = http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, domain.ErrForbidden):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrInvalidQuality), errors.Is(err, domain.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrConflict):
		status, msg = http.StatusConflict, "the card was reviewed elsewhere, reload and try again"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: msg, Retryable: review.IsRetryable(err)})
}

// handleGetReviewState returns the caller's state for a card, creating it on first access.
func (s *Server) handleGetReviewState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.reviews.GetOrCreateReviewState(r.Context(), r.PathValue("cardID"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newStateResponse(state))
	}
}

type submitBody struct {
	Quality   *int   `json:"quality"`
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}

// handlePostReview grades a card.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body submitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Quality == nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be JSON with a quality"})
			return
		}

		state, err := s.reviews.SubmitReview(r.Context(), review.SubmitRequest{
			CardID:    r.PathValue("cardID"),
			Quality:   *body.Quality,
			RequestID: body.RequestID,
			SessionID: body.SessionID,
		})
		if err != nil {
			s.writeErrorWith(w, r, err, "couldn't save your review")
			return
		}
		s.writeJSON(w, http.StatusOK, newStateResponse(state))
	}
}

// handlePreview shows what each answer button would schedule.
func (s *Server) handlePreview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		preview, err := s.reviews.PreviewReview(r.Context(), r.PathValue("cardID"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, preview)
	}
}

// handleGetDueCards lists the deck's due cards, earliest first.
func (s *Server) handleGetDueCards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		due, err := s.reviews.GetDueCards(r.Context(), r.PathValue("deckID"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out := make([]dueCardResponse, 0, len(due))
		for _, d := range due {
			out = append(out, dueCardResponse{Card: newCardResponse(d.Card), State: newStateResponse(&d.State)})
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "cards": out})
	}
}

// handleGetStreak returns the caller's daily streak.
func (s *Server) handleGetStreak() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streak, err := s.reviews.GetStreak(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newStreakResponse(streak))
	}
}

func (s *Server) handleStartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.reviews.StartSession(r.Context(), r.PathValue("deckID"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, newSessionResponse(session))
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.reviews.GetSession(r.Context(), r.PathValue("sessionID"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newSessionResponse(session))
	}
}

func (s *Server) handleEndSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.reviews.EndSession(r.Context(), r.PathValue("sessionID"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newSessionResponse(session))
	}
}

// handleGetSources lists the registered deck sources.
func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := review.UserFromContext(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		decks, err := s.importer.SourcesFor(r.Context(), user)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out := make([]deckResponse, 0, len(decks))
		for _, d := range decks {
			out = append(out, newDeckResponse(d))
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

type sourceBody struct {
	Path       string `json:"path"`
	Visibility string `json:"visibility"`
}

// handlePostSource adds a new source owned by the caller.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := review.UserFromContext(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var body sourceBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
		deck, err := s.importer.AddSource(r.Context(), body.Path, user, domain.Visibility(body.Visibility))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, newDeckResponse(*deck))
	}
}

// handleDeleteSource deletes a deck the caller owns.
func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := review.UserFromContext(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.importer.RemoveSource(r.Context(), r.PathValue("deckID"), user); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostSync syncs the caller's decks in the foreground and reports per-deck results.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := review.UserFromContext(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		results, err := s.importer.SyncOwned(r.Context(), user)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out := make([]syncResponse, 0, len(results))
		for _, res := range results {
			out = append(out, newSyncResponse(res))
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}
