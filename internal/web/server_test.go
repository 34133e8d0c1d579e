package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/recall/internal/deckimport"
	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/review"
	"github.com/conorfennell/recall/internal/storage/kv"
	"github.com/conorfennell/recall/internal/storage/storetest"
	"github.com/conorfennell/recall/internal/streak"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	storetest.Seed(t, store, "deck-1", "card-a", "card-b")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	svc := review.NewService(store, streak.NewTracker(store, nil, logger),
		review.WithLogger(logger),
		review.WithMetrics(review.NewMetrics(reg)),
	)
	importer := deckimport.New(store, t.TempDir(), logger)
	return NewServer(svc, importer, reg, logger)
}

func do(t *testing.T, s *Server, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func TestReviewRequiresUser(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/cards/card-a/review"},
		{http.MethodPost, "/cards/card-a/review"},
		{http.MethodGet, "/cards/card-a/preview"},
		{http.MethodGet, "/decks/deck-1/due"},
		{http.MethodGet, "/streak"},
		{http.MethodPost, "/decks/deck-1/sessions"},
		{http.MethodGet, "/sources"},
		{http.MethodPost, "/sources"},
		{http.MethodDelete, "/sources/deck-1"},
		{http.MethodPost, "/sync"},
	} {
		rr := do(t, s, tc.method, tc.path, "", map[string]int{"quality": 4})
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", tc.method, tc.path)
	}
}

func TestSubmitAndReadReview(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s, http.MethodPost, "/cards/card-a/review", "u1", map[string]int{"quality": 5})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	submitted := decode[stateResponse](t, rr)
	assert.Equal(t, "card-a", submitted.CardID)
	assert.Equal(t, 2.6, submitted.EasinessFactor)
	assert.Equal(t, 1, submitted.IntervalDays)
	assert.Equal(t, 1, submitted.Repetitions)
	assert.Equal(t, int64(2), submitted.Version)
	require.Len(t, submitted.History, 1)
	require.NotNil(t, submitted.LastReviewed)

	rr = do(t, s, http.MethodGet, "/cards/card-a/review", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	fetched := decode[stateResponse](t, rr)
	assert.Equal(t, submitted.Version, fetched.Version)
	assert.True(t, submitted.NextReviewDate.Equal(fetched.NextReviewDate))

	rr = do(t, s, http.MethodGet, "/cards/card-a/review", "u2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, decode[stateResponse](t, rr).TotalReviews)
}

func TestSubmitReviewErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"malformed body", "/cards/card-a/review", "{", http.StatusBadRequest},
		{"missing quality", "/cards/card-a/review", map[string]string{"request_id": uuid.NewString()}, http.StatusBadRequest},
		{"bad request id", "/cards/card-a/review", map[string]any{"quality": 3, "request_id": "abc"}, http.StatusBadRequest},
		{"unknown card", "/cards/nope/review", map[string]int{"quality": 3}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, tt.path, "u1", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rr).Error)
		})
	}
}

func TestSubmitReviewIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"quality": 0, "request_id": uuid.NewString()}

	first := do(t, s, http.MethodPost, "/cards/card-a/review", "u1", body)
	require.Equal(t, http.StatusOK, first.Code)
	second := do(t, s, http.MethodPost, "/cards/card-a/review", "u1", body)
	require.Equal(t, http.StatusOK, second.Code)

	got := decode[stateResponse](t, second)
	assert.Equal(t, 1, got.TotalReviews)
	assert.Equal(t, 1, got.TotalIncorrect)
}

func TestDueCardsPreviewAndStreak(t *testing.T) {
	s := newTestServer(t)

	type dueList struct {
		Count int               `json:"count"`
		Cards []dueCardResponse `json:"cards"`
	}
	rr := do(t, s, http.MethodGet, "/decks/deck-1/due", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decode[dueList](t, rr).Count)

	rr = do(t, s, http.MethodGet, "/cards/card-a/preview", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	p := decode[review.Preview](t, rr)
	assert.Equal(t, 1, p.Intervals.Good)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/cards/card-a/review", "u1", map[string]int{"quality": 4}).Code)

	rr = do(t, s, http.MethodGet, "/decks/deck-1/due", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	due := decode[dueList](t, rr)
	require.Equal(t, 1, due.Count)
	assert.Equal(t, "card-b", due.Cards[0].Card.ID)
	assert.Equal(t, "front card-b", due.Cards[0].Card.Front)

	rr = do(t, s, http.MethodGet, "/decks/nope/due", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, s, http.MethodGet, "/streak", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[streakResponse](t, rr)
	assert.Equal(t, 1, st.CurrentStreak)
	assert.NotNil(t, st.LastReviewDate)

	rr = do(t, s, http.MethodGet, "/streak", "u2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decode[streakResponse](t, rr).LastReviewDate)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s, http.MethodPost, "/decks/deck-1/sessions", "u1", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	sess := decode[sessionResponse](t, rr)
	assert.Nil(t, sess.EndedAt)

	body := map[string]any{"quality": 5, "session_id": sess.ID}
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/cards/card-a/review", "u1", body).Code)

	rr = do(t, s, http.MethodPost, "/sessions/"+sess.ID+"/end", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	ended := decode[sessionResponse](t, rr)
	assert.Equal(t, 1, ended.Reviewed)
	assert.Equal(t, 1, ended.Correct)
	assert.NotNil(t, ended.EndedAt)

	rr = do(t, s, http.MethodGet, "/sessions/"+sess.ID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSourceManagement(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cards.md"), []byte("Q: a\nA: b\n\nQ: c\nA: d\n"), 0o644))

	rr := do(t, s, http.MethodPost, "/sources", "alice", sourceBody{Path: dir, Visibility: "public"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	deck := decode[deckResponse](t, rr)
	assert.Equal(t, "public", deck.Visibility)
	assert.Equal(t, "alice", deck.Owner)
	assert.Nil(t, deck.LastSynced)

	rr = do(t, s, http.MethodPost, "/sources", "bob", sourceBody{Path: dir})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, s, http.MethodPost, "/sync", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	results := decode[[]syncResponse](t, rr)
	require.Len(t, results, 1, "only the caller's decks are synced")
	assert.Equal(t, deck.ID, results[0].DeckID)
	assert.Equal(t, 2, results[0].Parsed)
	assert.Empty(t, results[0].Errors)

	// deck-1 is private to "owner"; alice sees only her own public deck.
	rr = do(t, s, http.MethodGet, "/sources", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]deckResponse](t, rr), 1)
	rr = do(t, s, http.MethodGet, "/sources", "owner", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]deckResponse](t, rr), 2)

	rr = do(t, s, http.MethodGet, "/decks/"+deck.ID+"/due", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/sources/deck-1", "alice", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodDelete, "/sources/"+deck.ID, "bob", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/sources/"+deck.ID, "alice", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/sources/"+deck.ID, "alice", nil).Code)

	rr = do(t, s, http.MethodGet, "/cards/card-a/review", "u1", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "other decks are untouched")

	rr = do(t, s, http.MethodPost, "/sources", "alice", sourceBody{Path: "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWriteError(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		err       error
		status    int
		retryable bool
		message   string
	}{
		{fmt.Errorf("save: %w", domain.ErrConflict), http.StatusConflict, true, ""},
		{fmt.Errorf("save: %w", domain.ErrTransient), http.StatusServiceUnavailable, true, "temporarily unavailable, try again"},
		{errors.New("disk on fire"), http.StatusServiceUnavailable, false, "temporarily unavailable, try again"},
		{domain.ErrNotAuthenticated, http.StatusUnauthorized, false, ""},
		{fmt.Errorf("deck: %w", domain.ErrForbidden), http.StatusForbidden, false, ""},
		{fmt.Errorf("%w: 9", domain.ErrInvalidQuality), http.StatusBadRequest, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rr.Code)
			resp := decode[errorResponse](t, rr)
			assert.Equal(t, tt.retryable, resp.Retryable)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error)
			}
		})
	}
}

func TestWriteErrorWithSubmitMessage(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.writeErrorWith(rr, httptest.NewRequest(http.MethodPost, "/cards/card-a/review", nil), errors.New("disk on fire"), "couldn't save your review")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "couldn't save your review", decode[errorResponse](t, rr).Error)

	rr = httptest.NewRecorder()
	s.writeErrorWith(rr, httptest.NewRequest(http.MethodPost, "/cards/card-a/review", nil), domain.ErrNotFound, "couldn't save your review")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not found", decode[errorResponse](t, rr).Error)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/cards/card-a/review", "u1", map[string]int{"quality": 3}).Code)

	rr := do(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `recall_reviews_total{result="applied"} 1`)
}
