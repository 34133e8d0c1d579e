package review

import (
	"context"

	"github.com/conorfennell/recall/internal/domain"
)

type userKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the authenticated user id or domain.ErrNotAuthenticated.
func UserFromContext(ctx context.Context) (string, error) {
	userID, _ := ctx.Value(userKey{}).(string)
	if userID == "" {
		return "", domain.ErrNotAuthenticated
	}
	return userID, nil
}
