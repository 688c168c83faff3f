// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the caller's user id, set by the upstream
// authentication proxy. Requests without it are anonymous.
const UserIDHeader = "X-User-ID"

// userIDKey is the context key for the user ID.
type userIDKey struct{}

// UserID is middleware that attaches the optional user id to the context.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
			r = r.WithContext(NewContextWithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// NewContextWithUserID returns a context carrying the user id.
func NewContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext extracts the user ID from the context, or nil for
// anonymous requests.
func UserIDFromContext(ctx context.Context) *string {
	if v, ok := ctx.Value(userIDKey{}).(string); ok && v != "" {
		return &v
	}
	return nil
}
