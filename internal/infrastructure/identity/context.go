package identity

import "context"

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated caller's ID
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the caller ID placed by WithUserID, or ""
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
