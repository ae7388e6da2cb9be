package clients

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID attaches the acting user's id to the context. Outgoing
// requests turn it into the X-User-ID header.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the user id from the context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
