package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextRiderKey ctxKey = "riderID"

func RiderIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if riderID, ok := ctx.Value(ContextRiderKey).(string); ok {
		return riderID
	}
	return ""
}

func ContextWithRiderID(ctx context.Context, riderID string) context.Context {
	return context.WithValue(ctx, ContextRiderKey, riderID)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
