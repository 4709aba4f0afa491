package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const sessionIDKey ctxKey = "session_id"

// ContextWithSessionID attaches a recording-session ID to the context so that
// every component logging within the session carries it.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the session ID stored in ctx, or "".
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithComponentFromContext returns a component logger carrying the session ID
// from ctx when one is present.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := WithComponent(component)
	if sid := SessionIDFromContext(ctx); sid != "" {
		l = l.With().Str("session_id", sid).Logger()
	}
	return l
}
