package cdp

import "context"

type ctxKey int

const (
	ctxKeySessionID ctxKey = iota
)

// WithSessionID returns a context routing CDP commands to the target
// attached with sessionID. Without a session ID, commands go to the
// browser target.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, sessionID)
}

// GetSessionID returns the session ID attached to ctx, if any.
func GetSessionID(ctx context.Context) string {
	v := ctx.Value(ctxKeySessionID)
	if sid, ok := v.(string); ok {
		return sid
	}
	return ""
}
