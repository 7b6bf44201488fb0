package service

import "context"

type ctxKey string

const callerKey ctxKey = "dt.caller"

// Caller identifies who is probing codes, for rate limiting.
type Caller struct {
	UserID string
	IP     string
}

// WithCaller stores the authenticated caller in context.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromCtx fetches the caller from context.
func CallerFromCtx(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}
