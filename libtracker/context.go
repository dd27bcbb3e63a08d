package libtracker

import (
	"context"
	"fmt"
	"math/rand/v2"
)

type contextKey string

var (
	ContextKeyRequestID = contextKey("request_id")
	ContextKeyIdentity  = contextKey("identity")
)

// CopyTrackingValues carries the request ID and acting identity of src over to dst.
// Background work spawned from a request uses it to detach from the request's cancellation.
func CopyTrackingValues(src context.Context, dst context.Context) context.Context {
	ctx := context.WithValue(dst, ContextKeyRequestID, src.Value(ContextKeyRequestID))
	return context.WithValue(ctx, ContextKeyIdentity, src.Value(ContextKeyIdentity))
}

// WithNewRequestID stamps a fresh random request ID into ctx.
// CLI commands and background loops call it so their log lines can be correlated.
func WithNewRequestID(ctx context.Context) context.Context {
	return WithRequestID(ctx, fmt.Sprintf("cli-%016x", rand.Uint64()))
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

func Identity(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyIdentity).(string)
	return id
}
