// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// The execution substrate (middleware in the HTTP deployment) supplies a
// verified caller principal and a monotonic logical clock value per call.
// Services read both from the context so they stay transport-agnostic.
//
// Usage in services (read values):
//
//	caller := requestcontext.Caller(ctx)
//	now := requestcontext.Clock(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithCaller(ctx, principal)
//	ctx = requestcontext.WithClock(ctx, tick)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithCaller(ctx, "regulator-1")
//	ctx = requestcontext.WithClock(ctx, 100)
package requestcontext

import (
	"context"

	id "pharmatrace/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	callerKey    struct{}
	clockKey     struct{}
	requestIDKey struct{}
)

// Caller retrieves the authenticated principal from the context.
// Returns the zero Principal if not set (unauthenticated call).
func Caller(ctx context.Context) id.Principal {
	if p, ok := ctx.Value(callerKey{}).(id.Principal); ok {
		return p
	}
	return ""
}

// WithCaller injects the verified caller principal into the context.
func WithCaller(ctx context.Context, caller id.Principal) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Clock retrieves the logical clock value stamped on this call.
// Returns 0 if not set (tests that don't care about time).
func Clock(ctx context.Context) uint64 {
	if t, ok := ctx.Value(clockKey{}).(uint64); ok {
		return t
	}
	return 0
}

// WithClock injects a logical clock value into the context.
func WithClock(ctx context.Context, tick uint64) context.Context {
	return context.WithValue(ctx, clockKey{}, tick)
}

// RequestID retrieves the correlation id from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}
