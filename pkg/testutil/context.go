package testutil

import (
	"context"
	"net/http"

	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/requestcontext"
)

// Context returns a context carrying a caller identity and a logical
// clock tick, as the auth and clock middleware would set them.
func Context(caller id.Principal, tick uint64) context.Context {
	ctx := requestcontext.WithCaller(context.Background(), caller)
	return requestcontext.WithClock(ctx, tick)
}

// WithCaller stamps a caller identity onto the request, simulating the
// auth middleware for handler tests.
func WithCaller(req *http.Request, caller id.Principal) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}

// WithClock stamps a logical clock tick onto the request.
func WithClock(req *http.Request, tick uint64) *http.Request {
	return req.WithContext(requestcontext.WithClock(req.Context(), tick))
}
