package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"pharmatrace/internal/platform/clock"
	"pharmatrace/pkg/requestcontext"
)

// RequestID assigns a correlation id to every request, honoring an
// inbound X-Request-ID from a trusted proxy.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClockTick stamps each request with the next logical clock value so
// every state change within the call shares one timestamp.
func ClockTick(c *clock.Logical) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClock(r.Context(), c.Next())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Trace opens a span per request. Exporters are wired by the
// deployment; without one this is a cheap no-op.
func Trace(next http.Handler) http.Handler {
	tracer := otel.Tracer("pharmatrace/http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
