package audit

import (
	"context"
	"fmt"
	"log/slog"

	"pharmatrace/pkg/requestcontext"
)

// Emitter writes events to the sink with fail-closed semantics: if the
// append fails, the calling operation must fail. A nil Emitter or a nil
// store degrades to logging only, which keeps unit tests light.
type Emitter struct {
	store  Store
	logger *slog.Logger
}

func NewEmitter(store Store, logger *slog.Logger) *Emitter {
	return &Emitter{store: store, logger: logger}
}

// Emit stamps the event with request-scoped metadata and appends it.
// Call only after the state change has committed in-store; validation
// failures must never reach the sink.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if e == nil {
		return nil
	}
	if event.Clock == 0 {
		event.Clock = requestcontext.Clock(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if e.store == nil {
		if e.logger != nil {
			e.logger.InfoContext(ctx, "audit event (no sink configured)",
				"action", event.Action,
				"actor", event.Actor,
				"subject", event.Subject,
				"clock", event.Clock,
			)
		}
		return nil
	}

	if err := e.store.Append(ctx, event); err != nil {
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "CRITICAL: audit append failed",
				"action", event.Action,
				"actor", event.Actor,
				"error", err,
			)
		}
		return fmt.Errorf("audit event persistence failed: %w", err)
	}
	return nil
}
