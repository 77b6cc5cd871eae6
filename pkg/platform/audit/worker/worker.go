package worker

import (
	"context"

	audit "pharmatrace/pkg/platform/audit"
)

// Worker drains audit events from a channel into a sink. It decouples
// emission from slow backends when fail-closed semantics are not
// required (dev deployments draining the memory store to Kafka).
type Worker struct {
	store audit.Store
	inbox <-chan audit.Event
}

func NewWorker(store audit.Store, inbox <-chan audit.Event) *Worker {
	return &Worker{store: store, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}

// Inbox adapts a channel to the audit.Store interface so an Emitter can
// hand events to a Worker without blocking on the backend.
type Inbox chan audit.Event

func (in Inbox) Append(ctx context.Context, event audit.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case in <- event:
		return nil
	}
}
