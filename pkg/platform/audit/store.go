package audit

import "context"

// Store is the append-only event sink. Implementations: in-memory (dev
// and tests), postgres outbox, kafka publisher.
type Store interface {
	Append(ctx context.Context, event Event) error
}
