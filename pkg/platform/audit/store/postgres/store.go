package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	audit "pharmatrace/pkg/platform/audit"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and drained to Kafka by the
// publisher worker; the broker is the long-term source of truth.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON structure published downstream.
type outboxPayload struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Actor     string            `json:"actor,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	BatchID   uint64            `json:"batch_id,omitempty"`
	Clock     uint64            `json:"clock"`
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	payload := outboxPayload{
		ID:        eventID.String(),
		Action:    event.Action,
		Actor:     event.Actor.String(),
		Subject:   event.Subject,
		BatchID:   uint64(event.BatchID),
		Clock:     event.Clock,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		Extra:     event.Extra,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	const q = `
		INSERT INTO audit_outbox (id, action, actor, batch_id, clock, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	if _, err := s.db.ExecContext(ctx, q,
		eventID, event.Action, event.Actor.String(), uint64(event.BatchID), event.Clock, raw,
	); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
