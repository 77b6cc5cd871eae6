// Package publisher ships audit events to Kafka. It satisfies
// audit.Store so the emitter does not care whether events land in a
// table, a broker, or a test buffer.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	id "pharmatrace/pkg/domain"
	audit "pharmatrace/pkg/platform/audit"
)

// Kafka produces one record per event, keyed by batch id when present
// so per-batch event order is preserved within a partition.
type Kafka struct {
	client *kgo.Client
	topic  string
}

// NewKafka connects a producer to the given brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

type wireEvent struct {
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

// Append publishes the event and waits for broker acknowledgment.
// Fail-closed: the calling operation must not report success if the
// event was not durably accepted.
func (k *Kafka) Append(ctx context.Context, event audit.Event) error {
	raw, err := json.Marshal(wireEvent{
		ID:        uuid.New().String(),
		Action:    event.Action,
		Actor:     event.Actor.String(),
		Subject:   event.Subject,
		BatchID:   uint64(event.BatchID),
		Clock:     event.Clock,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		Extra:     event.Extra,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   recordKey(event.BatchID, event.Actor),
		Value: raw,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes outstanding records and releases the client.
func (k *Kafka) Close() {
	k.client.Close()
}

func recordKey(batchID id.TokenID, actor id.Principal) []byte {
	if batchID != 0 {
		return []byte(batchID.String())
	}
	return []byte(actor)
}
