package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/segmentio/kafka-go"

	"github.com/ppiankov/trustlog/internal/model"
)

// kafkaWriter is the slice of kafka.Writer the relay needs; tests
// substitute a fake.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRelay is a standing observer that republishes committed entries
// to a Kafka topic for downstream consumers (SIEM pipelines, archival).
// Messages are keyed by actor_id so one actor's events land on one
// partition in order.
type KafkaRelay struct {
	writer kafkaWriter
}

// NewKafkaRelay creates a relay publishing to topic on the given
// brokers.
func NewKafkaRelay(brokers []string, topic string) *KafkaRelay {
	return &KafkaRelay{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// newKafkaRelayWithWriter wires a custom writer; used by tests.
func newKafkaRelayWithWriter(w kafkaWriter) *KafkaRelay {
	return &KafkaRelay{writer: w}
}

// Run consumes sub until it closes or ctx is cancelled, forwarding
// each entry to Kafka. A broker hiccup is logged and the entry is
// skipped — the chain itself remains the source of truth, and a
// consumer can always reconcile through the query engine.
func (r *KafkaRelay) Run(ctx context.Context, sub *Subscription) error {
	defer r.writer.Close()

	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return ctx.Err()
		case entry, ok := <-sub.Entries():
			if !ok {
				if sub.Overrun() {
					return fmt.Errorf("stream: kafka relay overrun, resync required")
				}
				return nil
			}
			if err := r.forward(ctx, entry); err != nil {
				fmt.Fprintf(os.Stderr, "stream: kafka relay: drop sequence %d: %v\n", entry.Sequence, err)
			}
		}
	}
}

func (r *KafkaRelay) forward(ctx context.Context, entry model.LogEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.ActorID),
		Value: value,
	})
}
