package sink

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/rzbill/relay/internal/record"
)

// KafkaClient delivers records to a Kafka topic, keyed by record id so
// downstream consumers can deduplicate and compact.
type KafkaClient struct {
	writer *kafka.Writer
}

// NewKafkaClient creates a KafkaClient for the given brokers and topic.
func NewKafkaClient(brokers []string, topic string) *KafkaClient {
	return &KafkaClient{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
			// The dispatcher owns retries; one produce attempt per submit.
			MaxAttempts: 1,
		},
	}
}

// Submit implements Client. Broker errors are transient from the queue's
// perspective, so they come back retryable.
func (k *KafkaClient) Submit(ctx context.Context, rec *record.Record) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.ID),
		Value: rec.Payload,
	})
	if err != nil {
		return &RetryableError{Reason: err.Error()}
	}
	return nil
}

// SubmitBatch implements BatchClient with a single produce call. Kafka
// reports one outcome for the whole write, so every record shares it.
func (k *KafkaClient) SubmitBatch(ctx context.Context, recs []*record.Record) []error {
	msgs := make([]kafka.Message, len(recs))
	for i, rec := range recs {
		msgs[i] = kafka.Message{Key: []byte(rec.ID), Value: rec.Payload}
	}
	outcomes := make([]error, len(recs))
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		shared := &RetryableError{Reason: err.Error()}
		for i := range outcomes {
			outcomes[i] = shared
		}
	}
	return outcomes
}

// Close implements Closer.
func (k *KafkaClient) Close() error { return k.writer.Close() }
