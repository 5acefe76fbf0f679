package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisherConfig holds configuration for the Kafka topic publisher.
type KafkaPublisherConfig struct {
	Brokers []string
	Topic   string
}

// kafkaWriter is the part of *kafka.Writer the publisher uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher is the Kafka-backed alternative to GooglePublisher. It satisfies
// both Publisher and BatchPublisher.
type KafkaPublisher struct {
	writer kafkaWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic with acks from all
// in-sync replicas.
func NewKafkaPublisher(cfg *KafkaPublisherConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	return newKafkaPublisher(w, cfg.Topic, logger), nil
}

func newKafkaPublisher(w kafkaWriter, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "KafkaPublisher").Str("topic", topic).Logger(),
	}
}

// Publish writes one message keyed by a fresh uuid.
func (p *KafkaPublisher) Publish(ctx context.Context, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(uuid.NewString()),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// PublishBatch writes all entries in one call. Every message carries entry_id and a
// shared batch_id header, and the batch id is the partition key so a batch stays together.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, entries []types.BatchEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batchID := uuid.NewString()
	now := time.Now().UTC()

	msgs := make([]kafka.Message, len(entries))
	for i, entry := range entries {
		msgs[i] = kafka.Message{
			Key:   []byte(batchID),
			Value: []byte(entry.Body),
			Time:  now,
			Headers: []kafka.Header{
				{Key: "entry_id", Value: []byte(entry.ID)},
				{Key: "batch_id", Value: []byte(batchID)},
			},
		}
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write kafka batch %s: %w", batchID, err)
	}
	p.logger.Info().Str("batch_id", batchID).Int("batch_size", len(entries)).Msg("Batch sent successfully.")
	return nil
}

// Stop closes the writer, flushing pending writes. The context is unused because
// kafka.Writer.Close has no cancellation.
func (p *KafkaPublisher) Stop(_ context.Context) error {
	return p.writer.Close()
}
