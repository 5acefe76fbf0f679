package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
)

// GooglePublisherConfig holds configuration for the topic publisher.
type GooglePublisherConfig struct {
	TopicID string
	// PublishTimeout bounds how long Publish waits for the server to confirm.
	PublishTimeout time.Duration
}

// NewGooglePublisherDefaults returns a config with sensible defaults.
func NewGooglePublisherDefaults(topicID string) *GooglePublisherConfig {
	return &GooglePublisherConfig{
		TopicID:        topicID,
		PublishTimeout: 30 * time.Second,
	}
}

// GooglePublisher publishes to a Pub/Sub topic. Publish and PublishBatch wait for the
// server's confirmation so callers can act on failure.
type GooglePublisher struct {
	topic   *pubsub.Topic
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGooglePublisher creates a publisher. It accepts a context to verify that the
// target topic exists before returning.
func NewGooglePublisher(ctx context.Context, cfg *GooglePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if cfg == nil || cfg.TopicID == "" {
		return nil, errors.New("publisher config must name a topic")
	}
	topic := client.Topic(cfg.TopicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GooglePublisher{
		topic:   topic,
		timeout: timeout,
		logger:  logger.With().Str("component", "GooglePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish sends one message and waits for its server-assigned id.
func (p *GooglePublisher) Publish(ctx context.Context, payload []byte) error {
	result := p.topic.Publish(ctx, &pubsub.Message{Data: payload})

	getCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	msgID, err := result.Get(getCtx)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug().Str("published_msg_id", msgID).Msg("Message sent successfully.")
	return nil
}

// PublishBatch sends every entry, tagging each with its entry id and a shared batch
// id. All results are awaited; the returned error joins every failure.
func (p *GooglePublisher) PublishBatch(ctx context.Context, entries []types.BatchEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batchID := uuid.NewString()

	results := make([]*pubsub.PublishResult, len(entries))
	for i, entry := range entries {
		results[i] = p.topic.Publish(ctx, &pubsub.Message{
			Data: []byte(entry.Body),
			Attributes: map[string]string{
				"entry_id": entry.ID,
				"batch_id": batchID,
			},
		})
	}

	getCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var errs []error
	for i, result := range results {
		if _, err := result.Get(getCtx); err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", entries[i].ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("batch %s: %d of %d entries failed: %w", batchID, len(errs), len(entries), errors.Join(errs...))
	}
	p.logger.Info().Str("batch_id", batchID).Int("batch_size", len(entries)).Msg("Batch sent successfully.")
	return nil
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	// topic.Stop() is blocking, so we wrap it to respect the context timeout.
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DirectNotifier forwards each notification straight to a Publisher, one call per record.
type DirectNotifier struct {
	Publisher Publisher
}

// Notify publishes payload.
func (n DirectNotifier) Notify(ctx context.Context, payload []byte) error {
	return n.Publisher.Publish(ctx, payload)
}
