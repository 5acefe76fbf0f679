package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// --- Google Cloud Pub/Sub pull consumer ---

// GooglePullConsumerConfig holds configuration for the synchronous-pull consumer.
type GooglePullConsumerConfig struct {
	ProjectID      string
	SubscriptionID string
	// MaxMessages is the largest number of messages requested by one poll.
	MaxMessages int32
	// WaitTime bounds how long one poll blocks waiting for messages.
	WaitTime time.Duration
	// PollErrorBackoff is the pause after a failed poll when running forever.
	PollErrorBackoff time.Duration
}

// NewGooglePullConsumerDefaults returns a config with sensible defaults.
func NewGooglePullConsumerDefaults(projectID, subID string) *GooglePullConsumerConfig {
	return &GooglePullConsumerConfig{
		ProjectID:        projectID,
		SubscriptionID:   subID,
		MaxMessages:      10,
		WaitTime:         20 * time.Second,
		PollErrorBackoff: 5 * time.Second,
	}
}

// SubscriptionClient is the slice of the Pub/Sub subscriber API the consumer uses.
type SubscriptionClient interface {
	Pull(ctx context.Context, maxMessages int32) ([]*pubsubpb.ReceivedMessage, error)
	Acknowledge(ctx context.Context, ackIDs ...string) error
}

// googleSubscriptionClient adapts *pubsubapi.SubscriberClient to SubscriptionClient.
type googleSubscriptionClient struct {
	client       *pubsubapi.SubscriberClient
	subscription string
}

// NewGoogleSubscriptionClient binds a subscriber client to one subscription.
func NewGoogleSubscriptionClient(client *pubsubapi.SubscriberClient, projectID, subscriptionID string) SubscriptionClient {
	return &googleSubscriptionClient{
		client:       client,
		subscription: fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID),
	}
}

func (g *googleSubscriptionClient) Pull(ctx context.Context, maxMessages int32) ([]*pubsubpb.ReceivedMessage, error) {
	resp, err := g.client.Pull(ctx, &pubsubpb.PullRequest{
		Subscription: g.subscription,
		MaxMessages:  maxMessages,
	})
	if err != nil {
		return nil, err
	}
	return resp.GetReceivedMessages(), nil
}

func (g *googleSubscriptionClient) Acknowledge(ctx context.Context, ackIDs ...string) error {
	return g.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: g.subscription,
		AckIds:       ackIDs,
	})
}

// GooglePullConsumer implements MessageConsumer over Pub/Sub synchronous pull. Each
// poll is a Pull call; Delete acknowledges by ack id.
type GooglePullConsumer struct {
	cfg      GooglePullConsumerConfig
	client   SubscriptionClient
	logger   zerolog.Logger
	received prometheus.Counter
	deleted  prometheus.Counter
}

// NewGooglePullConsumer creates a consumer. It does not poll until Consume is iterated.
func NewGooglePullConsumer(cfg *GooglePullConsumerConfig, client SubscriptionClient, reg *metrics.Registry, logger zerolog.Logger) (*GooglePullConsumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}
	if client == nil {
		return nil, errors.New("subscription client cannot be nil")
	}
	c := *cfg
	if c.MaxMessages <= 0 {
		c.MaxMessages = 10
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 20 * time.Second
	}
	if c.PollErrorBackoff <= 0 {
		c.PollErrorBackoff = 5 * time.Second
	}
	logger.Info().Str("subscription_id", c.SubscriptionID).Msg("Pull consumer configured.")

	return &GooglePullConsumer{
		cfg:      c,
		client:   client,
		logger:   logger.With().Str("component", "GooglePullConsumer").Str("subscription_id", c.SubscriptionID).Logger(),
		received: reg.Counter("queue_consumer_messages_received", "Number of messages received by the queue consumer"),
		deleted:  reg.Counter("queue_consumer_messages_deleted", "Number of messages deleted by the queue consumer"),
	}, nil
}

// Consume returns a pull-driven sequence. Each poll happens only when the caller
// has finished with the previous poll's messages.
func (c *GooglePullConsumer) Consume(ctx context.Context, runForever bool) iter.Seq[types.InboundMessage] {
	return func(yield func(types.InboundMessage) bool) {
		for ctx.Err() == nil {
			msgs, err := c.poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error().Err(err).Msg("Failed to poll queue.")
				if !runForever {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.cfg.PollErrorBackoff):
				}
				continue
			}

			for _, msg := range msgs {
				c.received.Inc()
				if !yield(msg) {
					return
				}
			}
			if !runForever {
				return
			}
		}
	}
}

// poll performs one long-poll. Running out of wait time is an empty poll, not an error.
func (c *GooglePullConsumer) poll(ctx context.Context) ([]types.InboundMessage, error) {
	pullCtx, cancel := context.WithTimeout(ctx, c.cfg.WaitTime)
	defer cancel()

	received, err := c.client.Pull(pullCtx, c.cfg.MaxMessages)
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("pull from %s: %w", c.cfg.SubscriptionID, err)
	}

	msgs := make([]types.InboundMessage, 0, len(received))
	for _, rm := range received {
		msgs = append(msgs, toInboundMessage(rm))
	}
	if len(msgs) > 0 {
		c.logger.Debug().Int("count", len(msgs)).Msg("Polled messages.")
	}
	return msgs, nil
}

func toInboundMessage(rm *pubsubpb.ReceivedMessage) types.InboundMessage {
	msg := types.InboundMessage{
		AckToken: rm.GetAckId(),
		Raw:      rm,
	}
	if pm := rm.GetMessage(); pm != nil {
		msg.ID = pm.GetMessageId()
		msg.Body = string(pm.GetData())
		msg.Attributes = pm.GetAttributes()
		if pm.GetPublishTime() != nil {
			msg.PublishTime = pm.GetPublishTime().AsTime()
		}
	}
	return msg
}

// Delete acknowledges msg. A failure is logged and swallowed; the message may then
// be redelivered, which the idempotent pipeline tolerates.
func (c *GooglePullConsumer) Delete(ctx context.Context, msg types.InboundMessage) {
	if err := c.client.Acknowledge(ctx, msg.AckToken); err != nil {
		c.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Error deleting message.")
		return
	}
	c.deleted.Inc()
	c.logger.Debug().Str("msg_id", msg.ID).Msg("Message deleted.")
}
