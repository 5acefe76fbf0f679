package messagepipeline_test

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"

	"cloud.google.com/go/pubsub"
	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const testProjectID = "test-project"

// pubsubEnv is an in-memory Pub/Sub server with both client flavours connected to it.
type pubsubEnv struct {
	srv        *pstest.Server
	client     *pubsub.Client
	subscriber *pubsubapi.SubscriberClient
}

// setupPubsub creates a full Pub/Sub environment. topics maps each topic id to an
// optional subscription id.
func setupPubsub(t *testing.T, topics map[string]string) *pubsubEnv {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	opts := []option.ClientOption{option.WithGRPCConn(conn)}

	client, err := pubsub.NewClient(ctx, testProjectID, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	subscriber, err := pubsubapi.NewSubscriberClient(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscriber.Close() })

	for topicID, subID := range topics {
		topicName := fmt.Sprintf("projects/%s/topics/%s", testProjectID, topicID)
		_, err = srv.GServer.CreateTopic(ctx, &pb.Topic{Name: topicName})
		require.NoError(t, err)
		if subID == "" {
			continue
		}
		_, err = srv.GServer.CreateSubscription(ctx, &pb.Subscription{
			Name:               fmt.Sprintf("projects/%s/subscriptions/%s", testProjectID, subID),
			Topic:              topicName,
			AckDeadlineSeconds: 60,
		})
		require.NoError(t, err)
	}

	return &pubsubEnv{srv: srv, client: client, subscriber: subscriber}
}

func (e *pubsubEnv) publish(topicID, body string) string {
	return e.srv.Publish(fmt.Sprintf("projects/%s/topics/%s", testProjectID, topicID), []byte(body), nil)
}

// sliceConsumer yields a fixed list of messages once and records deletions.
type sliceConsumer struct {
	mu      sync.Mutex
	msgs    []types.InboundMessage
	deleted []string
	ctxErrs []error
}

func (c *sliceConsumer) Consume(ctx context.Context, _ bool) iter.Seq[types.InboundMessage] {
	return func(yield func(types.InboundMessage) bool) {
		for _, m := range c.msgs {
			if ctx.Err() != nil || !yield(m) {
				return
			}
		}
	}
}

func (c *sliceConsumer) Delete(ctx context.Context, msg types.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, msg.ID)
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
}

func (c *sliceConsumer) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// recordingBatchPublisher captures every batch.
type recordingBatchPublisher struct {
	mu      sync.Mutex
	batches [][]types.BatchEntry
	err     error
}

func (p *recordingBatchPublisher) PublishBatch(_ context.Context, entries []types.BatchEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]types.BatchEntry(nil), entries...))
	return p.err
}

func (p *recordingBatchPublisher) Batches() [][]types.BatchEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]types.BatchEntry(nil), p.batches...)
}

func inbound(i int, body string) types.InboundMessage {
	id := fmt.Sprintf("m-%d", i)
	return types.InboundMessage{ID: id, Body: body, AckToken: "ack-" + id}
}
