package messagepipeline

import (
	"context"
	"iter"

	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// ====================================================================================
// This file defines the contracts between the worker's driver loop, the queue it
// consumes from, and the topic it publishes to.
// ====================================================================================

// --- Stage 1: Consumer ---

// MessageConsumer is a pull-based queue source.
type MessageConsumer interface {
	// Consume returns a lazy sequence of messages. With runForever the sequence only
	// ends when ctx is cancelled; otherwise it yields the result of a single poll.
	Consume(ctx context.Context, runForever bool) iter.Seq[types.InboundMessage]
	// Delete acknowledges msg so the queue will not redeliver it. Failures are
	// logged, never returned.
	Delete(ctx context.Context, msg types.InboundMessage)
}

// --- Stage 2: Handler ---

// MessageHandler processes one inbound message. A returned error is logged and
// counted by the MessageProcessor; the message is acknowledged regardless.
type MessageHandler interface {
	Handle(ctx context.Context, msg types.InboundMessage) error
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, msg types.InboundMessage) error

// Handle calls f.
func (f MessageHandlerFunc) Handle(ctx context.Context, msg types.InboundMessage) error {
	return f(ctx, msg)
}

// --- Stage 3: Publisher ---

// Publisher sends single messages to the outbound topic.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	// Stop flushes any pending messages and accepts a context for timeout control.
	Stop(ctx context.Context) error
}

// BatchPublisher sends many messages to the outbound topic in one call.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, entries []types.BatchEntry) error
}
