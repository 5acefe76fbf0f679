package messagepipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/pipeline"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the driver loop that pulls messages from any MessageConsumer and
// hands each one to a MessageHandler.
// ====================================================================================

// MessageProcessor drives a consumer and a handler. Messages are handled one at a
// time, in the order the consumer yields them.
type MessageProcessor struct {
	consumer  MessageConsumer
	handler   MessageHandler
	logger    zerolog.Logger
	succeeded prometheus.Counter
	failed    prometheus.Counter
}

// NewMessageProcessor creates a new MessageProcessor.
func NewMessageProcessor(consumer MessageConsumer, handler MessageHandler, reg *metrics.Registry, logger zerolog.Logger) (*MessageProcessor, error) {
	if consumer == nil || handler == nil {
		return nil, errors.New("consumer and handler cannot be nil")
	}
	return &MessageProcessor{
		consumer:  consumer,
		handler:   handler,
		logger:    logger.With().Str("component", "MessageProcessor").Logger(),
		succeeded: reg.Counter("messages_processed_successfully", "Number of messages handled without error"),
		failed:    reg.Counter("messages_processed_errors", "Number of messages whose handler failed"),
	}, nil
}

// Run consumes until the sequence ends: after one poll, or when ctx is cancelled if
// runForever is set. Every yielded message is deleted after handling, whether or not
// the handler succeeded.
func (p *MessageProcessor) Run(ctx context.Context, runForever bool) {
	p.logger.Info().Bool("run_forever", runForever).Msg("Message processor started.")
	// Deletes owed for messages already handled must not be skipped on shutdown.
	deleteCtx := context.WithoutCancel(ctx)

	for msg := range p.consumer.Consume(ctx, runForever) {
		if err := p.handle(ctx, msg); err != nil {
			p.failed.Inc()
			p.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to process message.")
		} else {
			p.succeeded.Inc()
			p.logger.Debug().Str("msg_id", msg.ID).Msg("Message processed.")
		}
		p.consumer.Delete(deleteCtx, msg)
	}
	p.logger.Info().Msg("Message processor stopped.")
}

func (p *MessageProcessor) handle(ctx context.Context, msg types.InboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return p.handler.Handle(ctx, msg)
}

// ChainHandler adapts a pipeline chain to MessageHandler. The final status is logged;
// only a step error fails the message.
func ChainHandler[T any](chain *pipeline.Chain[T], logger zerolog.Logger) MessageHandler {
	log := logger.With().Str("component", "ChainHandler").Logger()
	return MessageHandlerFunc(func(ctx context.Context, msg types.InboundMessage) error {
		dc, err := chain.Handle(ctx, msg)
		if err != nil {
			return err
		}
		log.Debug().Str("msg_id", msg.ID).Stringer("status", dc.Status).Msg("Chain completed.")
		return nil
	})
}
