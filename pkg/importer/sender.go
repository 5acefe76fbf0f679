package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// BatchSender publishes batches in the background, with at most maxConcurrent
// PublishBatch calls in flight. A failed batch is logged and counted, never retried.
type BatchSender struct {
	publisher messagepipeline.BatchPublisher
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	logger    zerolog.Logger
	sent      prometheus.Counter
	failed    prometheus.Counter
}

// NewBatchSender creates a sender. maxConcurrent below 1 is treated as 1.
func NewBatchSender(publisher messagepipeline.BatchPublisher, maxConcurrent int, reg *metrics.Registry, logger zerolog.Logger) (*BatchSender, error) {
	if publisher == nil {
		return nil, errors.New("batch publisher cannot be nil")
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BatchSender{
		publisher: publisher,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		logger:    logger.With().Str("component", "BatchSender").Logger(),
		sent:      reg.Counter("importer_messages_sent", "Number of lines published by the importer"),
		failed:    reg.Counter("importer_batch_errors", "Number of import batches that failed to publish"),
	}, nil
}

// Send blocks until a slot is free, then publishes lines in the background. It only
// fails if ctx is cancelled while waiting for a slot.
func (s *BatchSender) Send(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}
	entries := types.NewBatchEntries(lines)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		s.logger.Debug().Int("batch_size", len(entries)).Msg("Sending batch.")
		if err := s.publisher.PublishBatch(ctx, entries); err != nil {
			s.failed.Inc()
			s.logger.Error().Err(err).Int("batch_size", len(entries)).Msg("Error sending batch.")
			return
		}
		s.sent.Add(float64(len(entries)))
	}()
	return nil
}

// Wait blocks until every batch handed to Send has finished.
func (s *BatchSender) Wait() {
	s.wg.Wait()
}
