package billing

import (
	"context"

	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/pipeline"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ContextBuilder is the first step: it discards any incoming context and builds a
// fresh one from the message body.
type ContextBuilder struct {
	logger  zerolog.Logger
	invalid prometheus.Counter
}

// NewContextBuilder creates the parsing step.
func NewContextBuilder(reg *metrics.Registry, logger zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{
		logger:  logger.With().Str("component", "ContextBuilder").Logger(),
		invalid: reg.Counter("invalid_messages", "Invalid messages"),
	}
}

// Handle parses msg.Body into a Record. Any failure yields StatusInvalid with a nil
// payload rather than an error.
func (b *ContextBuilder) Handle(_ context.Context, msg types.InboundMessage, _ *pipeline.DataContext[Record]) (*pipeline.DataContext[Record], error) {
	dc := pipeline.NewDataContext[Record]()

	if msg.Body == "" || msg.AckToken == "" {
		b.logger.Error().Str("msg_id", msg.ID).Msg("Invalid queue message: missing body or ack token.")
		dc.Status = pipeline.StatusInvalid
		b.invalid.Inc()
		return dc, nil
	}

	record, err := ParseRecord(msg.Body)
	if err != nil {
		b.logger.Error().Err(err).Str("msg_id", msg.ID).Str("body", msg.Body).Msg("Invalid queue message content.")
		dc.Status = pipeline.StatusInvalid
		b.invalid.Inc()
		return dc, nil
	}

	dc.Payload = record
	dc.Status = pipeline.StatusValid
	b.logger.Debug().Str("msg_id", msg.ID).Str("debt_id", record.DebtID).Msg("Context built.")
	return dc, nil
}
