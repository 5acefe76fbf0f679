package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/cache"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/pipeline"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Processor performs the billing side effect for one record.
type Processor interface {
	Process(ctx context.Context, record *Record) error
}

// LogProcessor is the default Processor; the billing action itself lives elsewhere,
// so it only records that the record went through.
type LogProcessor struct {
	Logger zerolog.Logger
}

// Process logs the record.
func (p LogProcessor) Process(_ context.Context, record *Record) error {
	p.Logger.Debug().Str("debt_id", record.DebtID).Float64("debt_amount", record.DebtAmount).Msg("Processing billing.")
	return nil
}

// ProcessBilling runs the Processor for VALID contexts and records the processed
// marker so redeliveries are skipped.
type ProcessBilling struct {
	cache     cache.Cache
	processor Processor
	ttl       time.Duration
	logger    zerolog.Logger
	processed prometheus.Counter
}

// NewProcessBilling creates the processing step. ttl is the lifetime of the
// processed marker.
func NewProcessBilling(c cache.Cache, processor Processor, ttl time.Duration, reg *metrics.Registry, logger zerolog.Logger) *ProcessBilling {
	logger = logger.With().Str("component", "ProcessBilling").Logger()
	if processor == nil {
		processor = LogProcessor{Logger: logger}
	}
	return &ProcessBilling{
		cache:     c,
		processor: processor,
		ttl:       ttl,
		logger:    logger,
		processed: reg.Counter("billing_processed_successfully", "Billing processed successfully"),
	}
}

// Handle processes VALID contexts; INVALID and SKIPPED contexts pass through.
func (h *ProcessBilling) Handle(ctx context.Context, msg types.InboundMessage, dc *pipeline.DataContext[Record]) (*pipeline.DataContext[Record], error) {
	if dc == nil || dc.Payload == nil {
		return dc, nil
	}
	switch dc.Status {
	case pipeline.StatusValid:
		return h.process(ctx, msg, dc)
	default:
		return dc, nil
	}
}

func (h *ProcessBilling) process(ctx context.Context, msg types.InboundMessage, dc *pipeline.DataContext[Record]) (*pipeline.DataContext[Record], error) {
	record := dc.Payload
	if err := h.processor.Process(ctx, record); err != nil {
		return dc, fmt.Errorf("process billing %s: %w", record.DebtID, err)
	}
	h.processed.Inc()

	if err := h.cache.Set(ctx, ProcessedKey(record.DebtID), cache.Marker, h.ttl); err != nil {
		return dc, err
	}
	record.HasBeenProcessed = true
	dc.Status = pipeline.StatusProcessed
	h.logger.Debug().Str("msg_id", msg.ID).Str("debt_id", record.DebtID).Msg("Billing processed.")
	return dc, nil
}
