package billing

import (
	"context"

	"github.com/illmade-knight/go-queueworker/pkg/cache"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/pipeline"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// CheckBilling marks a context SKIPPED when the cache shows the record was already
// processed, by this or any other worker.
//
// Record.HasBeenProcessed is deliberately not consulted: it only reflects the
// in-memory state of the current message and is always false after parsing.
type CheckBilling struct {
	cache   cache.Cache
	logger  zerolog.Logger
	skipped prometheus.Counter
}

// NewCheckBilling creates the dedup step.
func NewCheckBilling(c cache.Cache, reg *metrics.Registry, logger zerolog.Logger) *CheckBilling {
	return &CheckBilling{
		cache:   c,
		logger:  logger.With().Str("component", "CheckBilling").Logger(),
		skipped: reg.Counter("billing_skipped_duplicates", "Billing records skipped because they were already processed"),
	}
}

// Handle consults the processed marker for VALID contexts and passes every other
// context through unchanged.
func (h *CheckBilling) Handle(ctx context.Context, msg types.InboundMessage, dc *pipeline.DataContext[Record]) (*pipeline.DataContext[Record], error) {
	if dc == nil || dc.Payload == nil {
		return dc, nil
	}
	switch dc.Status {
	case pipeline.StatusValid:
		return h.check(ctx, msg, dc)
	default:
		return dc, nil
	}
}

func (h *CheckBilling) check(ctx context.Context, msg types.InboundMessage, dc *pipeline.DataContext[Record]) (*pipeline.DataContext[Record], error) {
	seen, err := h.cache.Exists(ctx, ProcessedKey(dc.Payload.DebtID))
	if err != nil {
		return dc, err
	}
	if seen {
		h.logger.Debug().Str("msg_id", msg.ID).Str("debt_id", dc.Payload.DebtID).Msg("Bill already processed, skipping.")
		dc.Status = pipeline.StatusSkipped
		h.skipped.Inc()
	}
	return dc, nil
}
