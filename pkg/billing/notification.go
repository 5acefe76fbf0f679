package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/cache"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/pipeline"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Notifier hands a serialised record to the outbound topic, either directly or
// through the batch dispatcher.
type Notifier interface {
	Notify(ctx context.Context, payload []byte) error
}

// Notification dispatches one notification per record, suppressed across
// redeliveries by the notification marker.
type Notification struct {
	cache    cache.Cache
	notifier Notifier
	ttl      time.Duration
	logger   zerolog.Logger
	sent     prometheus.Counter
}

// NewNotification creates the notify step. ttl is the lifetime of the notification marker.
func NewNotification(c cache.Cache, notifier Notifier, ttl time.Duration, reg *metrics.Registry, logger zerolog.Logger) *Notification {
	return &Notification{
		cache:    c,
		notifier: notifier,
		ttl:      ttl,
		logger:   logger.With().Str("component", "Notification").Logger(),
		sent:     reg.Counter("notification_sent", "Notification sent"),
	}
}

// Handle notifies for every parsed context that is not INVALID, including SKIPPED
// ones, so a notification lost after processing is still sent on redelivery.
func (h *Notification) Handle(ctx context.Context, msg types.InboundMessage, dc *pipeline.DataContext[Record]) (*pipeline.DataContext[Record], error) {
	if dc == nil || dc.Payload == nil {
		return dc, nil
	}
	switch dc.Status {
	case pipeline.StatusValid, pipeline.StatusSkipped, pipeline.StatusProcessed:
		return h.notify(ctx, msg, dc)
	default:
		return dc, nil
	}
}

func (h *Notification) notify(ctx context.Context, msg types.InboundMessage, dc *pipeline.DataContext[Record]) (*pipeline.DataContext[Record], error) {
	record := dc.Payload
	key := NotificationKey(record.DebtID)
	done, err := h.cache.Exists(ctx, key)
	if err != nil {
		return dc, err
	}
	if done {
		h.logger.Debug().Str("msg_id", msg.ID).Str("debt_id", record.DebtID).Msg("Notification already sent.")
		return dc, nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return dc, fmt.Errorf("marshal notification for %s: %w", record.DebtID, err)
	}
	if err := h.notifier.Notify(ctx, payload); err != nil {
		return dc, fmt.Errorf("notify %s: %w", record.DebtID, err)
	}
	h.sent.Inc()

	if err := h.cache.Set(ctx, key, cache.Marker, h.ttl); err != nil {
		return dc, err
	}
	record.HasBeenNotified = true
	h.logger.Debug().Str("msg_id", msg.ID).Str("debt_id", record.DebtID).Msg("Notification dispatched.")
	return dc, nil
}
