package billing

import (
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/cache"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/pipeline"
	"github.com/rs/zerolog"
)

// NewChain assembles build → check → process → notify.
func NewChain(c cache.Cache, processor Processor, notifier Notifier, ttl time.Duration, reg *metrics.Registry, logger zerolog.Logger) *pipeline.Chain[Record] {
	return pipeline.NewChain[Record](NewContextBuilder(reg, logger)).
		Append(NewCheckBilling(c, reg, logger)).
		Append(NewProcessBilling(c, processor, ttl, reg, logger)).
		Append(NewNotification(c, notifier, ttl, reg, logger))
}
