package messagepipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// BatchDispatcherConfig holds the configuration for a BatchDispatcher.
type BatchDispatcherConfig struct {
	// BatchThreshold is the buffer size that triggers an immediate flush.
	BatchThreshold int
	// FlushInterval is the period of the timer-driven flush.
	FlushInterval time.Duration
	// PublishTimeout bounds a single PublishBatch call.
	PublishTimeout time.Duration
}

// NewBatchDispatcherDefaults returns a config with sensible defaults.
func NewBatchDispatcherDefaults() *BatchDispatcherConfig {
	return &BatchDispatcherConfig{
		BatchThreshold: 10,
		FlushInterval:  5 * time.Second,
		PublishTimeout: 30 * time.Second,
	}
}

// Timer is the handle returned by the dispatcher's timer constructor.
type Timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// BatchDispatcher buffers outbound payloads and publishes them as one batch when the
// buffer reaches BatchThreshold or when the flush timer fires, whichever is first.
//
// A single mutex serialises Enqueue, the size-triggered flush and the timer flush and
// is held through drain and send, so a payload is never in two batches and never lost
// between them. At most one timer is armed at a time; a timer that fires after being
// superseded sees a stale generation and does nothing.
type BatchDispatcher struct {
	cfg       BatchDispatcherConfig
	publisher BatchPublisher
	logger    zerolog.Logger

	flushed   prometheus.Counter
	published prometheus.Counter
	dropped   prometheus.Counter

	mu         sync.Mutex
	buffer     []string
	afterFunc  func(time.Duration, func()) Timer
	timer      Timer
	generation uint64
	running    bool
	timerCtx   context.Context
}

// NewBatchDispatcher creates a dispatcher. Call Start to arm the flush timer.
func NewBatchDispatcher(cfg *BatchDispatcherConfig, publisher BatchPublisher, reg *metrics.Registry, logger zerolog.Logger) (*BatchDispatcher, error) {
	if publisher == nil {
		return nil, errors.New("batch publisher cannot be nil")
	}
	c := *NewBatchDispatcherDefaults()
	if cfg != nil {
		if cfg.BatchThreshold > 0 {
			c.BatchThreshold = cfg.BatchThreshold
		}
		if cfg.FlushInterval > 0 {
			c.FlushInterval = cfg.FlushInterval
		}
		if cfg.PublishTimeout > 0 {
			c.PublishTimeout = cfg.PublishTimeout
		}
	}
	return &BatchDispatcher{
		cfg:       c,
		publisher: publisher,
		logger:    logger.With().Str("component", "BatchDispatcher").Logger(),
		flushed:   reg.Counter("batch_dispatcher_flushes", "Number of batches published by the dispatcher"),
		published: reg.Counter("batch_dispatcher_items_published", "Number of payloads published by the dispatcher"),
		dropped:   reg.Counter("batch_dispatcher_items_dropped", "Number of payloads dropped after a failed batch publish"),
		buffer:    make([]string, 0, c.BatchThreshold),
		afterFunc: realAfterFunc,
		timerCtx:  context.Background(),
	}, nil
}

// Start arms the periodic flush. Timer flushes publish with a context derived from
// ctx that is never cancelled, so Stop can still drain after shutdown begins.
func (d *BatchDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.timerCtx = context.WithoutCancel(ctx)
	d.scheduleLocked()
	d.logger.Info().Int("batch_threshold", d.cfg.BatchThreshold).Dur("flush_interval", d.cfg.FlushInterval).Msg("Batch dispatcher started.")
}

// Stop disarms the timer and publishes whatever is still buffered.
func (d *BatchDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.disarmLocked()
	d.flushLocked(ctx)
	d.logger.Info().Msg("Batch dispatcher stopped.")
	return nil
}

// Enqueue buffers payload, flushing synchronously if the threshold is reached.
func (d *BatchDispatcher) Enqueue(ctx context.Context, payload string) *BatchDispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = append(d.buffer, payload)
	if len(d.buffer) >= d.cfg.BatchThreshold {
		d.logger.Debug().Int("buffered", len(d.buffer)).Msg("Batch threshold reached.")
		d.flushLocked(ctx)
	}
	return d
}

// Notify lets the dispatcher stand in for a direct publisher as a notification sink.
// Delivery failures surface later, at flush time, so Notify never fails.
func (d *BatchDispatcher) Notify(ctx context.Context, payload []byte) error {
	d.Enqueue(ctx, string(payload))
	return nil
}

// Flush publishes the buffered payloads as one batch, if there are any. The timer
// is re-armed only while the dispatcher is started; before Start or after Stop a
// flush leaves it disarmed.
func (d *BatchDispatcher) Flush(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked(ctx)
}

// Len returns the number of buffered payloads.
func (d *BatchDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

func (d *BatchDispatcher) flushLocked(ctx context.Context) {
	if len(d.buffer) > 0 {
		entries := types.NewBatchEntries(d.buffer)
		d.buffer = make([]string, 0, d.cfg.BatchThreshold)

		pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
		err := d.publisher.PublishBatch(pubCtx, entries)
		cancel()
		if err != nil {
			d.dropped.Add(float64(len(entries)))
			d.logger.Error().Err(err).Int("batch_size", len(entries)).Msg("Failed to publish batch, dropping it.")
		} else {
			d.flushed.Inc()
			d.published.Add(float64(len(entries)))
			d.logger.Info().Int("batch_size", len(entries)).Msg("Flushed batch.")
		}
	}
	if d.running {
		d.scheduleLocked()
	}
}

func (d *BatchDispatcher) scheduleLocked() {
	d.disarmLocked()
	gen := d.generation
	d.timer = d.afterFunc(d.cfg.FlushInterval, func() { d.onTimer(gen) })
}

// disarmLocked stops the current timer and invalidates any callback already in flight.
func (d *BatchDispatcher) disarmLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
}

func (d *BatchDispatcher) onTimer(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || gen != d.generation {
		return
	}
	d.flushLocked(d.timerCtx)
}
