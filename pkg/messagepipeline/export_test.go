package messagepipeline

import (
	"time"

	"github.com/rs/zerolog"
)

// NewKafkaPublisherWithWriter exposes the writer seam to external tests.
func NewKafkaPublisherWithWriter(w kafkaWriter, topic string, logger zerolog.Logger) *KafkaPublisher {
	return newKafkaPublisher(w, topic, logger)
}

// SetAfterFunc replaces the timer constructor used by the dispatcher.
func (d *BatchDispatcher) SetAfterFunc(f func(time.Duration, func()) Timer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.afterFunc = f
}
