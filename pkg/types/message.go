package types

import (
	"strconv"
	"time"
)

// InboundMessage is a single work item pulled from the queue. It is created once per
// poll and never mutated; the pipeline only reads it.
type InboundMessage struct {
	// ID is the broker-assigned message identifier.
	ID string
	// Body is the raw text payload.
	Body string
	// AckToken is the opaque handle required to acknowledge (delete) the message.
	AckToken string
	// Attributes holds broker metadata attached by the publisher.
	Attributes map[string]string
	// PublishTime is when the broker accepted the message.
	PublishTime time.Time
	// Raw is the original envelope, kept for logging.
	Raw any
}

// BatchEntry is one element of a batch publish call. IDs are sequential per call
// ("0", "1", ...) and are not stable across calls.
type BatchEntry struct {
	ID   string
	Body string
}

// NewBatchEntries numbers bodies sequentially for a single batch publish call.
func NewBatchEntries(bodies []string) []BatchEntry {
	entries := make([]BatchEntry, len(bodies))
	for i, body := range bodies {
		entries[i] = BatchEntry{ID: strconv.Itoa(i), Body: body}
	}
	return entries
}
