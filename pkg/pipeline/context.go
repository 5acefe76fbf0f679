// Package pipeline implements the ordered, chain-of-responsibility processing
// pipeline that threads a DataContext through a fixed list of steps.
package pipeline

// DataContext is the unit of work for one inbound message. It is created by the
// first step and owned by a single chain invocation.
type DataContext[T any] struct {
	// Payload is nil until parsing succeeds.
	Payload *T
	Status  Status
}

// NewDataContext returns an empty context in StatusUnprocessed.
func NewDataContext[T any]() *DataContext[T] {
	return &DataContext[T]{Status: StatusUnprocessed}
}
