package pipeline

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// Step is one link of the chain. A step receives the context produced by the
// previous step (nil for the first step) and returns the context to hand on.
//
// Validation and dedup outcomes must be expressed through DataContext.Status. An
// error return is reserved for infrastructure failures and aborts the chain.
type Step[T any] interface {
	Handle(ctx context.Context, msg types.InboundMessage, dc *DataContext[T]) (*DataContext[T], error)
}

// StepFunc adapts a function to the Step interface.
type StepFunc[T any] func(ctx context.Context, msg types.InboundMessage, dc *DataContext[T]) (*DataContext[T], error)

// Handle calls f.
func (f StepFunc[T]) Handle(ctx context.Context, msg types.InboundMessage, dc *DataContext[T]) (*DataContext[T], error) {
	return f(ctx, msg, dc)
}

// Chain runs its steps in the order they were linked. It is assembled once at
// startup and is safe to reuse for every message.
type Chain[T any] struct {
	steps []Step[T]
}

// NewChain links the given steps in order.
func NewChain[T any](steps ...Step[T]) *Chain[T] {
	return &Chain[T]{steps: append([]Step[T](nil), steps...)}
}

// Append links step after the current last step and returns the chain.
func (c *Chain[T]) Append(step Step[T]) *Chain[T] {
	c.steps = append(c.steps, step)
	return c
}

// Len returns the number of linked steps.
func (c *Chain[T]) Len() int {
	return len(c.steps)
}

// Handle runs msg through every step and returns the final context. If a step
// returns an error the remaining steps are not run.
func (c *Chain[T]) Handle(ctx context.Context, msg types.InboundMessage) (*DataContext[T], error) {
	var dc *DataContext[T]
	for i, step := range c.steps {
		next, err := step.Handle(ctx, msg, dc)
		if err != nil {
			return dc, fmt.Errorf("pipeline step %d (%T): %w", i, step, err)
		}
		if next == nil {
			next = dc
		}
		dc = next
	}
	if dc == nil {
		dc = NewDataContext[T]()
	}
	return dc, nil
}
