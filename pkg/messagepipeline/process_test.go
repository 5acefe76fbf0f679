package messagepipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/pipeline"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageProcessor_Run(t *testing.T) {
	// --- Arrange ---
	consumer := &sliceConsumer{msgs: []types.InboundMessage{
		{ID: "ok-1", Body: "fine"},
		{ID: "err-1", Body: "fail"},
		{ID: "panic-1", Body: "panic"},
		{ID: "ok-2", Body: "fine"},
	}}
	var mu sync.Mutex
	var handled []string
	handler := messagepipeline.MessageHandlerFunc(func(_ context.Context, msg types.InboundMessage) error {
		mu.Lock()
		handled = append(handled, msg.ID)
		mu.Unlock()
		switch msg.Body {
		case "fail":
			return errors.New("handler failed")
		case "panic":
			panic("boom")
		}
		return nil
	})
	reg := metrics.NewRegistry("test")
	p, err := messagepipeline.NewMessageProcessor(consumer, handler, reg, zerolog.Nop())
	require.NoError(t, err)

	// --- Act ---
	p.Run(context.Background(), false)

	// --- Assert ---
	assert.Equal(t, []string{"ok-1", "err-1", "panic-1", "ok-2"}, handled, "messages are handled in order")
	assert.Equal(t, []string{"ok-1", "err-1", "panic-1", "ok-2"}, consumer.Deleted(), "every message is deleted")
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.Counter("messages_processed_successfully", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.Counter("messages_processed_errors", "")))
}

func TestMessageProcessor_DeleteSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &sliceConsumer{msgs: []types.InboundMessage{{ID: "a"}, {ID: "b"}}}
	handler := messagepipeline.MessageHandlerFunc(func(context.Context, types.InboundMessage) error {
		cancel()
		return nil
	})
	p, err := messagepipeline.NewMessageProcessor(consumer, handler, nil, zerolog.Nop())
	require.NoError(t, err)

	p.Run(ctx, true)

	assert.Equal(t, []string{"a"}, consumer.Deleted(), "the sequence ends after cancellation")
	require.Len(t, consumer.ctxErrs, 1)
	assert.NoError(t, consumer.ctxErrs[0], "the owed delete is not cancelled")
}

func TestNewMessageProcessor_Validation(t *testing.T) {
	_, err := messagepipeline.NewMessageProcessor(nil, messagepipeline.MessageHandlerFunc(nil), nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = messagepipeline.NewMessageProcessor(&sliceConsumer{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestChainHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("status outcomes are not errors", func(t *testing.T) {
		chain := pipeline.NewChain[string](pipeline.StepFunc[string](func(_ context.Context, _ types.InboundMessage, dc *pipeline.DataContext[string]) (*pipeline.DataContext[string], error) {
			next := pipeline.NewDataContext[string]()
			next.Status = pipeline.StatusInvalid
			return next, nil
		}))
		h := messagepipeline.ChainHandler(chain, zerolog.Nop())
		assert.NoError(t, h.Handle(ctx, types.InboundMessage{ID: "x"}))
	})

	t.Run("step errors fail the message", func(t *testing.T) {
		stepErr := errors.New("cache unavailable")
		chain := pipeline.NewChain[string](pipeline.StepFunc[string](func(context.Context, types.InboundMessage, *pipeline.DataContext[string]) (*pipeline.DataContext[string], error) {
			return nil, stepErr
		}))
		h := messagepipeline.ChainHandler(chain, zerolog.Nop())
		assert.ErrorIs(t, h.Handle(ctx, types.InboundMessage{ID: "x"}), stepErr)
	})
}
