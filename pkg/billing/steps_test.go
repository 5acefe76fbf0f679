package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/billing"
	"github.com/illmade-knight/go-queueworker/pkg/cache"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/pipeline"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validBody = "John Doe,11111111111,jane@x.com,1000000.00,2022-10-12,rec-001"

// countingProcessor records how often the processing side effect ran.
type countingProcessor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *countingProcessor) Process(_ context.Context, r *billing.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, r.DebtID)
	return p.err
}

// recordingNotifier captures every payload handed to it.
type recordingNotifier struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.payloads = append(n.payloads, payload)
	return nil
}

func validMessage() types.InboundMessage {
	return types.InboundMessage{ID: "m-1", Body: validBody, AckToken: "ack-1"}
}

func validContext(t *testing.T) *pipeline.DataContext[billing.Record] {
	t.Helper()
	r, err := billing.ParseRecord(validBody)
	require.NoError(t, err)
	return &pipeline.DataContext[billing.Record]{Payload: r, Status: pipeline.StatusValid}
}

func TestContextBuilder(t *testing.T) {
	ctx := context.Background()
	reg := metrics.NewRegistry("test")
	b := billing.NewContextBuilder(reg, zerolog.Nop())

	t.Run("valid", func(t *testing.T) {
		dc, err := b.Handle(ctx, validMessage(), nil)

		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusValid, dc.Status)
		require.NotNil(t, dc.Payload)
		assert.Equal(t, "rec-001", dc.Payload.DebtID)
	})

	invalid := map[string]types.InboundMessage{
		"missing body":      {ID: "m", AckToken: "ack"},
		"missing ack token": {ID: "m", Body: validBody},
		"wrong field count": {ID: "m", Body: "a,b,c", AckToken: "ack"},
		"bad government id": {ID: "m", Body: "John,x1,jane@x.com,1.0,2022-10-12,rec", AckToken: "ack"},
		"bad amount":        {ID: "m", Body: "John,1,jane@x.com,1.0.0,2022-10-12,rec", AckToken: "ack"},
		"NaN amount":        {ID: "m", Body: "John,1,jane@x.com,NaN,2022-10-12,rec", AckToken: "ack"},
		"infinite amount":   {ID: "m", Body: "John,1,jane@x.com,+Inf,2022-10-12,rec", AckToken: "ack"},
	}
	for name, msg := range invalid {
		t.Run(name, func(t *testing.T) {
			dc, err := b.Handle(ctx, msg, nil)

			require.NoError(t, err, "validation failures are data, not errors")
			assert.Equal(t, pipeline.StatusInvalid, dc.Status)
			assert.Nil(t, dc.Payload)
		})
	}

	t.Run("ignores an incoming context", func(t *testing.T) {
		stale := validContext(t)
		stale.Status = pipeline.StatusProcessed

		dc, err := b.Handle(ctx, validMessage(), stale)

		require.NoError(t, err)
		assert.NotSame(t, stale, dc)
		assert.Equal(t, pipeline.StatusValid, dc.Status)
	})
}

func TestCheckBilling(t *testing.T) {
	ctx := context.Background()

	t.Run("marks previously processed records as skipped", func(t *testing.T) {
		c := cache.NewInMemoryCache()
		require.NoError(t, c.Set(ctx, "processed:rec-001", cache.Marker, 0))
		h := billing.NewCheckBilling(c, nil, zerolog.Nop())

		dc, err := h.Handle(ctx, validMessage(), validContext(t))

		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusSkipped, dc.Status)
	})

	t.Run("leaves new records valid", func(t *testing.T) {
		h := billing.NewCheckBilling(cache.NewInMemoryCache(), nil, zerolog.Nop())

		dc, err := h.Handle(ctx, validMessage(), validContext(t))

		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusValid, dc.Status)
	})

	t.Run("passes invalid contexts through", func(t *testing.T) {
		h := billing.NewCheckBilling(cache.NewInMemoryCache(), nil, zerolog.Nop())
		in := &pipeline.DataContext[billing.Record]{Status: pipeline.StatusInvalid}

		dc, err := h.Handle(ctx, validMessage(), in)

		require.NoError(t, err)
		assert.Same(t, in, dc)
		assert.Equal(t, pipeline.StatusInvalid, dc.Status)
	})

	t.Run("cache failure is an error", func(t *testing.T) {
		h := billing.NewCheckBilling(failingCache{}, nil, zerolog.Nop())

		_, err := h.Handle(ctx, validMessage(), validContext(t))

		assert.ErrorIs(t, err, cache.ErrCacheUnavailable)
	})
}

func TestProcessBilling(t *testing.T) {
	ctx := context.Background()

	t.Run("processes valid records and marks them", func(t *testing.T) {
		c := cache.NewInMemoryCache()
		p := &countingProcessor{}
		h := billing.NewProcessBilling(c, p, time.Hour, nil, zerolog.Nop())

		dc, err := h.Handle(ctx, validMessage(), validContext(t))

		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusProcessed, dc.Status)
		assert.True(t, dc.Payload.HasBeenProcessed)
		assert.Equal(t, []string{"rec-001"}, p.calls)
		ok, _ := c.Exists(ctx, "processed:rec-001")
		assert.True(t, ok)
	})

	for _, status := range []pipeline.Status{pipeline.StatusInvalid, pipeline.StatusSkipped} {
		t.Run("no-op for "+status.String(), func(t *testing.T) {
			c := cache.NewInMemoryCache()
			p := &countingProcessor{}
			h := billing.NewProcessBilling(c, p, time.Hour, nil, zerolog.Nop())
			in := validContext(t)
			in.Status = status

			dc, err := h.Handle(ctx, validMessage(), in)

			require.NoError(t, err)
			assert.Equal(t, status, dc.Status)
			assert.Empty(t, p.calls)
			assert.False(t, dc.Payload.HasBeenProcessed)
			ok, _ := c.Exists(ctx, "processed:rec-001")
			assert.False(t, ok)
		})
	}

	t.Run("processor failure leaves no marker", func(t *testing.T) {
		c := cache.NewInMemoryCache()
		p := &countingProcessor{err: errors.New("ledger down")}
		h := billing.NewProcessBilling(c, p, time.Hour, nil, zerolog.Nop())

		_, err := h.Handle(ctx, validMessage(), validContext(t))

		require.Error(t, err)
		ok, _ := c.Exists(ctx, "processed:rec-001")
		assert.False(t, ok)
	})
}

func TestNotification(t *testing.T) {
	ctx := context.Background()

	t.Run("sends once and marks", func(t *testing.T) {
		c := cache.NewInMemoryCache()
		n := &recordingNotifier{}
		h := billing.NewNotification(c, n, time.Hour, nil, zerolog.Nop())
		in := validContext(t)
		in.Status = pipeline.StatusProcessed

		dc, err := h.Handle(ctx, validMessage(), in)

		require.NoError(t, err)
		require.Len(t, n.payloads, 1)
		var sent map[string]any
		require.NoError(t, json.Unmarshal(n.payloads[0], &sent))
		assert.Equal(t, "rec-001", sent["debt_id"])
		assert.Equal(t, "jane@x.com", sent["email"])
		assert.True(t, dc.Payload.HasBeenNotified)
		ok, _ := c.Exists(ctx, "notification:rec-001")
		assert.True(t, ok)
	})

	t.Run("suppressed when already notified", func(t *testing.T) {
		c := cache.NewInMemoryCache()
		require.NoError(t, c.Set(ctx, "notification:rec-001", cache.Marker, 0))
		n := &recordingNotifier{}
		h := billing.NewNotification(c, n, time.Hour, nil, zerolog.Nop())

		_, err := h.Handle(ctx, validMessage(), validContext(t))

		require.NoError(t, err)
		assert.Empty(t, n.payloads)
	})

	t.Run("skipped records still notify when no marker exists", func(t *testing.T) {
		n := &recordingNotifier{}
		h := billing.NewNotification(cache.NewInMemoryCache(), n, time.Hour, nil, zerolog.Nop())
		in := validContext(t)
		in.Status = pipeline.StatusSkipped

		_, err := h.Handle(ctx, validMessage(), in)

		require.NoError(t, err)
		assert.Len(t, n.payloads, 1)
	})

	t.Run("invalid passes through", func(t *testing.T) {
		n := &recordingNotifier{}
		h := billing.NewNotification(cache.NewInMemoryCache(), n, time.Hour, nil, zerolog.Nop())
		in := &pipeline.DataContext[billing.Record]{Status: pipeline.StatusInvalid}

		dc, err := h.Handle(ctx, validMessage(), in)

		require.NoError(t, err)
		assert.Same(t, in, dc)
		assert.Empty(t, n.payloads)
	})

	t.Run("notifier failure leaves no marker", func(t *testing.T) {
		c := cache.NewInMemoryCache()
		n := &recordingNotifier{err: errors.New("topic down")}
		h := billing.NewNotification(c, n, time.Hour, nil, zerolog.Nop())

		_, err := h.Handle(ctx, validMessage(), validContext(t))

		require.Error(t, err)
		ok, _ := c.Exists(ctx, "notification:rec-001")
		assert.False(t, ok)
	})
}

func TestChain_Idempotence(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	p := &countingProcessor{}
	n := &recordingNotifier{}
	chain := billing.NewChain(c, p, n, time.Hour, metrics.NewRegistry("test"), zerolog.Nop())

	first, err := chain.Handle(ctx, validMessage())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusProcessed, first.Status)

	redelivered := validMessage()
	redelivered.ID = "m-2"
	redelivered.AckToken = "ack-2"
	second, err := chain.Handle(ctx, redelivered)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusSkipped, second.Status)
	assert.Len(t, p.calls, 1, "exactly one processing side effect")
	assert.Len(t, n.payloads, 1, "exactly one notification")
}

func TestChain_InvalidMessageCompletes(t *testing.T) {
	p := &countingProcessor{}
	n := &recordingNotifier{}
	chain := billing.NewChain(cache.NewInMemoryCache(), p, n, time.Hour, nil, zerolog.Nop())

	dc, err := chain.Handle(context.Background(), types.InboundMessage{ID: "bad", Body: "garbage", AckToken: "ack"})

	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusInvalid, dc.Status)
	assert.Nil(t, dc.Payload)
	assert.Empty(t, p.calls)
	assert.Empty(t, n.payloads)
}

func TestChain_NonFiniteAmountIsInvalid(t *testing.T) {
	p := &countingProcessor{}
	n := &recordingNotifier{}
	c := cache.NewInMemoryCache()
	chain := billing.NewChain(c, p, n, time.Hour, nil, zerolog.Nop())
	msg := types.InboundMessage{ID: "m-nan", Body: "John,1,j@x.com,NaN,2022-10-12,rec-nan", AckToken: "ack"}

	for i := 0; i < 2; i++ {
		dc, err := chain.Handle(context.Background(), msg)

		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusInvalid, dc.Status)
	}
	assert.Empty(t, p.calls)
	assert.Empty(t, n.payloads)
	found, err := c.Exists(context.Background(), billing.ProcessedKey("rec-nan"))
	require.NoError(t, err)
	assert.False(t, found)
}

// failingCache reports the backend as unreachable for every call.
type failingCache struct{}

func (failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, cache.ErrCacheUnavailable
}
func (failingCache) Set(context.Context, string, string, time.Duration) error {
	return cache.ErrCacheUnavailable
}
func (failingCache) Exists(context.Context, string) (bool, error) {
	return false, cache.ErrCacheUnavailable
}
func (failingCache) Close() error { return nil }
