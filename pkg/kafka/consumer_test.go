package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcHandler struct {
	topic string
	fn    func([]byte) error
	calls int
}

func (h *funcHandler) Topic() string { return h.topic }

func (h *funcHandler) Handle(_ context.Context, data []byte) error {
	h.calls++
	return h.fn(data)
}

func testConsumer(t *testing.T, h MessageHandler, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{WithConsumerBrokers([]string{"localhost:9092"})}, opts...)
	c, err := NewConsumer(h, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.ctx, c.cancel = ctx, cancel
	return c
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}))
	assert.Error(t, err)

	_, err = NewConsumer(&funcHandler{topic: "deposits"})
	assert.ErrorContains(t, err, "brokers are required")
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	err := fmt.Errorf("deposit: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}

func TestHandleRetriesTransientErrors(t *testing.T) {
	h := &funcHandler{topic: "deposits", fn: func([]byte) error { return errors.New("ledger unavailable") }}
	c := testConsumer(t, h, WithConsumerRetry(2, time.Millisecond, time.Millisecond))

	attempts, err := c.handleWithRetry(kafka.Message{Value: []byte("{}")})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, h.calls)
}

func TestHandleSkipsRetriesForPermanentErrors(t *testing.T) {
	h := &funcHandler{topic: "deposits", fn: func([]byte) error { return Permanent(errors.New("rejected")) }}
	c := testConsumer(t, h, WithConsumerRetry(5, time.Millisecond, time.Millisecond))

	attempts, err := c.handleWithRetry(kafka.Message{})
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
}

func TestHandleRecoversPanics(t *testing.T) {
	h := &funcHandler{topic: "deposits", fn: func([]byte) error { panic("boom") }}
	c := testConsumer(t, h)

	err := c.handleOnce(kafka.Message{})
	assert.True(t, IsPermanent(err))
	assert.ErrorContains(t, err, "boom")
}

func TestHandleRunsHooks(t *testing.T) {
	var seen []string
	h := &funcHandler{topic: "deposits", fn: func(data []byte) error {
		seen = append(seen, "handle:"+string(data))
		return nil
	}}
	c := testConsumer(t, h)
	c.WithConsumerHook(HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			seen = append(seen, "before")
			return ctx, km, append(data, '!'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { seen = append(seen, "after") },
	})

	require.NoError(t, c.handleOnce(kafka.Message{Value: []byte("hi")}))
	assert.Equal(t, []string{"before", "handle:hi!", "after"}, seen)
}

func TestHandleAbandonsRetryOnStop(t *testing.T) {
	h := &funcHandler{topic: "deposits", fn: func([]byte) error { return errors.New("ledger unavailable") }}
	c := testConsumer(t, h, WithConsumerRetry(10, time.Hour, time.Hour))
	c.cancel()

	_, err := c.handleWithRetry(kafka.Message{})
	assert.ErrorIs(t, err, errStopping)
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
