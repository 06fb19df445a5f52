package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookChainThreadsDataAndStopsOnError(t *testing.T) {
	var order []string
	upper := HookFuncs{Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
		order = append(order, "first")
		return ctx, km, append(data, '!'), nil
	}}
	failing := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			order = append(order, "second:"+string(data))
			return ctx, km, data, errors.New("reject")
		},
		Err: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, "err") },
	}

	chain := NewHookChain(upper, nil, failing)
	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("hi"))
	require.Error(t, err)
	assert.Equal(t, []string{"first", "second:hi!", "err"}, order)
}

func TestHookChainRecoversPanics(t *testing.T) {
	boom := HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
		panic("boom")
	}}
	_, _, _, err := NewHookChain(boom).BeforeHandle(context.Background(), "t", kafka.Message{}, nil)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "ERR_PANIC", hookErr.Code)
}

func TestTraceHookExtractsHeader(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := TraceHook().BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceIDFrom(ctx))
	assert.False(t, StartedAt(ctx).IsZero())
}

func TestMaxBytesHookRefusesLargePayloads(t *testing.T) {
	hook := MaxBytesHook(4)
	_, _, _, err := hook.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("1234"))
	require.NoError(t, err)

	_, _, _, err = hook.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("12345"))
	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "ERR_TOO_LARGE", hookErr.Code)
}
