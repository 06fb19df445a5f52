package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Asset string `json:"asset"`
}

func TestDecode(t *testing.T) {
	p, err := Decode[payload](json.RawMessage(`{"asset":"sscrt"}`))
	require.NoError(t, err)
	assert.Equal(t, "sscrt", p.Asset)

	_, err = Decode[payload](nil)
	assert.Error(t, err)

	_, err = Decode[payload](json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestPermanent(t *testing.T) {
	base := errors.New("unauthorized")
	err := fmt.Errorf("job: %w", Permanent(base))

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}

func TestRetryDelay(t *testing.T) {
	base, max := time.Second, 5*time.Second
	assert.Equal(t, time.Second, retryDelay(base, max, 1))
	assert.Equal(t, 2*time.Second, retryDelay(base, max, 2))
	assert.Equal(t, 4*time.Second, retryDelay(base, max, 3))
	assert.Equal(t, max, retryDelay(base, max, 4))
	assert.Equal(t, max, retryDelay(base, max, 40))
}

type nopJob struct{}

func (nopJob) Type() string                                  { return "nop" }
func (nopJob) Handle(context.Context, json.RawMessage) error { return nil }

func TestPublishRejectsUnknownType(t *testing.T) {
	q := NewRedisQueue(nil, Config{}, nil)
	q.RegisterJob(nopJob{})

	err := q.Publish(context.Background(), "missing", "", payload{})
	assert.ErrorContains(t, err, "no job registered")
}

func TestNewRedisQueueDefaults(t *testing.T) {
	q := NewRedisQueue(nil, Config{RetryDelay: time.Second}, nil, WithKeyPrefix("test"))
	assert.Equal(t, 1, q.config.Workers)
	assert.Equal(t, 10*time.Second, q.config.MaxRetryDelay)
	assert.Equal(t, "test:messages", q.queueKey())
	assert.Equal(t, "test:pending:nop:sscrt", q.pendingKey("nop", "sscrt"))
}
