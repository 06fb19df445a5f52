package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinTreasury/internal/domain/models"
	"FinTreasury/pkg/cache"
	"FinTreasury/pkg/queue"
)

type published struct {
	msgType, key string
	payload      RebalancePayload
}

type stubPublisher struct {
	calls []published
	err   error
}

func (s *stubPublisher) Publish(_ context.Context, msgType, key string, payload interface{}) error {
	s.calls = append(s.calls, published{msgType: msgType, key: key, payload: payload.(RebalancePayload)})
	return s.err
}

func TestRebalanceSchedulerKeysByAsset(t *testing.T) {
	pub := &stubPublisher{}
	s := NewRebalanceScheduler(pub)

	require.NoError(t, s.Schedule(context.Background(), "alice", token))
	require.NoError(t, s.Schedule(context.Background(), "alice", ""))

	require.Len(t, pub.calls, 2)
	assert.Equal(t, RebalanceJobType, pub.calls[0].msgType)
	assert.Equal(t, token, pub.calls[0].key)
	assert.Equal(t, RebalancePayload{Asset: token, Caller: "alice"}, pub.calls[0].payload)
	assert.Equal(t, allAssetsKey, pub.calls[1].key)
}

func TestRebalanceSchedulerAbsorbsDuplicates(t *testing.T) {
	s := NewRebalanceScheduler(&stubPublisher{err: queue.ErrAlreadyQueued})
	assert.NoError(t, s.Schedule(context.Background(), "alice", token))

	var missing *RebalanceScheduler
	assert.Error(t, missing.Schedule(context.Background(), "alice", token))
}

func rawPayload(t *testing.T, p RebalancePayload) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestRebalanceJobRunsQueuedRequest(t *testing.T) {
	h := newHarness(t)
	job := NewRebalanceJob(h.m, nil)

	assert.Equal(t, RebalanceJobType, job.Type())
	require.NoError(t, job.Handle(h.ctx, rawPayload(t, RebalancePayload{Asset: token, Caller: "anyone"})))
	require.NoError(t, job.Handle(h.ctx, rawPayload(t, RebalancePayload{Caller: "anyone"})))
}

func TestRebalanceJobClassifiesFailures(t *testing.T) {
	locker := cache.NewMemoryCache()
	t.Cleanup(func() { _ = locker.Close() })
	h := newHarness(t, WithLocker(locker, time.Minute))
	job := NewRebalanceJob(h.m, nil)

	err := job.Handle(h.ctx, json.RawMessage(`not json`))
	assert.True(t, queue.IsPermanent(err))

	err = job.Handle(h.ctx, rawPayload(t, RebalancePayload{Asset: "missing", Caller: "anyone"}))
	assert.ErrorIs(t, err, models.ErrUnknownAsset)
	assert.True(t, queue.IsPermanent(err))

	ok, err := locker.TryLock(h.ctx, "asset:"+token, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = job.Handle(h.ctx, rawPayload(t, RebalancePayload{Asset: token, Caller: "anyone"}))
	assert.ErrorIs(t, err, models.ErrAssetBusy)
	assert.False(t, queue.IsPermanent(err))
}
