package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenInfo struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func newMemory(t *testing.T, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t)

	require.NoError(t, mc.Set(ctx, "token_info:sscrt", tokenInfo{Symbol: "SSCRT", Decimals: 6}, 0))
	var got tokenInfo
	require.NoError(t, mc.Get(ctx, "token_info:sscrt", &got))
	assert.Equal(t, tokenInfo{Symbol: "SSCRT", Decimals: 6}, got)

	require.NoError(t, mc.Set(ctx, "raw", "value", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "raw", &s), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t, WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	time.Sleep(time.Millisecond)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "c", &s))
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t)
	for _, k := range []string{"token_info:a", "token_info:b", "other"} {
		require.NoError(t, mc.Set(ctx, k, "x", 0))
	}
	require.NoError(t, mc.DeleteByPattern(ctx, "token_info:*"))

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "token_info:a", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "other", &s))
}

func TestMemoryCacheLocks(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t)

	ok, err := mc.TryLock(ctx, "asset:sscrt", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "asset:sscrt", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "asset:sscrt"))
	assert.ErrorIs(t, mc.Unlock(ctx, "asset:sscrt"), ErrNotLocked)

	ok, err = mc.TryLock(ctx, "asset:sscrt", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)
	ok, err = mc.TryLock(ctx, "asset:sscrt", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is free")
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t)
	loads := 0
	load := func(context.Context) (tokenInfo, error) {
		loads++
		return tokenInfo{Symbol: "SSCRT"}, nil
	}

	for i := 0; i < 3; i++ {
		info, err := Fetch(ctx, mc, Key("token_info", "sscrt"), time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, "SSCRT", info.Symbol)
	}
	assert.Equal(t, 1, loads)

	_, err := Fetch(ctx, nil, "k", 0, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)

	boom := errors.New("gateway down")
	_, err = Fetch(ctx, mc, "failing", time.Minute, func(context.Context) (tokenInfo, error) { return tokenInfo{}, boom })
	assert.ErrorIs(t, err, boom)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "failing", &s), ErrCacheMiss)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "token_info", Key("token_info"))
	assert.Equal(t, "asset:sscrt:7", Key("asset", "sscrt", 7))
}
