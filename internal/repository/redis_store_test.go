package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrepo "FinTreasury/internal/domain/repository"
)

func newRedisStore(t *testing.T, opts ...RedisStoreOption) *RedisLedgerStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLedgerStore(client, opts...)
}

func holdersOf(t *testing.T, s domrepo.LedgerStore) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.View(context.Background(), func(tx domrepo.LedgerTx) error {
		var err error
		out, err = tx.Holders(context.Background())
		return err
	}))
	return out
}

func saveHolders(ctx context.Context, s domrepo.LedgerStore, holders ...string) error {
	return s.Update(ctx, func(tx domrepo.LedgerTx) error { return tx.SaveHolders(ctx, holders) })
}

func TestRedisStoreRerunsClosureOnConflict(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	require.NoError(t, saveHolders(ctx, s, "alice"))

	attempts := 0
	err := s.Update(ctx, func(tx domrepo.LedgerTx) error {
		attempts++
		holders, err := tx.Holders(ctx)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// another replica commits between our read and our commit
			require.NoError(t, saveHolders(ctx, s, "alice", "bob"))
		}
		return tx.SaveHolders(ctx, append(holders, "carol"))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"alice", "bob", "carol"}, holdersOf(t, s))
}

func TestRedisStoreGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t, WithMaxRetries(2))
	require.NoError(t, saveHolders(ctx, s, "alice"))

	attempts := 0
	err := s.Update(ctx, func(tx domrepo.LedgerTx) error {
		attempts++
		if _, err := tx.Holders(ctx); err != nil {
			return err
		}
		require.NoError(t, saveHolders(ctx, s, "alice", fmt.Sprintf("rival-%d", attempts)))
		return tx.SaveHolders(ctx, []string{"mine"})
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"alice", "rival-2"}, holdersOf(t, s))
}

func TestRedisStoreDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx domrepo.LedgerTx) error {
		if err := tx.SaveHolders(ctx, []string{"alice"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, holdersOf(t, s))
}
