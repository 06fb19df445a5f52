package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinTreasury/internal/domain/models"
	domrepo "FinTreasury/internal/domain/repository"
)

func TestMemoryStoreCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()

	err := s.Update(ctx, func(tx domrepo.LedgerTx) error {
		h := models.NewHolding()
		require.NoError(t, h.Credit("sscrt", decimal.NewFromInt(10)))
		if err := tx.SaveHolding(ctx, "alice", h); err != nil {
			return err
		}
		// visible inside the same transaction
		got, err := tx.Holding(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, got.Balance("sscrt").Equal(decimal.NewFromInt(10)))
		return tx.SaveHolders(ctx, []string{"alice"})
	})
	require.NoError(t, err)

	require.NoError(t, s.View(ctx, func(tx domrepo.LedgerTx) error {
		holders, err := tx.Holders(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, holders)
		h, err := tx.Holding(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, h.Status)
		return nil
	}))
}

func TestMemoryStoreDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx domrepo.LedgerTx) error {
		require.NoError(t, tx.SaveHolders(ctx, []string{"alice"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx domrepo.LedgerTx) error {
		holders, err := tx.Holders(ctx)
		require.NoError(t, err)
		assert.Empty(t, holders)
		_, err = tx.Holding(ctx, "alice")
		assert.ErrorIs(t, err, domrepo.ErrNotFound)
		return nil
	}))
}

func TestMemoryStoreViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	err := s.View(ctx, func(tx domrepo.LedgerTx) error {
		return tx.SaveHolders(ctx, []string{"x"})
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestMemoryStoreOutboxOrderAndAck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	for _, id := range []string{"a", "b", "c"} {
		id := id
		require.NoError(t, s.Update(ctx, func(tx domrepo.LedgerTx) error {
			return tx.EnqueueOutbox(ctx, &models.InstructionBatch{ID: id, CreatedAt: time.Now()})
		}))
	}

	pending, err := s.PendingOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)

	require.NoError(t, s.AckOutbox(ctx, "a", "c"))
	pending, err = s.PendingOutbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
}

func TestMemoryJournalFiltersAndBounds(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []models.JournalEntry
	for i := 0; i < 4; i++ {
		asset := "a"
		if i%2 == 1 {
			asset = "b"
		}
		rows = append(rows, models.JournalEntry{Timestamp: base.Add(time.Duration(i) * time.Minute), Asset: asset, BatchID: string(rune('0' + i))})
	}
	require.NoError(t, j.Record(ctx, rows))

	got, err := j.Query(ctx, "", base, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].BatchID)

	got, err = j.Query(ctx, "a", base, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].BatchID)
}
