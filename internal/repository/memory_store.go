package repository

import (
	"context"
	"sync"

	"FinTreasury/internal/domain/models"
	domrepo "FinTreasury/internal/domain/repository"
)

// MemoryLedgerStore keeps the ledger in process. Transactions are serialised.
type MemoryLedgerStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryLedgerStore returns an empty in-memory store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{data: make(map[string][]byte)}
}

var _ domrepo.LedgerStore = (*MemoryLedgerStore)(nil)

type memReader struct{ data map[string][]byte }

func (r memReader) get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := r.data[key]
	return v, ok, nil
}

func (s *MemoryLedgerStore) Update(ctx context.Context, fn func(tx domrepo.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, func(tx *ledgerTx) error { return fn(tx) })
}

func (s *MemoryLedgerStore) update(ctx context.Context, fn func(tx *ledgerTx) error) error {
	tx := newLedgerTx(memReader{data: s.data}, false)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	keys, writes := tx.pending()
	for _, k := range keys {
		s.data[k] = writes[k]
	}
	return nil
}

func (s *MemoryLedgerStore) View(ctx context.Context, fn func(tx domrepo.LedgerTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newLedgerTx(memReader{data: s.data}, true))
}

func (s *MemoryLedgerStore) PendingOutbox(ctx context.Context, limit int) ([]*models.InstructionBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newLedgerTx(memReader{data: s.data}, true).outbox(ctx, limit)
}

func (s *MemoryLedgerStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, func(tx *ledgerTx) error { return tx.ackOutbox(ctx, ids) })
}

func (s *MemoryLedgerStore) Health(context.Context) error { return nil }

func (s *MemoryLedgerStore) Close() error { return nil }
