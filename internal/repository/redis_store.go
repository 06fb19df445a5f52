package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"FinTreasury/internal/domain/models"
	domrepo "FinTreasury/internal/domain/repository"
	applogger "FinTreasury/pkg/logger"
)

// ErrConflict is returned when a transaction kept losing optimistic races.
var ErrConflict = errors.New("ledger transaction conflict")

// RedisLedgerStore keeps the ledger in Redis. Update runs the closure against
// live reads, then commits its writes in MULTI/EXEC under WATCH of every key it
// read, re-running the closure when another writer got there first.
type RedisLedgerStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	l          *applogger.Logger
}

// RedisStoreOption configures RedisLedgerStore.
type RedisStoreOption func(*RedisLedgerStore)

// WithKeyPrefix namespaces every ledger key.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisLedgerStore) { s.prefix = prefix }
}

// WithMaxRetries bounds conflict retries.
func WithMaxRetries(n int) RedisStoreOption {
	return func(s *RedisLedgerStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewRedisLedgerStore wraps a connected client.
func NewRedisLedgerStore(client *redis.Client, opts ...RedisStoreOption) *RedisLedgerStore {
	s := &RedisLedgerStore{client: client, prefix: "fintreasury:ledger", maxRetries: 5}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger injects a structured logger.
func (s *RedisLedgerStore) SetLogger(l *applogger.Logger) { s.l = l }

var _ domrepo.LedgerStore = (*RedisLedgerStore)(nil)

type readRecord struct {
	val []byte
	ok  bool
}

// redisReader remembers every value it returned so commit can detect changes.
type redisReader struct {
	s     *RedisLedgerStore
	reads map[string]readRecord
}

func (r *redisReader) get(ctx context.Context, key string) ([]byte, bool, error) {
	if rec, ok := r.reads[key]; ok {
		return rec.val, rec.ok, nil
	}
	val, err := r.s.client.Get(ctx, r.s.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		r.reads[key] = readRecord{}
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	r.reads[key] = readRecord{val: val, ok: true}
	return val, true, nil
}

func (s *RedisLedgerStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisLedgerStore) Update(ctx context.Context, fn func(tx domrepo.LedgerTx) error) error {
	return s.update(ctx, func(tx *ledgerTx) error { return fn(tx) })
}

func (s *RedisLedgerStore) update(ctx context.Context, fn func(tx *ledgerTx) error) error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		reader := &redisReader{s: s, reads: make(map[string]readRecord)}
		tx := newLedgerTx(reader, false)
		if err := fn(tx); err != nil {
			return err
		}
		keys, writes := tx.pending()
		if len(keys) == 0 {
			return nil
		}

		err := s.commit(ctx, reader.reads, keys, writes)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("commit ledger: %w", err)
		}
		if s.l != nil {
			s.l.Warn("ledger transaction conflict, retrying",
				applogger.Int("attempt", attempt),
				applogger.Int("keys", len(keys)),
			)
		}
	}
	return ErrConflict
}

func (s *RedisLedgerStore) commit(ctx context.Context, reads map[string]readRecord, keys []string, writes map[string][]byte) error {
	watched := make([]string, 0, len(reads)+len(keys))
	for k := range reads {
		watched = append(watched, s.key(k))
	}
	for _, k := range keys {
		if _, ok := reads[k]; !ok {
			watched = append(watched, s.key(k))
		}
	}

	return s.client.Watch(ctx, func(rtx *redis.Tx) error {
		for k, rec := range reads {
			cur, err := rtx.Get(ctx, s.key(k)).Bytes()
			exists := true
			if errors.Is(err, redis.Nil) {
				exists = false
			} else if err != nil {
				return err
			}
			if exists != rec.ok || !bytes.Equal(cur, rec.val) {
				return redis.TxFailedErr
			}
		}
		_, err := rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, k := range keys {
				p.Set(ctx, s.key(k), writes[k], 0)
			}
			return nil
		})
		return err
	}, watched...)
}

func (s *RedisLedgerStore) View(ctx context.Context, fn func(tx domrepo.LedgerTx) error) error {
	reader := &redisReader{s: s, reads: make(map[string]readRecord)}
	return fn(newLedgerTx(reader, true))
}

func (s *RedisLedgerStore) PendingOutbox(ctx context.Context, limit int) ([]*models.InstructionBatch, error) {
	reader := &redisReader{s: s, reads: make(map[string]readRecord)}
	return newLedgerTx(reader, true).outbox(ctx, limit)
}

func (s *RedisLedgerStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.update(ctx, func(tx *ledgerTx) error { return tx.ackOutbox(ctx, ids) })
}

func (s *RedisLedgerStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisLedgerStore) Close() error { return nil }
