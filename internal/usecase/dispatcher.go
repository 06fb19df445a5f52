package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	drepo "FinTreasury/internal/domain/repository"
	applogger "FinTreasury/pkg/logger"
)

const outboxLockKey = "outbox:dispatch"

// Dispatcher drains the ledger outbox in commit order. A batch is acked only
// after it was published, so delivery is at least once; executors dedupe by
// batch id.
type Dispatcher struct {
	store     drepo.LedgerStore
	pub       drepo.InstructionPublisher
	journal   drepo.Journal
	metrics   drepo.Metrics
	locker    drepo.Locker
	log       *applogger.Logger
	batchSize int

	mu sync.Mutex
}

// DispatcherOption configures Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithJournal records every dispatched batch. Journal failures never block dispatch.
func WithJournal(j drepo.Journal) DispatcherOption {
	return func(d *Dispatcher) { d.journal = j }
}

// WithDispatchLocker keeps a single dispatcher active across replicas.
func WithDispatchLocker(l drepo.Locker) DispatcherOption {
	return func(d *Dispatcher) { d.locker = l }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *applogger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithBatchSize bounds how many batches one read of the outbox returns.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func NewDispatcher(store drepo.LedgerStore, pub drepo.InstructionPublisher, metrics drepo.Metrics, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		pub:       pub,
		metrics:   metrics,
		log:       applogger.Nop(),
		batchSize: 100,
	}
	if d.metrics == nil {
		d.metrics = noopMetrics{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Flush publishes pending batches until the outbox is empty. It stops at the
// first publish failure so later batches never overtake an earlier one.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.locker != nil {
		ok, err := d.locker.TryLock(ctx, outboxLockKey, time.Minute)
		if err != nil {
			return 0, fmt.Errorf("acquire outbox lock: %w", err)
		}
		if !ok {
			return 0, nil
		}
		defer func() { _ = d.locker.Unlock(context.WithoutCancel(ctx), outboxLockKey) }()
	}

	sent := 0
	for {
		batches, err := d.store.PendingOutbox(ctx, d.batchSize)
		if err != nil {
			return sent, fmt.Errorf("read outbox: %w", err)
		}
		if len(batches) == 0 {
			return sent, nil
		}
		for _, b := range batches {
			if err := d.pub.PublishBatch(ctx, b); err != nil {
				d.metrics.RecordError("publish")
				return sent, err
			}
			for _, ins := range b.Instructions {
				d.metrics.RecordInstruction(string(ins.Kind), ins.Asset)
			}
			if d.journal != nil {
				if err := d.journal.Record(ctx, b.JournalEntries()); err != nil {
					d.metrics.RecordError("journal")
					d.log.Warn("journal record failed", applogger.String("batch_id", b.ID), applogger.Error(err))
				}
			}
			if err := d.store.AckOutbox(ctx, b.ID); err != nil {
				return sent, fmt.Errorf("ack batch %s: %w", b.ID, err)
			}
			sent++
		}
		if len(batches) < d.batchSize {
			return sent, nil
		}
	}
}

// Run flushes on every tick until ctx is done. It picks up batches whose
// inline flush failed.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Flush(ctx)
			if err != nil {
				d.log.Error("outbox flush failed", applogger.Int("sent", n), applogger.Error(err))
				continue
			}
			if n > 0 {
				d.log.Debug("outbox flushed", applogger.Int("sent", n))
			}
		}
	}
}
