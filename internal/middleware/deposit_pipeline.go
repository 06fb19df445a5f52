package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinTreasury/internal/domain/models"
	domrepo "FinTreasury/internal/domain/repository"
)

// ErrBuffered marks a deposit the ledger refused transiently; the pipeline
// retries it in the background.
var ErrBuffered = errors.New("deposit buffered for retry")

// ErrInvalidNotification marks a notification that can never be credited.
var ErrInvalidNotification = errors.New("invalid transfer notification")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, n *models.TransferNotification) error
}

// DepositPipeline sits between the transfer sources (websocket, Kafka, HTTP
// callback) and the ledger. It validates notifications, drops replays of the
// same transaction, and buffers deposits the ledger could not take yet.
type DepositPipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	dedupe   domrepo.Locker
	dedupTTL time.Duration
	bufSize  int
	bufCh    chan *models.TransferNotification
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	// permanent reports errors that retrying cannot fix
	permanent func(error) bool
}

type PipelineOption func(*DepositPipeline)

// WithDedupe drops notifications whose tx hash was seen within ttl.
func WithDedupe(l domrepo.Locker, ttl time.Duration) PipelineOption {
	return func(p *DepositPipeline) {
		p.dedupe = l
		if ttl > 0 {
			p.dedupTTL = ttl
		}
	}
}

// WithBufferSize sets the retry buffer size used while the ledger is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *DepositPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithPermanentErrors marks errors that are reported but never retried.
func WithPermanentErrors(fn func(error) bool) PipelineOption {
	return func(p *DepositPipeline) { p.permanent = fn }
}

// NewDepositPipeline creates a new pipeline.
func NewDepositPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *DepositPipeline {
	p := &DepositPipeline{
		proc:      proc,
		metrics:   metrics,
		dedupTTL:  24 * time.Hour,
		bufSize:   1000,
		stopCh:    make(chan struct{}),
		permanent: func(error) bool { return false },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.TransferNotification, p.bufSize)
	return p
}

// Start launches background retries of buffered deposits.
func (p *DepositPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case n := <-p.bufCh:
				if n == nil {
					continue
				}
				err := p.proc.Process(ctx, n)
				switch {
				case err == nil:
					backoff = 50 * time.Millisecond
				case p.permanent(err):
					p.metrics.RecordError("pipeline_rejected")
				default:
					// exponential backoff with cap
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					select {
					case p.bufCh <- n:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
						p.release(ctx, n)
					}
				}
			}
		}
	}()
}

// Stop stops the background retries.
func (p *DepositPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Buffered returns the number of deposits waiting for a retry.
func (p *DepositPipeline) Buffered() int { return len(p.bufCh) }

// Process validates, dedupes and forwards a notification. A transient failure
// that fits in the retry buffer is reported as ErrBuffered.
func (p *DepositPipeline) Process(ctx context.Context, n *models.TransferNotification) error {
	start := time.Now()
	if err := validateNotification(n); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if p.dedupe != nil && n.TxHash != "" {
		fresh, err := p.dedupe.TryLock(ctx, "deposit:"+n.TxHash, p.dedupTTL)
		if err != nil {
			p.metrics.RecordError("pipeline_dedupe")
			return fmt.Errorf("dedupe %s: %w", n.TxHash, err)
		}
		if !fresh {
			p.metrics.RecordError("pipeline_duplicate")
			return nil
		}
	}

	if err := p.proc.Process(ctx, n); err != nil {
		if p.permanent(err) {
			p.metrics.RecordError("pipeline_rejected")
			return err
		}
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- n:
			p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
			return fmt.Errorf("%w: %v", ErrBuffered, err)
		default:
			p.metrics.RecordError("pipeline_buffer_full")
			p.release(ctx, n)
			return fmt.Errorf("pipeline downstream: %w", err)
		}
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// release forgets the tx hash so a redelivery is not mistaken for a replay.
func (p *DepositPipeline) release(ctx context.Context, n *models.TransferNotification) {
	if p.dedupe != nil && n.TxHash != "" {
		_ = p.dedupe.Unlock(context.WithoutCancel(ctx), "deposit:"+n.TxHash)
	}
}

func validateNotification(n *models.TransferNotification) error {
	if n == nil {
		return fmt.Errorf("notification nil")
	}
	if n.Token == "" {
		return fmt.Errorf("token empty")
	}
	if n.From == "" {
		return fmt.Errorf("from empty")
	}
	if n.Amount.IsNegative() || !n.Amount.IsInteger() {
		return fmt.Errorf("amount invalid: %s", n.Amount)
	}
	return nil
}
