package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinTreasury/internal/domain/models"
	"FinTreasury/pkg/cache"
)

type nopMetrics struct{}

func (nopMetrics) RecordCommand(string, string)         {}
func (nopMetrics) RecordInstruction(string, string)     {}
func (nopMetrics) RecordReconciliation(string, float64) {}
func (nopMetrics) RecordError(string)                   {}
func (nopMetrics) RecordLatency(string, float64)        {}

var errLedgerDown = errors.New("ledger unavailable")

// flakyProc fails the first failures calls with err, then succeeds.
type flakyProc struct {
	mu       sync.Mutex
	failures int
	err      error
	seen     []string
}

func (p *flakyProc) Process(_ context.Context, n *models.TransferNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return p.err
	}
	p.seen = append(p.seen, n.TxHash)
	return nil
}

func (p *flakyProc) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func transfer(hash string) *models.TransferNotification {
	return &models.TransferNotification{TxHash: hash, Token: "sscrt", From: "alice", Amount: decimal.NewFromInt(10)}
}

func TestPipelineDropsReplays(t *testing.T) {
	locks := cache.NewMemoryCache()
	defer locks.Close()
	proc := &flakyProc{}
	p := NewDepositPipeline(proc, nopMetrics{}, WithDedupe(locks, time.Hour))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, transfer("0xabc")))
	require.NoError(t, p.Process(ctx, transfer("0xabc")))
	require.NoError(t, p.Process(ctx, transfer("0xdef")))
	assert.Equal(t, []string{"0xabc", "0xdef"}, proc.processed())
}

func TestPipelineValidates(t *testing.T) {
	p := NewDepositPipeline(&flakyProc{}, nopMetrics{})
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, nil))
	assert.Error(t, p.Process(ctx, &models.TransferNotification{From: "alice", Amount: decimal.NewFromInt(1)}))
	assert.Error(t, p.Process(ctx, &models.TransferNotification{Token: "sscrt", Amount: decimal.NewFromInt(1)}))
	assert.Error(t, p.Process(ctx, &models.TransferNotification{Token: "sscrt", From: "alice", Amount: decimal.RequireFromString("0.5")}))
}

func TestPipelineReturnsRejections(t *testing.T) {
	proc := &flakyProc{failures: 1, err: models.ErrInactiveHolding}
	p := NewDepositPipeline(proc, nopMetrics{}, WithPermanentErrors(func(err error) bool {
		return errors.Is(err, models.ErrInactiveHolding)
	}))

	err := p.Process(context.Background(), transfer("0x1"))
	assert.ErrorIs(t, err, models.ErrInactiveHolding)
	assert.Zero(t, p.Buffered())
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	proc := &flakyProc{failures: 2, err: errLedgerDown}
	p := NewDepositPipeline(proc, nopMetrics{})

	err := p.Process(context.Background(), transfer("0x1"))
	require.ErrorIs(t, err, ErrBuffered)
	assert.Equal(t, 1, p.Buffered())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(proc.processed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"0x1"}, proc.processed())
}

func TestPipelineReleasesDedupeWhenBufferIsFull(t *testing.T) {
	locks := cache.NewMemoryCache()
	defer locks.Close()
	proc := &flakyProc{failures: 2, err: errLedgerDown}
	p := NewDepositPipeline(proc, nopMetrics{}, WithDedupe(locks, time.Hour), WithBufferSize(1))
	ctx := context.Background()

	require.ErrorIs(t, p.Process(ctx, transfer("0x1")), ErrBuffered)

	err := p.Process(ctx, transfer("0x2"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBuffered)

	// the rejected hash can be delivered again
	require.NoError(t, p.Process(ctx, transfer("0x2")))
	assert.Equal(t, []string{"0x2"}, proc.processed())
}
