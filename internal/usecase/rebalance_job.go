package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	applogger "FinTreasury/pkg/logger"
	"FinTreasury/pkg/queue"
)

// RebalanceJobType is the queue message type for deferred rebalances.
const RebalanceJobType = "treasury.rebalance"

// RebalancePayload asks for one asset, or every asset when Asset is empty.
type RebalancePayload struct {
	Asset  string `json:"asset,omitempty"`
	Caller string `json:"caller,omitempty"`
}

// RebalanceJob runs queued rebalance requests.
type RebalanceJob struct {
	manager *TreasuryManager
	log     *applogger.Logger
}

func NewRebalanceJob(manager *TreasuryManager, log *applogger.Logger) *RebalanceJob {
	if log == nil {
		log = applogger.Nop()
	}
	return &RebalanceJob{manager: manager, log: log}
}

var _ queue.Job = (*RebalanceJob)(nil)

func (j *RebalanceJob) Type() string { return RebalanceJobType }

// Handle runs one queued rebalance. Business rejections are final; a busy
// asset or an unreachable chain is retried by the queue.
func (j *RebalanceJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[RebalancePayload](payload)
	if err != nil {
		return queue.Permanent(err)
	}
	if p.Asset == "" {
		results, err := j.manager.RebalanceAll(ctx, p.Caller)
		if err != nil {
			return retryableAll(err)
		}
		j.log.Info("queued rebalance finished", applogger.Int("assets", len(results)))
		return nil
	}

	res, err := j.manager.Rebalance(ctx, p.Caller, p.Asset)
	if err != nil {
		return retryable(fmt.Errorf("rebalance %s: %w", p.Asset, err))
	}
	j.log.Info("queued rebalance finished",
		applogger.String("asset", p.Asset),
		applogger.Int("instructions", len(res.Instructions)),
		applogger.Amount("gain", res.Gain),
		applogger.Amount("loss", res.Loss),
	)
	return nil
}

func retryable(err error) error {
	if IsRejection(err) {
		return queue.Permanent(err)
	}
	return err
}

// retryableAll retries a RebalanceAll pass unless every asset failed with a
// rejection.
func retryableAll(err error) error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return retryable(err)
	}
	for _, e := range joined.Unwrap() {
		if !IsRejection(e) {
			return err
		}
	}
	return queue.Permanent(err)
}

// allAssetsKey coalesces queued RebalanceAll requests.
const allAssetsKey = "*"

// RebalanceScheduler enqueues rebalances for later execution. A request for
// an asset that already has one waiting is absorbed by the waiting one.
type RebalanceScheduler struct {
	queue queue.Publisher
}

func NewRebalanceScheduler(q queue.Publisher) *RebalanceScheduler {
	return &RebalanceScheduler{queue: q}
}

// Schedule enqueues a rebalance of asset; an empty asset means all assets.
func (s *RebalanceScheduler) Schedule(ctx context.Context, caller, asset string) error {
	if s == nil || s.queue == nil {
		return errors.New("rebalance queue not configured")
	}
	key := asset
	if key == "" {
		key = allAssetsKey
	}
	err := s.queue.Publish(ctx, RebalanceJobType, key, RebalancePayload{Asset: asset, Caller: caller})
	if errors.Is(err, queue.ErrAlreadyQueued) {
		return nil
	}
	return err
}
