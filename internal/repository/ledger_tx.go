package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"FinTreasury/internal/domain/models"
	domrepo "FinTreasury/internal/domain/repository"
)

// Storage keys. Every store lays out the ledger the same way.
const (
	keyConfig   = "config"
	keyAssets   = "assets"
	keyHolders  = "holders"
	keyOutbox   = "outbox"
	prefixAsset = "asset:"
	prefixAlloc = "allocations:"
	prefixHold  = "holding:"
)

var errReadOnly = errors.New("write in read-only transaction")

// kvReader fetches a raw value; ok is false for missing keys.
type kvReader interface {
	get(ctx context.Context, key string) (val []byte, ok bool, err error)
}

// ledgerTx implements LedgerTx over a kvReader. Writes are buffered in
// order and become visible to later reads of the same transaction.
type ledgerTx struct {
	r        kvReader
	readOnly bool
	writes   map[string][]byte
	order    []string
}

func newLedgerTx(r kvReader, readOnly bool) *ledgerTx {
	return &ledgerTx{r: r, readOnly: readOnly, writes: make(map[string][]byte)}
}

func (t *ledgerTx) load(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok := t.writes[key]
	if !ok {
		var err error
		raw, ok, err = t.r.get(ctx, key)
		if err != nil {
			return false, fmt.Errorf("read %s: %w", key, err)
		}
	}
	if !ok || raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (t *ledgerTx) mustLoad(ctx context.Context, key string, dst any) error {
	ok, err := t.load(ctx, key, dst)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, domrepo.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) save(key string, v any) error {
	if t.readOnly {
		return errReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, seen := t.writes[key]; !seen {
		t.order = append(t.order, key)
	}
	t.writes[key] = raw
	return nil
}

// pending returns buffered writes in first-write order.
func (t *ledgerTx) pending() ([]string, map[string][]byte) {
	return t.order, t.writes
}

func (t *ledgerTx) Config(ctx context.Context) (*models.Config, error) {
	var cfg models.Config
	if err := t.mustLoad(ctx, keyConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (t *ledgerTx) SaveConfig(_ context.Context, cfg *models.Config) error {
	return t.save(keyConfig, cfg)
}

func (t *ledgerTx) AssetList(ctx context.Context) ([]string, error) {
	list := []string{}
	if _, err := t.load(ctx, keyAssets, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (t *ledgerTx) SaveAssetList(_ context.Context, assets []string) error {
	return t.save(keyAssets, assets)
}

func (t *ledgerTx) Asset(ctx context.Context, address string) (*models.Asset, error) {
	var a models.Asset
	if err := t.mustLoad(ctx, prefixAsset+address, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *ledgerTx) SaveAsset(_ context.Context, asset *models.Asset) error {
	return t.save(prefixAsset+asset.Contract.Address, asset)
}

func (t *ledgerTx) Allocations(ctx context.Context, asset string) ([]models.AllocationMeta, error) {
	list := []models.AllocationMeta{}
	if err := t.mustLoad(ctx, prefixAlloc+asset, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (t *ledgerTx) SaveAllocations(_ context.Context, asset string, allocs []models.AllocationMeta) error {
	return t.save(prefixAlloc+asset, allocs)
}

func (t *ledgerTx) Holders(ctx context.Context) ([]string, error) {
	list := []string{}
	if _, err := t.load(ctx, keyHolders, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (t *ledgerTx) SaveHolders(_ context.Context, holders []string) error {
	return t.save(keyHolders, holders)
}

func (t *ledgerTx) Holding(ctx context.Context, holder string) (*models.Holding, error) {
	h := models.NewHolding()
	if err := t.mustLoad(ctx, prefixHold+holder, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (t *ledgerTx) SaveHolding(_ context.Context, holder string, h *models.Holding) error {
	return t.save(prefixHold+holder, h)
}

func (t *ledgerTx) EnqueueOutbox(ctx context.Context, batch *models.InstructionBatch) error {
	var queue []*models.InstructionBatch
	if _, err := t.load(ctx, keyOutbox, &queue); err != nil {
		return err
	}
	return t.save(keyOutbox, append(queue, batch))
}

// ackOutbox drops acknowledged batches from the outbox, keeping order.
func (t *ledgerTx) ackOutbox(ctx context.Context, ids []string) error {
	var queue []*models.InstructionBatch
	if _, err := t.load(ctx, keyOutbox, &queue); err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := queue[:0]
	for _, b := range queue {
		if _, ok := drop[b.ID]; !ok {
			kept = append(kept, b)
		}
	}
	return t.save(keyOutbox, kept)
}

func (t *ledgerTx) outbox(ctx context.Context, limit int) ([]*models.InstructionBatch, error) {
	var queue []*models.InstructionBatch
	if _, err := t.load(ctx, keyOutbox, &queue); err != nil {
		return nil, err
	}
	if limit > 0 && len(queue) > limit {
		queue = queue[:limit]
	}
	return queue, nil
}
