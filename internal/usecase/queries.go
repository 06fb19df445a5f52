package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	"FinTreasury/pkg/fixed"
)

// Config returns the stored configuration.
func (m *TreasuryManager) Config(ctx context.Context) (*models.Config, error) {
	var cfg *models.Config
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		var err error
		cfg, err = loadConfig(ctx, tx)
		return err
	})
	return cfg, err
}

// Assets returns registered assets in registration order.
func (m *TreasuryManager) Assets(ctx context.Context) ([]models.Asset, error) {
	var out []models.Asset
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		list, err := tx.AssetList(ctx)
		if err != nil {
			return err
		}
		out = make([]models.Asset, 0, len(list))
		for _, addr := range list {
			a, err := loadAsset(ctx, tx, addr)
			if err != nil {
				return err
			}
			out = append(out, *a)
		}
		return nil
	})
	return out, err
}

// Allocations returns the asset's allocations with live adapter balances.
func (m *TreasuryManager) Allocations(ctx context.Context, asset string) ([]models.AllocationMeta, error) {
	var allocs []models.AllocationMeta
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		if _, err := loadAsset(ctx, tx, asset); err != nil {
			return err
		}
		var err error
		allocs, err = loadAllocations(ctx, tx, asset)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := m.refreshBalances(ctx, asset, allocs); err != nil {
		return nil, err
	}
	return allocs, nil
}

// PendingAllowance returns what the treasury still lets the manager draw.
func (m *TreasuryManager) PendingAllowance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var (
		cfg  *models.Config
		full *models.Asset
	)
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		var err error
		if cfg, err = loadConfig(ctx, tx); err != nil {
			return err
		}
		full, err = loadAsset(ctx, tx, asset)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return m.tokens.Allowance(ctx, full.Contract, cfg.Treasury, m.self)
}

// Reserves returns the manager's liquid balance of asset.
func (m *TreasuryManager) Reserves(ctx context.Context, asset string) (decimal.Decimal, error) {
	full, err := m.asset(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return m.tokens.Balance(ctx, full.Contract, m.self)
}

// Holders returns every registered holder, closed ones included.
func (m *TreasuryManager) Holders(ctx context.Context) ([]string, error) {
	var out []string
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		var err error
		out, err = tx.Holders(ctx)
		return err
	})
	return out, err
}

// Holding returns holder's full record.
func (m *TreasuryManager) Holding(ctx context.Context, holder string) (*models.Holding, error) {
	var h *models.Holding
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		var err error
		h, err = loadHolding(ctx, tx, holder)
		return err
	})
	return h, err
}

// Balance returns holder's available amount of asset.
func (m *TreasuryManager) Balance(ctx context.Context, holder, asset string) (decimal.Decimal, error) {
	h, err := m.holdingFor(ctx, holder, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return h.Balance(asset), nil
}

// Unbonding returns holder's pending withdrawal of asset.
func (m *TreasuryManager) Unbonding(ctx context.Context, holder, asset string) (decimal.Decimal, error) {
	h, err := m.holdingFor(ctx, holder, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return h.Unbonding(asset), nil
}

// Claimable returns how much of holder's pending withdrawal a Claim could
// settle now.
func (m *TreasuryManager) Claimable(ctx context.Context, holder, asset string) (decimal.Decimal, error) {
	h, full, allocs, err := m.position(ctx, holder, asset)
	if err != nil {
		return decimal.Zero, err
	}
	pending := h.Unbonding(asset)
	if pending.IsZero() {
		return decimal.Zero, nil
	}
	avail, err := m.tokens.Balance(ctx, full.Contract, m.self)
	if err != nil {
		return decimal.Zero, err
	}
	for _, a := range allocs {
		c, err := m.adapters.Claimable(ctx, a.Contract, asset)
		if err != nil {
			return decimal.Zero, fmt.Errorf("adapter %s claimable: %w", a, err)
		}
		avail = avail.Add(c)
	}
	return fixed.Min(pending, avail), nil
}

// Unbondable returns how much holder could unbond, bounded by its available
// balance and by what liquid funds plus adapters could return.
func (m *TreasuryManager) Unbondable(ctx context.Context, holder, asset string) (decimal.Decimal, error) {
	h, full, allocs, err := m.position(ctx, holder, asset)
	if err != nil {
		return decimal.Zero, err
	}
	balance := h.Balance(asset)
	if balance.IsZero() {
		return decimal.Zero, nil
	}
	avail, err := m.tokens.Balance(ctx, full.Contract, m.self)
	if err != nil {
		return decimal.Zero, err
	}
	for _, a := range allocs {
		u, err := m.adapters.Unbondable(ctx, a.Contract, asset)
		if err != nil {
			return decimal.Zero, fmt.Errorf("adapter %s unbondable: %w", a, err)
		}
		avail = avail.Add(u)
	}
	return fixed.Min(balance, avail), nil
}

// HoldingShares returns each holder's share of the pooled available balance
// of asset, scaled by 10^18. Holders with nothing available are omitted.
func (m *TreasuryManager) HoldingShares(ctx context.Context, asset string) ([]models.HolderShare, error) {
	type entry struct {
		holder  string
		balance decimal.Decimal
	}
	var entries []entry
	total := decimal.Zero
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		if _, err := loadAsset(ctx, tx, asset); err != nil {
			return err
		}
		holders, err := tx.Holders(ctx)
		if err != nil {
			return err
		}
		for _, holder := range holders {
			h, err := loadHolding(ctx, tx, holder)
			if err != nil {
				return err
			}
			b := h.Balance(asset)
			if b.IsZero() {
				continue
			}
			entries = append(entries, entry{holder, b})
			total = total.Add(b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.HolderShare, 0, len(entries))
	for _, e := range entries {
		share, err := fixed.MulRatio(e.balance, fixed.One, total)
		if err != nil {
			return nil, err
		}
		out = append(out, models.HolderShare{Holder: e.holder, Share: share})
	}
	return out, nil
}

func (m *TreasuryManager) asset(ctx context.Context, asset string) (*models.Asset, error) {
	var full *models.Asset
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		var err error
		full, err = loadAsset(ctx, tx, asset)
		return err
	})
	return full, err
}

func (m *TreasuryManager) holdingFor(ctx context.Context, holder, asset string) (*models.Holding, error) {
	var h *models.Holding
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		if _, err := loadAsset(ctx, tx, asset); err != nil {
			return err
		}
		var err error
		h, err = loadHolding(ctx, tx, holder)
		return err
	})
	return h, err
}

func (m *TreasuryManager) position(ctx context.Context, holder, asset string) (*models.Holding, *models.Asset, []models.AllocationMeta, error) {
	var (
		h      *models.Holding
		full   *models.Asset
		allocs []models.AllocationMeta
	)
	err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		var err error
		if full, err = loadAsset(ctx, tx, asset); err != nil {
			return err
		}
		if h, err = loadHolding(ctx, tx, holder); err != nil {
			return err
		}
		allocs, err = loadAllocations(ctx, tx, asset)
		return err
	})
	return h, full, allocs, err
}
