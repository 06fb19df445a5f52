package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	"FinTreasury/pkg/fixed"
)

// Unbond turns part of the caller's available balance into a pending
// withdrawal. Liquid funds not already reserved for other holders are paid
// out at once; the rest is requested from the adapters, smallest position
// first, and left pending for Claim.
func (m *TreasuryManager) Unbond(ctx context.Context, caller, asset string, amount decimal.Decimal) (models.UnbondResult, error) {
	res := models.UnbondResult{Asset: asset, Amount: amount}
	if err := fixed.Validate(amount); err != nil {
		return res, fmt.Errorf("%w: %v", models.ErrInvalidAmount, err)
	}
	if amount.IsZero() {
		return res, fmt.Errorf("%w: nothing to unbond", models.ErrInvalidAmount)
	}

	b, err := m.run(ctx, "unbond", caller, asset, true, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		r, err := m.unbond(ctx, tx, cmd, caller, asset, amount)
		res = r
		return err
	})
	res.CommandResult = commandResult(b)
	return res, err
}

func (m *TreasuryManager) unbond(ctx context.Context, tx drepo.LedgerTx, cmd *command, caller, asset string, amount decimal.Decimal) (models.UnbondResult, error) {
	res := models.UnbondResult{Asset: asset, Amount: amount, Settled: decimal.Zero, Requested: decimal.Zero}
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return res, err
	}
	full, err := loadAsset(ctx, tx, asset)
	if err != nil {
		return res, err
	}
	holder, err := m.resolveHolder(ctx, tx, cfg, caller)
	if err != nil {
		return res, err
	}
	res.Holder = holder

	holding, err := loadHolding(ctx, tx, holder)
	if err != nil {
		return res, err
	}
	if !holding.Active() {
		return res, fmt.Errorf("%w: %s", models.ErrInactiveHolding, holder)
	}
	if available := holding.Balance(asset); available.LessThan(amount) {
		return res, fmt.Errorf("%w: %s has %s of %s, requested %s", models.ErrInsufficientBalance, holder, available, asset, amount)
	}
	if err := holding.Debit(asset, amount); err != nil {
		return res, err
	}
	if err := holding.AddUnbonding(asset, amount); err != nil {
		return res, err
	}
	cmd.event(models.EventUnbond, asset, holder, amount)

	holders, err := tx.Holders(ctx)
	if err != nil {
		return res, err
	}
	reserved := decimal.Zero
	for _, h := range holders {
		if h == holder {
			continue
		}
		other, err := loadHolding(ctx, tx, h)
		if err != nil {
			return res, err
		}
		if reserved, err = fixed.Add(reserved, other.Unbonding(asset)); err != nil {
			return res, err
		}
	}

	liquid, err := m.tokens.Balance(ctx, full.Contract, m.self)
	if err != nil {
		return res, fmt.Errorf("own balance: %w", err)
	}
	reserves := fixed.SaturatingSub(liquid, reserved)

	settle := fixed.Min(reserves, amount)
	if settle.IsPositive() {
		if err := holding.SettleUnbonding(asset, settle); err != nil {
			return res, err
		}
		cmd.emit(models.Instruction{
			Kind:      models.InstructionSend,
			Contract:  full.Contract,
			Asset:     asset,
			Recipient: holder,
			Amount:    settle,
		})
		cmd.event(models.EventSettle, asset, holder, settle)
	}
	res.Settled = settle
	if err := tx.SaveHolding(ctx, holder, holding); err != nil {
		return res, err
	}

	remaining := amount.Sub(settle)
	if remaining.IsPositive() {
		requested, err := m.requestUnbonds(ctx, tx, cmd, asset, remaining)
		if err != nil {
			return res, err
		}
		res.Requested = requested
	}
	res.Outstanding = holding.Unbonding(asset)
	return res, nil
}

// requestUnbonds asks adapters for up to remaining, draining the smallest
// positions first. It returns the total requested.
func (m *TreasuryManager) requestUnbonds(ctx context.Context, tx drepo.LedgerTx, cmd *command, asset string, remaining decimal.Decimal) (decimal.Decimal, error) {
	allocs, err := loadAllocations(ctx, tx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if err := m.refreshBalances(ctx, asset, allocs); err != nil {
		return decimal.Zero, err
	}
	sort.SliceStable(allocs, func(i, j int) bool {
		return allocs[i].Balance.LessThan(allocs[j].Balance)
	})

	requested := decimal.Zero
	for _, a := range allocs {
		if !remaining.IsPositive() {
			break
		}
		unbondable, err := m.adapters.Unbondable(ctx, a.Contract, asset)
		if err != nil {
			return requested, fmt.Errorf("adapter %s unbondable: %w", a, err)
		}
		take := fixed.Min(unbondable, remaining)
		if !take.IsPositive() {
			continue
		}
		cmd.emit(models.Instruction{
			Kind:     models.InstructionAdapterUnbond,
			Contract: a.Contract,
			Asset:    asset,
			Amount:   take,
		})
		remaining = remaining.Sub(take)
		requested = requested.Add(take)
	}
	return requested, nil
}
