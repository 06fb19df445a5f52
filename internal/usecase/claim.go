package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
)

// Claim settles as much of the caller's pending withdrawal as liquid funds
// allow, pulling claimable funds from adapters in registry order when the
// liquid balance falls short. Closed holdings may still claim.
func (m *TreasuryManager) Claim(ctx context.Context, caller, asset string) (models.ClaimResult, error) {
	var res models.ClaimResult
	b, err := m.run(ctx, "claim", caller, asset, true, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		r, err := m.claim(ctx, tx, cmd, caller, asset)
		res = r
		return err
	})
	res.CommandResult = commandResult(b)
	return res, err
}

func (m *TreasuryManager) claim(ctx context.Context, tx drepo.LedgerTx, cmd *command, caller, asset string) (models.ClaimResult, error) {
	res := models.ClaimResult{Asset: asset, Settled: decimal.Zero, Claimed: decimal.Zero}
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
	pending := holding.Unbonding(asset)
	if !pending.IsPositive() {
		return res, fmt.Errorf("%w: %s has no unbondings for %s", models.ErrNoUnbondingForAsset, holder, asset)
	}

	reserves, err := m.tokens.Balance(ctx, full.Contract, m.self)
	if err != nil {
		return res, fmt.Errorf("own balance: %w", err)
	}

	claimed := decimal.Zero
	if pending.GreaterThan(reserves) {
		shortfall := pending.Sub(reserves)
		allocs, err := loadAllocations(ctx, tx, asset)
		if err != nil {
			return res, err
		}
		for _, a := range allocs {
			if !shortfall.IsPositive() {
				break
			}
			claimable, err := m.adapters.Claimable(ctx, a.Contract, asset)
			if err != nil {
				return res, fmt.Errorf("adapter %s claimable: %w", a, err)
			}
			if !claimable.IsPositive() {
				continue
			}
			cmd.emit(models.Instruction{
				Kind:     models.InstructionAdapterClaim,
				Contract: a.Contract,
				Asset:    asset,
				Amount:   claimable,
			})
			claimed = claimed.Add(claimable)
			if claimable.GreaterThan(shortfall) {
				shortfall = decimal.Zero
			} else {
				shortfall = shortfall.Sub(claimable)
			}
		}
	}
	res.Claimed = claimed

	settle := reserves.Add(claimed)
	if pending.LessThan(settle) {
		settle = pending
	}
	if settle.IsPositive() {
		if err := holding.SettleUnbonding(asset, settle); err != nil {
			return res, err
		}
		if err := tx.SaveHolding(ctx, holder, holding); err != nil {
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
	res.Remaining = holding.Unbonding(asset)
	return res, nil
}
