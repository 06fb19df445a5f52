package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	"FinTreasury/pkg/fixed"
)

// Rebalance moves the asset's capital toward the allocation targets and books
// any drift between pooled value and holder principal to the treasury.
// Funding shortfalls are not errors; the next pass picks them up.
func (m *TreasuryManager) Rebalance(ctx context.Context, caller, asset string) (models.RebalanceResult, error) {
	var res models.RebalanceResult
	b, err := m.run(ctx, "rebalance", caller, asset, true, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		r, err := m.rebalance(ctx, tx, cmd, asset)
		res = r
		return err
	})
	res.CommandResult = commandResult(b)
	return res, err
}

// RebalanceAll rebalances every registered asset, each in its own transaction.
// A failing asset does not stop the pass: its result carries the error and
// the returned error joins every failure except busy assets, which the next
// pass picks up.
func (m *TreasuryManager) RebalanceAll(ctx context.Context, caller string) ([]models.RebalanceResult, error) {
	var assets []string
	if err := m.store.View(ctx, func(tx drepo.LedgerTx) error {
		var err error
		assets, err = tx.AssetList(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	out := make([]models.RebalanceResult, 0, len(assets))
	var failed []error
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := m.Rebalance(ctx, caller, asset)
		if err != nil {
			res = models.RebalanceResult{Asset: asset, Error: err.Error()}
			res.CommandResult = commandResult(nil)
			if !errors.Is(err, models.ErrAssetBusy) {
				failed = append(failed, fmt.Errorf("rebalance %s: %w", asset, err))
			}
		}
		out = append(out, res)
	}
	return out, errors.Join(failed...)
}

// sortFixedFirst orders amount allocations ahead of portion allocations,
// keeping registry order inside each group.
func sortFixedFirst(allocs []models.AllocationMeta) {
	sort.SliceStable(allocs, func(i, j int) bool {
		return allocs[i].AllocType == models.AllocationAmount && allocs[j].AllocType == models.AllocationPortion
	})
}

func (m *TreasuryManager) rebalance(ctx context.Context, tx drepo.LedgerTx, cmd *command, asset string) (models.RebalanceResult, error) {
	res := models.RebalanceResult{Asset: asset}
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return res, err
	}
	full, err := loadAsset(ctx, tx, asset)
	if err != nil {
		return res, err
	}
	allocs, err := loadAllocations(ctx, tx, asset)
	if err != nil {
		return res, err
	}
	if err := m.refreshBalances(ctx, asset, allocs); err != nil {
		return res, err
	}
	deployed := decimal.Zero
	for _, a := range allocs {
		if deployed, err = fixed.Add(deployed, a.Balance); err != nil {
			return res, err
		}
	}

	holders, err := tx.Holders(ctx)
	if err != nil {
		return res, err
	}
	unbonding, principal := decimal.Zero, decimal.Zero
	for _, h := range holders {
		holding, err := loadHolding(ctx, tx, h)
		if err != nil {
			return res, err
		}
		if unbonding, err = fixed.Add(unbonding, holding.Unbonding(asset)); err != nil {
			return res, err
		}
		if principal, err = fixed.Add(principal, holding.Balance(asset)); err != nil {
			return res, err
		}
	}

	allowance, err := m.tokens.Allowance(ctx, full.Contract, cfg.Treasury, m.self)
	if err != nil {
		return res, fmt.Errorf("treasury allowance: %w", err)
	}
	balance, err := m.tokens.Balance(ctx, full.Contract, m.self)
	if err != nil {
		return res, fmt.Errorf("own balance: %w", err)
	}

	pooled, err := fixed.Add(deployed, balance)
	if err != nil {
		return res, err
	}
	investable := fixed.SaturatingSub(pooled, unbonding)
	grand, err := fixed.Add(investable, allowance)
	if err != nil {
		return res, err
	}
	res.InvestableTotal = investable

	sortFixedFirst(allocs)

	var sends, sendFroms []models.TransferAction
	allowanceUsed := decimal.Zero
	committed := decimal.Zero
	for _, a := range allocs {
		var desired decimal.Decimal
		switch a.AllocType {
		case models.AllocationAmount:
			desired = a.Amount
			if committed, err = fixed.Add(committed, a.Amount); err != nil {
				return res, err
			}
		case models.AllocationPortion:
			if desired, err = fixed.MulRatio(fixed.SaturatingSub(grand, committed), a.Amount, fixed.One); err != nil {
				return res, err
			}
		default:
			return res, fmt.Errorf("%w: %s has type %q", models.ErrInvalidAllocation, a, a.AllocType)
		}
		threshold, err := fixed.MulRatio(desired, a.Tolerance, fixed.One)
		if err != nil {
			return res, err
		}

		switch {
		case a.Balance.LessThan(desired):
			gap := desired.Sub(a.Balance)
			if gap.LessThanOrEqual(threshold) {
				continue
			}
			if fromBalance := fixed.Min(gap, balance); fromBalance.IsPositive() {
				sends = append(sends, models.TransferAction{
					Recipient: a.Contract.Address,
					CodeHash:  a.Contract.CodeHash,
					Amount:    fromBalance,
				})
				balance = balance.Sub(fromBalance)
				gap = gap.Sub(fromBalance)
			}
			if fromAllowance := fixed.Min(gap, allowance); fromAllowance.IsPositive() {
				sendFroms = append(sendFroms, models.TransferAction{
					Owner:     cfg.Treasury,
					Recipient: a.Contract.Address,
					CodeHash:  a.Contract.CodeHash,
					Amount:    fromAllowance,
				})
				allowance = allowance.Sub(fromAllowance)
				allowanceUsed = allowanceUsed.Add(fromAllowance)
			}
		case a.Balance.GreaterThan(desired):
			surplus := a.Balance.Sub(desired)
			if surplus.LessThanOrEqual(threshold) {
				continue
			}
			cmd.emit(models.Instruction{
				Kind:     models.InstructionAdapterUnbond,
				Contract: a.Contract,
				Asset:    asset,
				Amount:   surplus,
			})
		}
	}
	res.AllowanceUsed = allowanceUsed
	res.BalanceRemaining = balance

	treasury, err := loadHolding(ctx, tx, cfg.Treasury)
	if err != nil {
		return res, err
	}
	if allowanceUsed.IsPositive() {
		if err := treasury.Credit(asset, allowanceUsed); err != nil {
			return res, err
		}
		cmd.event(models.EventAllowanceIn, asset, cfg.Treasury, allowanceUsed)
	}

	// Value held for holders versus what their balances claim, both counting
	// the allowance just drawn.
	realized := investable.Add(allowanceUsed)
	claimed := principal.Add(allowanceUsed)
	switch {
	case realized.GreaterThan(claimed):
		res.Gain = realized.Sub(claimed)
		if err := treasury.Credit(asset, res.Gain); err != nil {
			return res, err
		}
		cmd.event(models.EventGain, asset, cfg.Treasury, res.Gain)
		m.metrics.RecordReconciliation(asset, res.Gain.InexactFloat64())
	case realized.LessThan(claimed):
		res.Loss = claimed.Sub(realized)
		if err := treasury.Debit(asset, res.Loss); err != nil {
			return res, fmt.Errorf("book loss of %s to treasury: %w", res.Loss, err)
		}
		cmd.event(models.EventLoss, asset, cfg.Treasury, res.Loss)
		m.metrics.RecordReconciliation(asset, res.Loss.Neg().InexactFloat64())
	}
	if err := tx.SaveHolding(ctx, cfg.Treasury, treasury); err != nil {
		return res, err
	}

	if len(sends) > 0 {
		cmd.emit(models.Instruction{
			Kind:     models.InstructionBatchSend,
			Contract: full.Contract,
			Asset:    asset,
			Actions:  sends,
		})
	}
	if len(sendFroms) > 0 {
		cmd.emit(models.Instruction{
			Kind:     models.InstructionBatchSendFrom,
			Contract: full.Contract,
			Asset:    asset,
			Actions:  sendFroms,
		})
	}
	return res, nil
}
