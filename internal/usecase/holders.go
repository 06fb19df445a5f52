package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	"FinTreasury/pkg/fixed"
)

// AddHolder registers a new holder with an empty active holding.
func (m *TreasuryManager) AddHolder(ctx context.Context, caller, holder string) (models.CommandResult, error) {
	if holder == "" {
		return models.CommandResult{}, fmt.Errorf("%w: empty holder", models.ErrUnknownHolder)
	}
	b, err := m.run(ctx, "add_holder", caller, "", false, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		if _, err := m.requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		holders, err := tx.Holders(ctx)
		if err != nil {
			return err
		}
		if contains(holders, holder) {
			return fmt.Errorf("%w: %s", models.ErrHolderExists, holder)
		}
		if err := tx.SaveHolders(ctx, append(holders, holder)); err != nil {
			return err
		}
		if err := tx.SaveHolding(ctx, holder, models.NewHolding()); err != nil {
			return err
		}
		cmd.event(models.EventHolderAdded, "", holder, decimal.Zero)
		return nil
	})
	return commandResult(b), err
}

// RemoveHolder closes a holding. Balances stay in place so pending
// withdrawals can still be claimed.
func (m *TreasuryManager) RemoveHolder(ctx context.Context, caller, holder string) (models.CommandResult, error) {
	b, err := m.run(ctx, "remove_holder", caller, "", false, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		cfg, err := m.requireAdmin(ctx, tx, caller)
		if err != nil {
			return err
		}
		if holder == cfg.Treasury {
			return fmt.Errorf("%w: %s", models.ErrTreasuryHolding, holder)
		}
		holders, err := tx.Holders(ctx)
		if err != nil {
			return err
		}
		if !contains(holders, holder) {
			return fmt.Errorf("%w: %s", models.ErrUnknownHolder, holder)
		}
		h, err := loadHolding(ctx, tx, holder)
		if err != nil {
			return err
		}
		if !h.Active() {
			return nil
		}
		h.Status = models.StatusClosed
		if err := tx.SaveHolding(ctx, holder, h); err != nil {
			return err
		}
		cmd.event(models.EventHolderClosed, "", holder, decimal.Zero)
		return nil
	})
	return commandResult(b), err
}

// ReceiveDeposit books an inbound transfer. Returns from an allocation's
// adapter join the pool without being credited to anyone; other funds go to
// the sending holder, or to the treasury when the sender is not a holder.
// Notices not delivered by the token contract are refused.
func (m *TreasuryManager) ReceiveDeposit(ctx context.Context, n models.TransferNotification) (models.DepositResult, error) {
	res := models.DepositResult{Amount: n.Amount}
	if n.Notifier == "" || n.Notifier != n.Token {
		return res, m.fail("receive", n.Notifier, n.Token,
			fmt.Errorf("%w: transfer of %s reported by %q", models.ErrUnauthorized, n.Token, n.Notifier))
	}
	if err := fixed.Validate(n.Amount); err != nil {
		return res, fmt.Errorf("%w: %v", models.ErrInvalidAmount, err)
	}
	if n.Amount.IsZero() {
		res.CommandResult = commandResult(nil)
		return res, nil
	}

	b, err := m.run(ctx, "receive", n.Sender, n.Token, false, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		res.Credited = ""
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := loadAsset(ctx, tx, n.Token); err != nil {
			return err
		}
		allocs, err := loadAllocations(ctx, tx, n.Token)
		if err != nil {
			return err
		}
		for _, a := range allocs {
			if a.Contract.Address == n.From {
				cmd.event(models.EventClaimReturn, n.Token, n.From, n.Amount)
				return nil
			}
		}

		holders, err := tx.Holders(ctx)
		if err != nil {
			return err
		}
		holder := cfg.Treasury
		if contains(holders, n.From) {
			holder = n.From
		}
		h, err := tx.Holding(ctx, holder)
		if errors.Is(err, drepo.ErrNotFound) {
			return fmt.Errorf("%w: %s", models.ErrUnknownHolder, holder)
		}
		if err != nil {
			return err
		}
		if !h.Active() {
			return fmt.Errorf("%w: %s", models.ErrInactiveHolding, holder)
		}
		if err := h.Credit(n.Token, n.Amount); err != nil {
			return err
		}
		if err := tx.SaveHolding(ctx, holder, h); err != nil {
			return err
		}
		res.Credited = holder
		cmd.event(models.EventDeposit, n.Token, holder, n.Amount)
		return nil
	})
	res.CommandResult = commandResult(b)
	return res, err
}
