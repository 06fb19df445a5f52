package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	"FinTreasury/pkg/fixed"
)

// Instantiate stores the initial configuration and opens the treasury holding.
// Running it again with the same treasury is a no-op.
func (m *TreasuryManager) Instantiate(ctx context.Context, cfg models.Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	_, err := m.run(ctx, "instantiate", "", "", false, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		existing, err := tx.Config(ctx)
		switch {
		case err == nil:
			if existing.Treasury != cfg.Treasury {
				return fmt.Errorf("%w: already initialized for treasury %s", models.ErrInvalidConfig, existing.Treasury)
			}
			return nil
		case !errors.Is(err, drepo.ErrNotFound):
			return err
		}
		if err := tx.SaveConfig(ctx, &cfg); err != nil {
			return err
		}
		if err := ensureHolder(ctx, tx, cfg.Treasury); err != nil {
			return err
		}
		cmd.event(models.EventConfig, "", cfg.Treasury, decimal.Zero)
		return nil
	})
	return err
}

// UpdateConfig replaces the configuration. The new treasury holder is created,
// or reopened, so it can always absorb gains and losses.
func (m *TreasuryManager) UpdateConfig(ctx context.Context, caller string, cfg models.Config) (models.CommandResult, error) {
	if err := validateConfig(cfg); err != nil {
		return models.CommandResult{}, err
	}
	b, err := m.run(ctx, "update_config", caller, "", false, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		if _, err := m.requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		if err := tx.SaveConfig(ctx, &cfg); err != nil {
			return err
		}
		if err := ensureHolder(ctx, tx, cfg.Treasury); err != nil {
			return err
		}
		cmd.event(models.EventConfig, "", cfg.Treasury, decimal.Zero)
		return nil
	})
	return commandResult(b), err
}

// RegisterAsset records token metadata and queues the host registrations the
// manager needs to receive and query the token.
func (m *TreasuryManager) RegisterAsset(ctx context.Context, caller string, token models.Contract) (models.CommandResult, error) {
	if strings.TrimSpace(token.Address) == "" {
		return models.CommandResult{}, fmt.Errorf("%w: empty asset address", models.ErrUnknownAsset)
	}
	b, err := m.run(ctx, "register_asset", caller, token.Address, false, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		if _, err := m.requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		info, err := m.tokens.TokenInfo(ctx, token)
		if err != nil {
			return fmt.Errorf("token info %s: %w", token.Address, err)
		}
		if err := tx.SaveAsset(ctx, &models.Asset{Contract: token, TokenInfo: info}); err != nil {
			return err
		}

		assets, err := tx.AssetList(ctx)
		if err != nil {
			return err
		}
		if !contains(assets, token.Address) {
			if err := tx.SaveAssetList(ctx, append(assets, token.Address)); err != nil {
				return err
			}
			if err := tx.SaveAllocations(ctx, token.Address, []models.AllocationMeta{}); err != nil {
				return err
			}
		}

		cmd.emit(models.Instruction{
			Kind:     models.InstructionRegisterReceive,
			Contract: token,
			Asset:    token.Address,
			CodeHash: m.codeHash,
		})
		cmd.emit(models.Instruction{
			Kind:     models.InstructionSetViewingKey,
			Contract: token,
			Asset:    token.Address,
			Key:      m.viewingKey,
		})
		cmd.event(models.EventAssetAdded, token.Address, "", decimal.Zero)
		return nil
	})
	return commandResult(b), err
}

// SetAllocation inserts or replaces the allocation for alloc.Contract. The
// portion cap is checked over the updated list before anything is written.
func (m *TreasuryManager) SetAllocation(ctx context.Context, caller, asset string, alloc models.Allocation) (models.CommandResult, error) {
	if err := validateAllocation(alloc); err != nil {
		return models.CommandResult{}, err
	}
	b, err := m.run(ctx, "set_allocation", caller, asset, false, func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error {
		if _, err := m.requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		if _, err := loadAsset(ctx, tx, asset); err != nil {
			return err
		}
		allocs, err := loadAllocations(ctx, tx, asset)
		if err != nil {
			return err
		}

		next := make([]models.AllocationMeta, 0, len(allocs)+1)
		for _, a := range allocs {
			if a.Contract.Address != alloc.Contract.Address {
				next = append(next, a)
			}
		}
		next = append(next, alloc.Meta())

		portions := decimal.Zero
		for _, a := range next {
			if a.AllocType != models.AllocationPortion {
				continue
			}
			if portions, err = fixed.Add(portions, a.Amount); err != nil {
				return err
			}
		}
		if portions.GreaterThan(fixed.One) {
			return fmt.Errorf("%w: total %s", models.ErrAllocationCapExceeded, portions)
		}

		if err := tx.SaveAllocations(ctx, asset, next); err != nil {
			return err
		}
		cmd.event(models.EventAllocation, asset, alloc.Contract.Address, alloc.Amount)
		return nil
	})
	return commandResult(b), err
}

func validateConfig(cfg models.Config) error {
	if strings.TrimSpace(cfg.Treasury) == "" {
		return fmt.Errorf("%w: treasury is required", models.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.AdminAuth.Address) == "" {
		return fmt.Errorf("%w: admin auth address is required", models.ErrInvalidConfig)
	}
	return nil
}

func validateAllocation(a models.Allocation) error {
	if strings.TrimSpace(a.Contract.Address) == "" {
		return fmt.Errorf("%w: missing adapter address", models.ErrInvalidAllocation)
	}
	if !a.AllocType.Valid() {
		return fmt.Errorf("%w: unknown type %q", models.ErrInvalidAllocation, a.AllocType)
	}
	if err := fixed.Validate(a.Amount); err != nil {
		return fmt.Errorf("%w: amount: %v", models.ErrInvalidAllocation, err)
	}
	if err := fixed.Validate(a.Tolerance); err != nil {
		return fmt.Errorf("%w: tolerance: %v", models.ErrInvalidAllocation, err)
	}
	if a.Tolerance.GreaterThan(fixed.One) {
		return fmt.Errorf("%w: tolerance above 100%%", models.ErrInvalidAllocation)
	}
	if a.AllocType == models.AllocationPortion && a.Amount.GreaterThan(fixed.One) {
		return fmt.Errorf("%w: %s", models.ErrAllocationCapExceeded, a.Amount)
	}
	return nil
}

// ensureHolder registers holder if needed and makes sure its holding is active.
func ensureHolder(ctx context.Context, tx drepo.LedgerTx, holder string) error {
	holders, err := tx.Holders(ctx)
	if err != nil {
		return err
	}
	if !contains(holders, holder) {
		if err := tx.SaveHolders(ctx, append(holders, holder)); err != nil {
			return err
		}
	}
	h, err := tx.Holding(ctx, holder)
	switch {
	case errors.Is(err, drepo.ErrNotFound):
		h = models.NewHolding()
	case err != nil:
		return err
	case h.Active():
		return nil
	default:
		h.Status = models.StatusActive
	}
	return tx.SaveHolding(ctx, holder, h)
}
