package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
)

// TreasuryCommands mutates the ledger and queues fund movements.
type TreasuryCommands interface {
	UpdateConfig(ctx context.Context, caller string, cfg models.Config) (models.CommandResult, error)
	RegisterAsset(ctx context.Context, caller string, token models.Contract) (models.CommandResult, error)
	SetAllocation(ctx context.Context, caller, asset string, alloc models.Allocation) (models.CommandResult, error)
	AddHolder(ctx context.Context, caller, holder string) (models.CommandResult, error)
	RemoveHolder(ctx context.Context, caller, holder string) (models.CommandResult, error)
	ReceiveDeposit(ctx context.Context, n models.TransferNotification) (models.DepositResult, error)
	Rebalance(ctx context.Context, caller, asset string) (models.RebalanceResult, error)
	RebalanceAll(ctx context.Context, caller string) ([]models.RebalanceResult, error)
	Unbond(ctx context.Context, caller, asset string, amount decimal.Decimal) (models.UnbondResult, error)
	Claim(ctx context.Context, caller, asset string) (models.ClaimResult, error)
}

// TreasuryQueries reads ledger state, refreshing external balances where needed.
type TreasuryQueries interface {
	Config(ctx context.Context) (*models.Config, error)
	Assets(ctx context.Context) ([]models.Asset, error)
	Allocations(ctx context.Context, asset string) ([]models.AllocationMeta, error)
	PendingAllowance(ctx context.Context, asset string) (decimal.Decimal, error)
	Reserves(ctx context.Context, asset string) (decimal.Decimal, error)
	Holders(ctx context.Context) ([]string, error)
	Holding(ctx context.Context, holder string) (*models.Holding, error)
	Balance(ctx context.Context, holder, asset string) (decimal.Decimal, error)
	Unbonding(ctx context.Context, holder, asset string) (decimal.Decimal, error)
	Claimable(ctx context.Context, holder, asset string) (decimal.Decimal, error)
	Unbondable(ctx context.Context, holder, asset string) (decimal.Decimal, error)
	HoldingShares(ctx context.Context, asset string) ([]models.HolderShare, error)
}

// Treasury is the full manager surface served over HTTP.
type Treasury interface {
	TreasuryCommands
	TreasuryQueries
}

// AuditLog reads dispatched batches back from the journal.
type AuditLog interface {
	Entries(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.JournalEntry, error)
}

// RebalanceScheduler defers rebalances to the job queue.
type RebalanceScheduler interface {
	Schedule(ctx context.Context, caller, asset string) error
}
