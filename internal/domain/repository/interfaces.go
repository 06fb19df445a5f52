package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
)

// ErrNotFound is returned by LedgerTx getters for absent records.
var ErrNotFound = errors.New("record not found")

// LedgerTx reads and buffers writes for one atomic command.
type LedgerTx interface {
	Config(ctx context.Context) (*models.Config, error)
	SaveConfig(ctx context.Context, cfg *models.Config) error

	// AssetList returns registered asset addresses in registration order.
	AssetList(ctx context.Context) ([]string, error)
	SaveAssetList(ctx context.Context, assets []string) error
	Asset(ctx context.Context, address string) (*models.Asset, error)
	SaveAsset(ctx context.Context, asset *models.Asset) error

	Allocations(ctx context.Context, asset string) ([]models.AllocationMeta, error)
	SaveAllocations(ctx context.Context, asset string, allocs []models.AllocationMeta) error

	Holders(ctx context.Context) ([]string, error)
	SaveHolders(ctx context.Context, holders []string) error
	Holding(ctx context.Context, holder string) (*models.Holding, error)
	SaveHolding(ctx context.Context, holder string, h *models.Holding) error

	// EnqueueOutbox appends a batch that is dispatched once the transaction commits.
	EnqueueOutbox(ctx context.Context, batch *models.InstructionBatch) error
}

// LedgerStore persists treasury state. Update commits every write made through
// the transaction or none of them.
type LedgerStore interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
	PendingOutbox(ctx context.Context, limit int) ([]*models.InstructionBatch, error)
	AckOutbox(ctx context.Context, ids ...string) error
	Health(ctx context.Context) error
	Close() error
}

// Authorizer answers permission checks against the admin authorization service.
type Authorizer interface {
	HasPermission(ctx context.Context, authContract models.Contract, user string, perm models.Permission) (bool, error)
}

// TokenProtocol queries fungible token contracts.
type TokenProtocol interface {
	Balance(ctx context.Context, token models.Contract, owner string) (decimal.Decimal, error)
	Allowance(ctx context.Context, token models.Contract, owner, spender string) (decimal.Decimal, error)
	TokenInfo(ctx context.Context, token models.Contract) (models.TokenInfo, error)
}

// AdapterProtocol queries yield adapters about the manager's position in an asset.
type AdapterProtocol interface {
	Balance(ctx context.Context, adapter models.Contract, asset string) (decimal.Decimal, error)
	Claimable(ctx context.Context, adapter models.Contract, asset string) (decimal.Decimal, error)
	Unbondable(ctx context.Context, adapter models.Contract, asset string) (decimal.Decimal, error)
}

// InstructionPublisher hands committed batches to the executor.
type InstructionPublisher interface {
	PublishBatch(ctx context.Context, batch *models.InstructionBatch) error
	Close() error
}

// Journal stores the audit trail of dispatched batches.
type Journal interface {
	Init(ctx context.Context) error
	Record(ctx context.Context, entries []models.JournalEntry) error
	Query(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.JournalEntry, error)
	Health(ctx context.Context) error
	Close() error
}

// Locker serialises commands on the same asset across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// TransferStream delivers inbound transfer notifications from the chain.
type TransferStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, tokens []string) error
	Read(ctx context.Context) (<-chan *models.TransferNotification, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordCommand(command, result string)
	RecordInstruction(kind, asset string)
	RecordReconciliation(asset string, delta float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
