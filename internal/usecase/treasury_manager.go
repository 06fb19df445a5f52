package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	applogger "FinTreasury/pkg/logger"
)

// TreasuryManager executes treasury commands. Each command runs in one ledger
// transaction; the instructions it queues are written to the outbox in that
// same transaction and dispatched only after commit.
type TreasuryManager struct {
	store    drepo.LedgerStore
	auth     drepo.Authorizer
	tokens   drepo.TokenProtocol
	adapters drepo.AdapterProtocol
	metrics  drepo.Metrics
	locker   drepo.Locker
	dispatch *Dispatcher
	log      *applogger.Logger

	self       string
	codeHash   string
	viewingKey string
	lockTTL    time.Duration

	newID func() string
	now   func() time.Time
}

// ManagerOption configures TreasuryManager.
type ManagerOption func(*TreasuryManager)

// WithLocker serialises fund-moving commands per asset.
func WithLocker(l drepo.Locker, ttl time.Duration) ManagerOption {
	return func(m *TreasuryManager) {
		m.locker = l
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithDispatcher flushes the outbox right after each committed command.
func WithDispatcher(d *Dispatcher) ManagerOption {
	return func(m *TreasuryManager) { m.dispatch = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *applogger.Logger) ManagerOption {
	return func(m *TreasuryManager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithIdentity sets the code hash and viewing key used in host registrations.
func WithIdentity(codeHash, viewingKey string) ManagerOption {
	return func(m *TreasuryManager) {
		m.codeHash = codeHash
		m.viewingKey = viewingKey
	}
}

// WithClock overrides time and id generation.
func WithClock(now func() time.Time, newID func() string) ManagerOption {
	return func(m *TreasuryManager) {
		if now != nil {
			m.now = now
		}
		if newID != nil {
			m.newID = newID
		}
	}
}

// NewTreasuryManager creates a manager acting as the account self.
func NewTreasuryManager(
	self string,
	store drepo.LedgerStore,
	auth drepo.Authorizer,
	tokens drepo.TokenProtocol,
	adapters drepo.AdapterProtocol,
	metrics drepo.Metrics,
	opts ...ManagerOption,
) *TreasuryManager {
	m := &TreasuryManager{
		store:    store,
		auth:     auth,
		tokens:   tokens,
		adapters: adapters,
		metrics:  metrics,
		log:      applogger.Nop(),
		self:     self,
		lockTTL:  30 * time.Second,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Self returns the manager's own account.
func (m *TreasuryManager) Self() string { return m.self }

// command accumulates what one command queues.
type command struct {
	m     *TreasuryManager
	batch *models.InstructionBatch
}

func (c *command) emit(ins models.Instruction) {
	ins.ID = c.m.newID()
	c.batch.Instructions = append(c.batch.Instructions, ins)
}

func (c *command) event(kind models.EventKind, asset, holder string, amount decimal.Decimal) {
	c.batch.Events = append(c.batch.Events, models.LedgerEvent{Kind: kind, Asset: asset, Holder: holder, Amount: amount})
}

type commandFunc func(ctx context.Context, tx drepo.LedgerTx, cmd *command) error

// run executes fn atomically. With lock set, the asset lock is held for the
// whole command so concurrent planners cannot see the same balances.
func (m *TreasuryManager) run(ctx context.Context, name, caller, asset string, lock bool, fn commandFunc) (*models.InstructionBatch, error) {
	start := m.now()
	defer func() { m.metrics.RecordLatency(name, time.Since(start).Seconds()) }()

	if lock && m.locker != nil && asset != "" {
		key := "asset:" + asset
		ok, err := m.locker.TryLock(ctx, key, m.lockTTL)
		if err != nil {
			return nil, m.fail(name, caller, asset, fmt.Errorf("acquire lock: %w", err))
		}
		if !ok {
			return nil, m.fail(name, caller, asset, fmt.Errorf("%w: %s", models.ErrAssetBusy, asset))
		}
		defer func() {
			if err := m.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
				m.log.Warn("release asset lock", applogger.String("asset", asset), applogger.Error(err))
			}
		}()
	}

	var batch *models.InstructionBatch
	err := m.store.Update(ctx, func(tx drepo.LedgerTx) error {
		cmd := &command{m: m, batch: &models.InstructionBatch{
			ID:        m.newID(),
			Command:   name,
			Caller:    caller,
			Asset:     asset,
			CreatedAt: m.now().UTC(),
		}}
		if err := fn(ctx, tx, cmd); err != nil {
			return err
		}
		if !cmd.batch.Empty() {
			if err := tx.EnqueueOutbox(ctx, cmd.batch); err != nil {
				return fmt.Errorf("enqueue outbox: %w", err)
			}
		}
		batch = cmd.batch
		return nil
	})
	if err != nil {
		return nil, m.fail(name, caller, asset, err)
	}

	m.metrics.RecordCommand(name, "ok")
	m.log.Info("command committed",
		applogger.String("command", name),
		applogger.String("caller", caller),
		applogger.String("asset", asset),
		applogger.String("batch_id", batch.ID),
		applogger.Int("instructions", len(batch.Instructions)),
	)

	if m.dispatch != nil && !batch.Empty() {
		if _, err := m.dispatch.Flush(ctx); err != nil {
			m.log.Warn("outbox dispatch deferred", applogger.String("batch_id", batch.ID), applogger.Error(err))
		}
	}
	return batch, nil
}

func (m *TreasuryManager) fail(name, caller, asset string, err error) error {
	kind := errorKind(err)
	m.metrics.RecordCommand(name, kind)
	m.metrics.RecordError(kind)
	fields := []applogger.Field{
		applogger.String("command", name),
		applogger.String("caller", caller),
		applogger.String("asset", asset),
		applogger.Error(err),
	}
	if kind == "internal" {
		m.log.Error("command failed", fields...)
	} else {
		m.log.Warn("command rejected", fields...)
	}
	return err
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{models.ErrUnauthorized, "unauthorized"},
	{models.ErrUnknownAsset, "unknown_asset"},
	{models.ErrUnknownHolder, "unknown_holder"},
	{models.ErrInactiveHolding, "inactive_holding"},
	{models.ErrHolderExists, "holder_exists"},
	{models.ErrTreasuryHolding, "treasury_holding"},
	{models.ErrAllocationCapExceeded, "allocation_cap"},
	{models.ErrInvalidAllocation, "invalid_allocation"},
	{models.ErrInsufficientBalance, "insufficient_balance"},
	{models.ErrNoUnbondingForAsset, "no_unbonding"},
	{models.ErrInvalidAmount, "invalid_amount"},
	{models.ErrInvalidConfig, "invalid_config"},
	{models.ErrAssetBusy, "busy"},
	{models.ErrNotInitialized, "not_initialized"},
	{models.ErrArithmeticOverflow, "overflow"},
	{models.ErrArithmeticUnderflow, "underflow"},
}

// errorKind labels err for metrics; anything unrecognised is "internal".
func errorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

func commandResult(b *models.InstructionBatch) models.CommandResult {
	if b == nil {
		return models.CommandResult{Instructions: []models.Instruction{}}
	}
	ins := b.Instructions
	if ins == nil {
		ins = []models.Instruction{}
	}
	id := ""
	if !b.Empty() {
		id = b.ID
	}
	return models.CommandResult{BatchID: id, Instructions: ins}
}

func loadConfig(ctx context.Context, tx drepo.LedgerTx) (*models.Config, error) {
	cfg, err := tx.Config(ctx)
	if errors.Is(err, drepo.ErrNotFound) {
		return nil, models.ErrNotInitialized
	}
	return cfg, err
}

func loadAsset(ctx context.Context, tx drepo.LedgerTx, address string) (*models.Asset, error) {
	a, err := tx.Asset(ctx, address)
	if errors.Is(err, drepo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownAsset, address)
	}
	return a, err
}

func loadAllocations(ctx context.Context, tx drepo.LedgerTx, asset string) ([]models.AllocationMeta, error) {
	allocs, err := tx.Allocations(ctx, asset)
	if errors.Is(err, drepo.ErrNotFound) {
		return []models.AllocationMeta{}, nil
	}
	return allocs, err
}

func loadHolding(ctx context.Context, tx drepo.LedgerTx, holder string) (*models.Holding, error) {
	h, err := tx.Holding(ctx, holder)
	if errors.Is(err, drepo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownHolder, holder)
	}
	return h, err
}

func (m *TreasuryManager) isAdmin(ctx context.Context, cfg *models.Config, caller string) (bool, error) {
	if caller == "" {
		return false, nil
	}
	ok, err := m.auth.HasPermission(ctx, cfg.AdminAuth, caller, models.PermissionTreasuryManager)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return ok, nil
}

func (m *TreasuryManager) requireAdmin(ctx context.Context, tx drepo.LedgerTx, caller string) (*models.Config, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	ok, err := m.isAdmin(ctx, cfg, caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s lacks %s", models.ErrUnauthorized, caller, models.PermissionTreasuryManager)
	}
	return cfg, nil
}

// resolveHolder maps a caller to the holder it acts for: administrators act
// for the treasury, everyone else for themselves.
func (m *TreasuryManager) resolveHolder(ctx context.Context, tx drepo.LedgerTx, cfg *models.Config, caller string) (string, error) {
	admin, err := m.isAdmin(ctx, cfg, caller)
	if err != nil {
		return "", err
	}
	if admin {
		return cfg.Treasury, nil
	}
	holders, err := tx.Holders(ctx)
	if err != nil {
		return "", err
	}
	if !contains(holders, caller) {
		return "", fmt.Errorf("%w: %s", models.ErrUnknownHolder, caller)
	}
	return caller, nil
}

// refreshBalances replaces every stored balance with the adapter's answer.
func (m *TreasuryManager) refreshBalances(ctx context.Context, asset string, allocs []models.AllocationMeta) error {
	for i := range allocs {
		bal, err := m.adapters.Balance(ctx, allocs[i].Contract, asset)
		if err != nil {
			return fmt.Errorf("adapter %s balance: %w", allocs[i], err)
		}
		allocs[i].Balance = bal
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type noopMetrics struct{}

func (noopMetrics) RecordCommand(string, string)         {}
func (noopMetrics) RecordInstruction(string, string)     {}
func (noopMetrics) RecordReconciliation(string, float64) {}
func (noopMetrics) RecordError(string)                   {}
func (noopMetrics) RecordLatency(string, float64)        {}
