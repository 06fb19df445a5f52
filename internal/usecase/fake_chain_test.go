package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"FinTreasury/internal/domain/models"
	"FinTreasury/internal/repository"
)

const (
	self     = "manager"
	treasury = "treasury"
	admin    = "admin"
	token    = "sscrt"
)

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fakeAdapter struct {
	bonded    decimal.Decimal
	unbonding decimal.Decimal
	claimable decimal.Decimal
	// instant adapters make unbonded funds claimable at once
	instant bool
}

// fakeChain stands in for the token, adapter, permission and executor
// collaborators. Published batches are executed against its balances.
type fakeChain struct {
	mu          sync.Mutex
	admins      map[string]bool
	liquid      map[string]decimal.Decimal
	wallets     map[string]decimal.Decimal
	allowance   map[string]decimal.Decimal
	adapters    map[string]*fakeAdapter
	published   []*models.InstructionBatch
	failPublish error
	execErr     error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		admins:    map[string]bool{admin: true},
		liquid:    map[string]decimal.Decimal{},
		wallets:   map[string]decimal.Decimal{},
		allowance: map[string]decimal.Decimal{},
		adapters:  map[string]*fakeAdapter{},
	}
}

func (c *fakeChain) HasPermission(_ context.Context, _ models.Contract, user string, perm models.Permission) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return perm == models.PermissionTreasuryManager && c.admins[user], nil
}

func (c *fakeChain) Balance(_ context.Context, tok models.Contract, owner string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner == self {
		return c.liquid[tok.Address], nil
	}
	return c.wallets[owner], nil
}

func (c *fakeChain) Allowance(_ context.Context, tok models.Contract, owner, spender string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner != treasury || spender != self {
		return decimal.Zero, nil
	}
	return c.allowance[tok.Address], nil
}

func (c *fakeChain) TokenInfo(_ context.Context, tok models.Contract) (models.TokenInfo, error) {
	return models.TokenInfo{Name: "Secret SCRT", Symbol: "SSCRT", Decimals: 6}, nil
}

type fakeAdapters struct{ c *fakeChain }

func (a fakeAdapters) get(addr string) *fakeAdapter {
	if ad, ok := a.c.adapters[addr]; ok {
		return ad
	}
	return &fakeAdapter{}
}

func (a fakeAdapters) Balance(_ context.Context, adapter models.Contract, _ string) (decimal.Decimal, error) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	ad := a.get(adapter.Address)
	return ad.bonded.Add(ad.unbonding).Add(ad.claimable), nil
}

func (a fakeAdapters) Claimable(_ context.Context, adapter models.Contract, _ string) (decimal.Decimal, error) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	return a.get(adapter.Address).claimable, nil
}

func (a fakeAdapters) Unbondable(_ context.Context, adapter models.Contract, _ string) (decimal.Decimal, error) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	return a.get(adapter.Address).bonded, nil
}

func (c *fakeChain) PublishBatch(_ context.Context, b *models.InstructionBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPublish != nil {
		return c.failPublish
	}
	c.published = append(c.published, b)
	for _, ins := range b.Instructions {
		if err := c.apply(ins); err != nil && c.execErr == nil {
			c.execErr = fmt.Errorf("batch %s: %w", b.ID, err)
		}
	}
	return nil
}

func (c *fakeChain) Close() error { return nil }

func (c *fakeChain) adapter(addr string) *fakeAdapter {
	ad, ok := c.adapters[addr]
	if !ok {
		ad = &fakeAdapter{}
		c.adapters[addr] = ad
	}
	return ad
}

func debit(m map[string]decimal.Decimal, key string, v decimal.Decimal) error {
	if m[key].LessThan(v) {
		return fmt.Errorf("%s: balance %s below %s", key, m[key], v)
	}
	m[key] = m[key].Sub(v)
	return nil
}

func (c *fakeChain) apply(ins models.Instruction) error {
	switch ins.Kind {
	case models.InstructionSend:
		return debit(c.liquid, ins.Contract.Address, ins.Amount)
	case models.InstructionBatchSend:
		for _, a := range ins.Actions {
			if err := debit(c.liquid, ins.Contract.Address, a.Amount); err != nil {
				return err
			}
			ad := c.adapter(a.Recipient)
			ad.bonded = ad.bonded.Add(a.Amount)
		}
	case models.InstructionBatchSendFrom:
		for _, a := range ins.Actions {
			if err := debit(c.wallets, a.Owner, a.Amount); err != nil {
				return err
			}
			if err := debit(c.allowance, ins.Contract.Address, a.Amount); err != nil {
				return err
			}
			ad := c.adapter(a.Recipient)
			ad.bonded = ad.bonded.Add(a.Amount)
		}
	case models.InstructionAdapterUnbond:
		ad := c.adapter(ins.Contract.Address)
		if ad.bonded.LessThan(ins.Amount) {
			return fmt.Errorf("unbond %s exceeds bonded %s", ins.Amount, ad.bonded)
		}
		ad.bonded = ad.bonded.Sub(ins.Amount)
		if ad.instant {
			ad.claimable = ad.claimable.Add(ins.Amount)
		} else {
			ad.unbonding = ad.unbonding.Add(ins.Amount)
		}
	case models.InstructionAdapterClaim:
		ad := c.adapter(ins.Contract.Address)
		c.liquid[ins.Asset] = c.liquid[ins.Asset].Add(ad.claimable)
		ad.claimable = decimal.Zero
	}
	return nil
}

// mature moves everything an adapter is unbonding to claimable.
func (c *fakeChain) mature(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ad := c.adapter(addr)
	ad.claimable = ad.claimable.Add(ad.unbonding)
	ad.unbonding = decimal.Zero
}

// withdraw pays an adapter's claimable funds back to the manager.
func (c *fakeChain) withdraw(addr, tok string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	ad := c.adapter(addr)
	out := ad.claimable
	c.liquid[tok] = c.liquid[tok].Add(out)
	ad.claimable = decimal.Zero
	return out
}

func (c *fakeChain) setAdapter(addr string, ad *fakeAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[addr] = ad
}

func (c *fakeChain) addLiquid(tok string, v decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liquid[tok] = c.liquid[tok].Add(v)
}

func (c *fakeChain) liquidOf(tok string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liquid[tok]
}

func (c *fakeChain) grantAllowance(tok string, v decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallets[treasury] = c.wallets[treasury].Add(v)
	c.allowance[tok] = c.allowance[tok].Add(v)
}

func (c *fakeChain) deployed() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, ad := range c.adapters {
		total = total.Add(ad.bonded).Add(ad.unbonding).Add(ad.claimable)
	}
	return total
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	chain *fakeChain
	store *repository.MemoryLedgerStore
	m     *TreasuryManager
	asset models.Contract
}

func newHarness(t *testing.T, opts ...ManagerOption) *harness {
	t.Helper()
	chain := newFakeChain()
	store := repository.NewMemoryLedgerStore()
	disp := NewDispatcher(store, chain, nil)
	opts = append([]ManagerOption{WithDispatcher(disp), WithIdentity("manager-hash", "viewing-key")}, opts...)
	m := NewTreasuryManager(self, store, chain, chain, fakeAdapters{chain}, nil, opts...)

	h := &harness{t: t, ctx: context.Background(), chain: chain, store: store, m: m, asset: models.Contract{Address: token, CodeHash: "token-hash"}}
	require.NoError(t, m.Instantiate(h.ctx, models.Config{
		AdminAuth: models.Contract{Address: "admin_auth", CodeHash: "auth-hash"},
		Treasury:  treasury,
	}))
	_, err := m.RegisterAsset(h.ctx, admin, h.asset)
	require.NoError(t, err)
	return h
}

func (h *harness) addHolder(holder string) {
	h.t.Helper()
	_, err := h.m.AddHolder(h.ctx, admin, holder)
	require.NoError(h.t, err)
}

func (h *harness) allocate(addr string, typ models.AllocationType, amount, tolerance decimal.Decimal) {
	h.t.Helper()
	_, err := h.m.SetAllocation(h.ctx, admin, token, models.Allocation{
		Nick:      addr,
		Contract:  models.Contract{Address: addr, CodeHash: addr + "-hash"},
		AllocType: typ,
		Amount:    amount,
		Tolerance: tolerance,
	})
	require.NoError(h.t, err)
}

// deposit lands funds on the manager and books them.
func (h *harness) deposit(from string, v int64) (models.DepositResult, error) {
	h.chain.addLiquid(token, amt(v))
	return h.m.ReceiveDeposit(h.ctx, models.TransferNotification{Token: token, Notifier: token, Sender: from, From: from, Amount: amt(v)})
}

func (h *harness) balance(holder string) decimal.Decimal {
	h.t.Helper()
	b, err := h.m.Balance(h.ctx, holder, token)
	require.NoError(h.t, err)
	return b
}

func (h *harness) unbonding(holder string) decimal.Decimal {
	h.t.Helper()
	u, err := h.m.Unbonding(h.ctx, holder, token)
	require.NoError(h.t, err)
	return u
}

// assertConserved checks that holder claims equal the funds the manager controls.
func (h *harness) assertConserved() {
	h.t.Helper()
	require.NoError(h.t, h.chain.execErr)
	holders, err := h.m.Holders(h.ctx)
	require.NoError(h.t, err)
	owed := decimal.Zero
	for _, holder := range holders {
		owed = owed.Add(h.balance(holder)).Add(h.unbonding(holder))
	}
	held := h.chain.liquidOf(token).Add(h.chain.deployed())
	require.True(h.t, owed.Equal(held), "holders are owed %s but the manager holds %s", owed, held)
}

func instructionsOf(ins []models.Instruction, kind models.InstructionKind) []models.Instruction {
	var out []models.Instruction
	for _, i := range ins {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}
