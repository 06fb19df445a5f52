package models

import (
	"github.com/shopspring/decimal"

	"FinTreasury/pkg/fixed"
)

// HoldingStatus is the lifecycle state of a holder.
type HoldingStatus string

const (
	StatusActive HoldingStatus = "active"
	StatusClosed HoldingStatus = "closed"
)

// Balance is an amount of one token.
type Balance struct {
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

// Holding tracks a holder's available and pending-withdrawal balances per token.
// Entries keep insertion order.
type Holding struct {
	Balances   []Balance     `json:"balances"`
	Unbondings []Balance     `json:"unbondings"`
	Status     HoldingStatus `json:"status"`
}

// NewHolding returns an empty active holding.
func NewHolding() *Holding {
	return &Holding{Balances: []Balance{}, Unbondings: []Balance{}, Status: StatusActive}
}

// Active reports whether the holding accepts deposits and unbonds.
func (h *Holding) Active() bool { return h.Status == StatusActive }

// Balance returns the available amount of token.
func (h *Holding) Balance(token string) decimal.Decimal { return find(h.Balances, token) }

// Unbonding returns the pending withdrawal of token.
func (h *Holding) Unbonding(token string) decimal.Decimal { return find(h.Unbondings, token) }

// HasUnbonding reports whether a pending record exists for token.
func (h *Holding) HasUnbonding(token string) bool {
	return index(h.Unbondings, token) >= 0
}

// Credit adds amount to the available balance.
func (h *Holding) Credit(token string, amount decimal.Decimal) error {
	var err error
	h.Balances, err = add(h.Balances, token, amount)
	return err
}

// Debit removes amount from the available balance.
// The entry is kept at zero so the token ordering survives.
func (h *Holding) Debit(token string, amount decimal.Decimal) error {
	i := index(h.Balances, token)
	if i < 0 {
		if amount.IsZero() {
			return nil
		}
		return fixed.ErrUnderflow
	}
	next, err := fixed.Sub(h.Balances[i].Amount, amount)
	if err != nil {
		return err
	}
	h.Balances[i].Amount = next
	return nil
}

// AddUnbonding increases the pending withdrawal for token.
func (h *Holding) AddUnbonding(token string, amount decimal.Decimal) error {
	var err error
	h.Unbondings, err = add(h.Unbondings, token, amount)
	return err
}

// SettleUnbonding reduces the pending withdrawal for token, dropping the record at zero.
func (h *Holding) SettleUnbonding(token string, amount decimal.Decimal) error {
	i := index(h.Unbondings, token)
	if i < 0 {
		if amount.IsZero() {
			return nil
		}
		return fixed.ErrUnderflow
	}
	next, err := fixed.Sub(h.Unbondings[i].Amount, amount)
	if err != nil {
		return err
	}
	if next.IsZero() {
		h.Unbondings = append(h.Unbondings[:i], h.Unbondings[i+1:]...)
		return nil
	}
	h.Unbondings[i].Amount = next
	return nil
}

func index(list []Balance, token string) int {
	for i := range list {
		if list[i].Token == token {
			return i
		}
	}
	return -1
}

func find(list []Balance, token string) decimal.Decimal {
	if i := index(list, token); i >= 0 {
		return list[i].Amount
	}
	return decimal.Zero
}

func add(list []Balance, token string, amount decimal.Decimal) ([]Balance, error) {
	i := index(list, token)
	if i < 0 {
		if err := fixed.Validate(amount); err != nil {
			return list, err
		}
		return append(list, Balance{Token: token, Amount: amount}), nil
	}
	sum, err := fixed.Add(list[i].Amount, amount)
	if err != nil {
		return list, err
	}
	list[i].Amount = sum
	return list, nil
}
