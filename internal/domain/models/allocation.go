package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AllocationType selects how an allocation's target is interpreted.
type AllocationType string

const (
	// AllocationAmount targets a fixed absolute amount.
	AllocationAmount AllocationType = "amount"
	// AllocationPortion targets a share of the investable total, scaled by 10^18.
	AllocationPortion AllocationType = "portion"
)

// Valid reports whether t is a known allocation type.
func (t AllocationType) Valid() bool {
	switch t {
	case AllocationAmount, AllocationPortion:
		return true
	default:
		return false
	}
}

// Allocation is a funding policy for one adapter sub-account.
type Allocation struct {
	Nick      string          `json:"nick,omitempty"`
	Contract  Contract        `json:"contract"`
	AllocType AllocationType  `json:"alloc_type"`
	Amount    decimal.Decimal `json:"amount"`
	Tolerance decimal.Decimal `json:"tolerance"`
}

// AllocationMeta is an Allocation plus the adapter balance last observed for it.
// Balance is refreshed before every use and never trusted from storage.
type AllocationMeta struct {
	Nick      string          `json:"nick,omitempty"`
	Contract  Contract        `json:"contract"`
	AllocType AllocationType  `json:"alloc_type"`
	Amount    decimal.Decimal `json:"amount"`
	Tolerance decimal.Decimal `json:"tolerance"`
	Balance   decimal.Decimal `json:"balance"`
}

// Meta converts a into a registry entry with a zero balance.
func (a Allocation) Meta() AllocationMeta {
	return AllocationMeta{
		Nick:      a.Nick,
		Contract:  a.Contract,
		AllocType: a.AllocType,
		Amount:    a.Amount,
		Tolerance: a.Tolerance,
		Balance:   decimal.Zero,
	}
}

func (a AllocationMeta) String() string {
	if a.Nick != "" {
		return fmt.Sprintf("%s(%s)", a.Nick, a.Contract.Address)
	}
	return a.Contract.Address
}
