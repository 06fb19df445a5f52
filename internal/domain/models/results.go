package models

import "github.com/shopspring/decimal"

// CommandResult is returned by commands that only queue instructions.
type CommandResult struct {
	BatchID      string        `json:"batch_id,omitempty"`
	Instructions []Instruction `json:"instructions"`
}

// DepositResult reports who was credited. Credited is empty for adapter returns.
type DepositResult struct {
	CommandResult
	Credited string          `json:"credited,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

// RebalanceResult summarises one planner pass for an asset.
type RebalanceResult struct {
	CommandResult
	Asset            string          `json:"asset"`
	InvestableTotal  decimal.Decimal `json:"investable_total"`
	AllowanceUsed    decimal.Decimal `json:"allowance_used"`
	BalanceRemaining decimal.Decimal `json:"balance_remaining"`
	Gain             decimal.Decimal `json:"gain"`
	Loss             decimal.Decimal `json:"loss"`
	// Error is set when the asset could not be rebalanced in a RebalanceAll pass.
	Error string `json:"error,omitempty"`
}

// UnbondResult reports how a withdrawal request was covered.
type UnbondResult struct {
	CommandResult
	Holder      string          `json:"holder"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Settled     decimal.Decimal `json:"settled"`
	Requested   decimal.Decimal `json:"requested_from_adapters"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// ClaimResult reports a settlement of pending withdrawals.
type ClaimResult struct {
	CommandResult
	Holder    string          `json:"holder"`
	Asset     string          `json:"asset"`
	Settled   decimal.Decimal `json:"settled"`
	Claimed   decimal.Decimal `json:"claimed_from_adapters"`
	Remaining decimal.Decimal `json:"remaining"`
}

// HolderShare is a holder's fraction of the pooled available balance, scaled by 10^18.
type HolderShare struct {
	Holder string          `json:"holder"`
	Share  decimal.Decimal `json:"share"`
}

// HolderPosition is a holder's view of one asset.
type HolderPosition struct {
	Holder     string          `json:"holder"`
	Asset      string          `json:"asset"`
	Balance    decimal.Decimal `json:"balance"`
	Unbonding  decimal.Decimal `json:"unbonding"`
	Claimable  decimal.Decimal `json:"claimable"`
	Unbondable decimal.Decimal `json:"unbondable"`
}

// AssetReport is the registry and pool state of one asset.
type AssetReport struct {
	Asset            string           `json:"asset"`
	Allocations      []AllocationMeta `json:"allocations"`
	PendingAllowance decimal.Decimal  `json:"pending_allowance"`
	Reserves         decimal.Decimal  `json:"reserves"`
}
