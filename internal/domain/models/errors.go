package models

import (
	"errors"

	"FinTreasury/pkg/fixed"
)

// Errors returned by treasury commands. Callers match them with errors.Is;
// messages are wrapped with the offending holder or asset.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrUnknownHolder         = errors.New("unknown holder")
	ErrInactiveHolding       = errors.New("inactive holding")
	ErrHolderExists          = errors.New("holding already exists")
	ErrTreasuryHolding       = errors.New("treasury holding cannot be closed")
	ErrAllocationCapExceeded = errors.New("portion allocations exceed 100%")
	ErrInvalidAllocation     = errors.New("invalid allocation")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrNoUnbondingForAsset   = errors.New("no unbonding for asset")
	ErrInvalidAmount         = fixed.ErrInvalidAmount
	ErrInvalidConfig         = errors.New("invalid config")
	ErrAssetBusy             = errors.New("asset is locked by another command")
	ErrNotInitialized        = errors.New("treasury manager not initialized")
	ErrInvalidRange          = errors.New("invalid time range")

	ErrArithmeticOverflow  = fixed.ErrOverflow
	ErrArithmeticUnderflow = fixed.ErrUnderflow
)
