package api

import (
	"net/http"

	"FinTreasury/internal/domain/models"
	xhttp "FinTreasury/pkg/http"
)

var domainErrors = xhttp.ErrorMapper{
	{Err: models.ErrUnauthorized, Code: "ERR_UNAUTHORIZED", Status: http.StatusForbidden},
	{Err: models.ErrNotInitialized, Code: "ERR_NOT_INITIALIZED", Status: http.StatusServiceUnavailable},
	{Err: models.ErrUnknownAsset, Code: "ERR_UNKNOWN_ASSET", Status: http.StatusNotFound},
	{Err: models.ErrUnknownHolder, Code: "ERR_UNKNOWN_HOLDER", Status: http.StatusNotFound},
	{Err: models.ErrHolderExists, Code: "ERR_HOLDER_EXISTS", Status: http.StatusConflict},
	{Err: models.ErrAssetBusy, Code: "ERR_ASSET_BUSY", Status: http.StatusConflict},
	{Err: models.ErrInactiveHolding, Code: "ERR_INACTIVE_HOLDING", Status: http.StatusUnprocessableEntity},
	{Err: models.ErrTreasuryHolding, Code: "ERR_TREASURY_HOLDING", Status: http.StatusUnprocessableEntity},
	{Err: models.ErrInsufficientBalance, Code: "ERR_INSUFFICIENT_BALANCE", Status: http.StatusUnprocessableEntity},
	{Err: models.ErrNoUnbondingForAsset, Code: "ERR_NO_UNBONDING", Status: http.StatusUnprocessableEntity},
	{Err: models.ErrAllocationCapExceeded, Code: "ERR_ALLOCATION_CAP", Status: http.StatusBadRequest},
	{Err: models.ErrInvalidAllocation, Code: "ERR_INVALID_ALLOCATION", Status: http.StatusBadRequest},
	{Err: models.ErrInvalidAmount, Code: "ERR_INVALID_AMOUNT", Status: http.StatusBadRequest},
	{Err: models.ErrInvalidConfig, Code: "ERR_INVALID_CONFIG", Status: http.StatusBadRequest},
	{Err: models.ErrInvalidRange, Code: "ERR_INVALID_RANGE", Status: http.StatusBadRequest},
	{Err: models.ErrArithmeticOverflow, Code: "ERR_OVERFLOW", Status: http.StatusUnprocessableEntity},
	{Err: models.ErrArithmeticUnderflow, Code: "ERR_UNDERFLOW", Status: http.StatusUnprocessableEntity},
}
