package models

import "github.com/shopspring/decimal"

// Contract identifies an on-chain contract by address and code hash.
type Contract struct {
	Address  string `json:"address" yaml:"address" validate:"required"`
	CodeHash string `json:"code_hash" yaml:"code_hash"`
}

// TokenInfo is the transfer-protocol metadata reported by a token.
type TokenInfo struct {
	Name        string           `json:"name"`
	Symbol      string           `json:"symbol"`
	Decimals    uint8            `json:"decimals"`
	TotalSupply *decimal.Decimal `json:"total_supply,omitempty"`
}

// Asset is a registered fungible token.
type Asset struct {
	Contract  Contract  `json:"contract"`
	TokenInfo TokenInfo `json:"token_info"`
}
