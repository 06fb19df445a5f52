package models

import "github.com/shopspring/decimal"

// TransferNotification is an inbound transfer reported by a token contract.
// Sender is the account that executed the transfer, From the owner of the funds.
// Notifier is whoever delivered the notice; only the token contract itself
// may report transfers of its own tokens.
type TransferNotification struct {
	TxHash   string          `json:"tx_hash,omitempty"`
	Token    string          `json:"token" validate:"required"`
	Notifier string          `json:"notifier"`
	Sender   string          `json:"sender"`
	From     string          `json:"from" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
}
