package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstructionKind names a fund-movement or host instruction queued by a command.
type InstructionKind string

const (
	// InstructionSend transfers tokens held by the manager to Recipient.
	InstructionSend InstructionKind = "send"
	// InstructionBatchSend carries several manager-held transfers in Actions.
	InstructionBatchSend InstructionKind = "batch_send"
	// InstructionBatchSendFrom carries several allowance transfers (Owner -> Recipient) in Actions.
	InstructionBatchSendFrom InstructionKind = "batch_send_from"
	// InstructionAdapterUnbond asks an adapter to start returning Amount.
	InstructionAdapterUnbond InstructionKind = "adapter_unbond"
	// InstructionAdapterClaim asks an adapter to send back whatever is claimable.
	InstructionAdapterClaim InstructionKind = "adapter_claim"
	// InstructionRegisterReceive registers the manager for inbound transfer callbacks.
	InstructionRegisterReceive InstructionKind = "register_receive"
	// InstructionSetViewingKey authorises balance queries on a token.
	InstructionSetViewingKey InstructionKind = "set_viewing_key"
)

// TransferAction is one leg of a batched transfer.
type TransferAction struct {
	Owner     string          `json:"owner,omitempty"`
	Recipient string          `json:"recipient"`
	CodeHash  string          `json:"recipient_code_hash,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// Instruction is addressed to Contract: the token for transfers and host
// registrations, the adapter for unbond and claim.
type Instruction struct {
	ID        string           `json:"id"`
	Kind      InstructionKind  `json:"kind"`
	Contract  Contract         `json:"contract"`
	Asset     string           `json:"asset,omitempty"`
	Recipient string           `json:"recipient,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	Actions   []TransferAction `json:"actions,omitempty"`
	Key       string           `json:"key,omitempty"`
	CodeHash  string           `json:"code_hash,omitempty"`
}

// EventKind names a ledger change recorded alongside a batch.
type EventKind string

const (
	EventDeposit      EventKind = "deposit"
	EventClaimReturn  EventKind = "claim_return"
	EventAllowanceIn  EventKind = "allowance_in"
	EventGain         EventKind = "gain"
	EventLoss         EventKind = "loss"
	EventUnbond       EventKind = "unbond"
	EventSettle       EventKind = "settle"
	EventHolderAdded  EventKind = "holder_added"
	EventHolderClosed EventKind = "holder_closed"
	EventAllocation   EventKind = "allocation"
	EventAssetAdded   EventKind = "asset_registered"
	EventConfig       EventKind = "config_updated"
)

// LedgerEvent records a change to holder or registry state.
type LedgerEvent struct {
	Kind   EventKind       `json:"kind"`
	Asset  string          `json:"asset,omitempty"`
	Holder string          `json:"holder,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// InstructionBatch is the outbox unit: everything one command queued, in order.
type InstructionBatch struct {
	ID           string        `json:"id"`
	Command      string        `json:"command"`
	Caller       string        `json:"caller,omitempty"`
	Asset        string        `json:"asset,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	Instructions []Instruction `json:"instructions"`
	Events       []LedgerEvent `json:"events,omitempty"`
}

// Empty reports whether the batch carries nothing worth dispatching.
func (b *InstructionBatch) Empty() bool {
	return len(b.Instructions) == 0 && len(b.Events) == 0
}

// JournalEntry is one flattened audit row.
type JournalEntry struct {
	Timestamp time.Time `json:"timestamp"`
	BatchID   string    `json:"batch_id"`
	Command   string    `json:"command"`
	Asset     string    `json:"asset"`
	Kind      string    `json:"kind"`
	Holder    string    `json:"holder"`
	Target    string    `json:"target"`
	Amount    string    `json:"amount"`
}

// JournalEntries flattens a batch, one row per instruction leg or event.
func (b *InstructionBatch) JournalEntries() []JournalEntry {
	out := make([]JournalEntry, 0, len(b.Instructions)+len(b.Events))
	row := func(asset, kind, holder, target string, amount decimal.Decimal) {
		out = append(out, JournalEntry{
			Timestamp: b.CreatedAt,
			BatchID:   b.ID,
			Command:   b.Command,
			Asset:     asset,
			Kind:      kind,
			Holder:    holder,
			Target:    target,
			Amount:    amount.String(),
		})
	}
	for _, ins := range b.Instructions {
		if len(ins.Actions) > 0 {
			for _, a := range ins.Actions {
				row(ins.Asset, string(ins.Kind), a.Owner, a.Recipient, a.Amount)
			}
			continue
		}
		row(ins.Asset, string(ins.Kind), "", firstNonEmpty(ins.Recipient, ins.Contract.Address), ins.Amount)
	}
	for _, ev := range b.Events {
		row(ev.Asset, string(ev.Kind), ev.Holder, "", ev.Amount)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
