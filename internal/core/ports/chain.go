package ports

import (
	"context"
	"encoding/json"

	"chainpay-gateway/internal/core/domain"
)

// ChainTip is the current head of the canonical chain.
type ChainTip struct {
	Height uint64
	Hash   string
}

// BlockHeader identifies one block and its parent link, which is all the
// reorg guard needs.
type BlockHeader struct {
	Height     uint64
	Hash       string
	ParentHash string
}

// RawEvent is one unparsed entry from the contract event log.
type RawEvent struct {
	TxID       string
	TxIndex    int
	EventIndex int
	EventType  string // only "smart_contract_log" entries are relevant
	Height     uint64 // 0 when the indexer could not resolve the block
	ContractID string
	Topic      string
	Value      json.RawMessage // structured tuple form, may be empty
	Repr       string          // textual source form, fallback parse target
}

// OnchainInvoice is the ledger's read-only view of an invoice, consumed by
// the settlement sweep.
type OnchainInvoice struct {
	Paid           bool
	Canceled       bool
	Expired        bool
	AmountPaid     uint64
	RefundedAmount uint64
	Payer          string
	SettlementTxID string
}

// OnchainSubscription is the ledger's read-only view of a subscription.
type OnchainSubscription struct {
	Active        bool
	NextDueHeight uint64
}

// ChainClient is the read/broadcast boundary to the ledger RPC. Reads retry
// with bounded backoff internally; on exhaustion the domain reads return
// (nil, nil) as an explicit "unknown" sentinel. Tip is the exception: its
// failure is returned so a reconciliation tick can abort.
type ChainClient interface {
	Tip(ctx context.Context) (ChainTip, error)
	BlockHeader(ctx context.Context, height uint64) (*BlockHeader, error)
	ContractEvents(ctx context.Context, fromHeight uint64) ([]RawEvent, error)
	InvoiceState(ctx context.Context, id domain.LedgerID) (*OnchainInvoice, error)
	SubscriptionState(ctx context.Context, id domain.LedgerID) (*OnchainSubscription, error)
	FungibleBalance(ctx context.Context, principal string) (uint64, error)
	Broadcast(ctx context.Context, rawTx string) (string, error)
}
