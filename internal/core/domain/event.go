package domain

// EventKind enumerates the ledger log entries the reconciliation engine
// understands.
type EventKind string

const (
	EventKindInvoicePaid        EventKind = "invoice-paid"
	EventKindRefundInvoice      EventKind = "refund-invoice"
	EventKindInvoiceCanceled    EventKind = "invoice-canceled"
	EventKindCreateSubscription EventKind = "create-subscription"
	EventKindPaySubscription    EventKind = "pay-subscription"
	EventKindCancelSubscription EventKind = "cancel-subscription"
)

// ChainEvent is a normalized, typed ledger log entry.
type ChainEvent struct {
	Kind           EventKind
	InvoiceID      LedgerID // zero for pure subscription events
	SubscriptionID LedgerID // zero for pure invoice events
	Amount         uint64
	Payer          string
	Merchant       string
	TxID           string
	Height         uint64
	TxIndex        int
}

// InvoiceEvent reports whether the event references an invoice row.
func (e *ChainEvent) InvoiceEvent() bool {
	switch e.Kind {
	case EventKindInvoicePaid, EventKindRefundInvoice, EventKindInvoiceCanceled:
		return true
	}
	return false
}

// SubscriptionEvent reports whether the event drives the subscription
// lifecycle.
func (e *ChainEvent) SubscriptionEvent() bool {
	switch e.Kind {
	case EventKindCreateSubscription, EventKindPaySubscription, EventKindCancelSubscription:
		return true
	}
	return false
}

// Confirmations computes settlement depth at the given tip height.
// An event in the tip block has exactly one confirmation.
func (e *ChainEvent) Confirmations(tipHeight uint64) uint64 {
	if tipHeight < e.Height {
		return 0
	}
	return tipHeight - e.Height + 1
}
