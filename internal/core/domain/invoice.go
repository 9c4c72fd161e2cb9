package domain

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus represents the settlement state of an invoice as mirrored
// from the ledger.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid            InvoiceStatus = "unpaid"
	InvoiceStatusPaid              InvoiceStatus = "paid"
	InvoiceStatusPartiallyRefunded InvoiceStatus = "partially_refunded"
	InvoiceStatusRefunded          InvoiceStatus = "refunded"
	InvoiceStatusCanceled          InvoiceStatus = "canceled"
	InvoiceStatusExpired           InvoiceStatus = "expired"
)

// OnchainStatus is the ledger's authoritative view of an invoice, used to
// override the locally mirrored status when the two disagree.
type OnchainStatus string

const (
	OnchainStatusUnknown  OnchainStatus = ""
	OnchainStatusPaid     OnchainStatus = "paid"
	OnchainStatusCanceled OnchainStatus = "canceled"
)

// Invoice is the local mirror row of a ledger invoice.
type Invoice struct {
	RawID             string        `json:"raw_id"` // opaque merchant-facing id
	ID                LedgerID      `json:"id"`     // ledger-facing 32-byte id
	StoreID           uuid.UUID     `json:"store_id"`
	Amount            uint64        `json:"amount"` // smallest token unit
	USDAmount         float64       `json:"usd_amount"`
	QuoteExpiresAt    time.Time     `json:"quote_expires_at"`
	MerchantPrincipal string        `json:"merchant_principal"`
	Status            InvoiceStatus `json:"status"`
	Memo              *string       `json:"memo,omitempty"`
	PayerPrincipal    *string       `json:"payer_principal,omitempty"`
	SettlementTxID    *string       `json:"settlement_tx_id,omitempty"`
	SubscriptionID    *LedgerID     `json:"subscription_id,omitempty"`
	RefundedAmount    uint64        `json:"refunded_amount"`
	RefundTxID        *string       `json:"refund_tx_id,omitempty"`
	OnchainExpired    bool          `json:"onchain_expired"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Payable reports whether a pay call may still be assembled for this invoice.
// Paid, canceled, expired and refunded invoices are all final for payment.
func (i *Invoice) Payable() bool {
	return i.Status == InvoiceStatusUnpaid && !i.OnchainExpired
}

// Refundable reports whether the invoice is in a state refunds may start
// from or continue in.
func (i *Invoice) Refundable() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusPartiallyRefunded
}

// RemainingRefundable returns how much of the invoice amount has not been
// refunded yet.
func (i *Invoice) RemainingRefundable() uint64 {
	if i.RefundedAmount >= i.Amount {
		return 0
	}
	return i.Amount - i.RefundedAmount
}

// QuoteExpired reports whether the price quote deadline has passed.
func (i *Invoice) QuoteExpired(now time.Time) bool {
	return now.After(i.QuoteExpiresAt)
}

// DisplayStatus resolves the status shown to merchants. The ledger always
// wins: an on-chain paid or canceled observation overrides everything,
// including a locally expired quote.
func (i *Invoice) DisplayStatus(onchain OnchainStatus, now time.Time) InvoiceStatus {
	switch onchain {
	case OnchainStatusPaid:
		return InvoiceStatusPaid
	case OnchainStatusCanceled:
		return InvoiceStatusCanceled
	}
	if i.Status == InvoiceStatusUnpaid && (i.QuoteExpired(now) || i.OnchainExpired) {
		return InvoiceStatusExpired
	}
	return i.Status
}

// RefundStatusFor returns the status a refund accumulator value maps to.
func (i *Invoice) RefundStatusFor(totalRefunded uint64) InvoiceStatus {
	if totalRefunded >= i.Amount {
		return InvoiceStatusRefunded
	}
	return InvoiceStatusPartiallyRefunded
}
