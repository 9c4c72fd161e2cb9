package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionMode selects how a recurring charge is collected.
type SubscriptionMode string

const (
	// SubscriptionModeInvoice materializes an invoice each interval for the
	// subscriber to pay.
	SubscriptionModeInvoice SubscriptionMode = "invoice"
	// SubscriptionModeDirect charges on-chain via pay-subscription without a
	// per-interval invoice.
	SubscriptionModeDirect SubscriptionMode = "direct"
)

// Subscription mirrors a recurring billing agreement on the ledger.
// Heights are ledger block heights; the interval is counted in blocks.
type Subscription struct {
	ID                  LedgerID         `json:"id"`
	StoreID             uuid.UUID        `json:"store_id"`
	MerchantPrincipal   string           `json:"merchant_principal"`
	SubscriberPrincipal string           `json:"subscriber_principal"`
	Amount              uint64           `json:"amount"`
	IntervalBlocks      uint64           `json:"interval_blocks"`
	Active              bool             `json:"active"`
	Mode                SubscriptionMode `json:"mode"`
	NextDueHeight       uint64           `json:"next_due_height"`
	LastBilledHeight    *uint64          `json:"last_billed_height,omitempty"`
	LastInvoiceID       *LedgerID        `json:"last_invoice_id,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// DueAt reports whether the subscription should be billed at the given
// ledger height.
func (s *Subscription) DueAt(height uint64) bool {
	return s.Active && s.NextDueHeight <= height
}

// NextDueAfterBilling returns the advanced next-due height: always exactly
// one whole interval forward, never backwards.
func (s *Subscription) NextDueAfterBilling() uint64 {
	return s.NextDueHeight + s.IntervalBlocks
}
