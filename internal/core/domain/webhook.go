package domain

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event types delivered to merchants.
const (
	EventInvoicePaid          = "invoice-paid"
	EventInvoiceRefunded      = "invoice-refunded"
	EventInvoiceCanceled      = "invoice-canceled"
	EventInvoiceExpired       = "invoice-expired"
	EventSubscriptionCreated  = "subscription-created"
	EventSubscriptionPaid     = "subscription-paid"
	EventSubscriptionCanceled = "subscription-canceled"
	EventSubscriptionBilled   = "subscription-invoice-created"
)

// MaxWebhookAttempts is the hard cap on delivery attempts per logical event.
const MaxWebhookAttempts = 5

// WebhookAttempt is one persisted delivery attempt. A row is written before
// the network call and updated with the outcome, so a crash mid-delivery
// still leaves an auditable, retryable record.
type WebhookAttempt struct {
	ID             uuid.UUID `json:"id"`
	StoreID        uuid.UUID `json:"store_id"`
	InvoiceID      *LedgerID `json:"invoice_id,omitempty"`
	SubscriptionID *LedgerID `json:"subscription_id,omitempty"`
	EventType      string    `json:"event_type"`
	Payload        string    `json:"payload"` // JSON body as sent
	HTTPStatus     *int      `json:"http_status,omitempty"`
	Success        bool      `json:"success"`
	Attempt        int       `json:"attempt"` // 1..MaxWebhookAttempts
	AttemptedAt    time.Time `json:"attempted_at"`
}

// EventKey identifies the logical event this attempt belongs to. Attempt
// numbering, the success short-circuit and the in-flight set all key on it.
func (w *WebhookAttempt) EventKey() string {
	return WebhookEventKey(w.StoreID, w.InvoiceID, w.SubscriptionID, w.EventType)
}

// WebhookEventKey builds the (store, entity, event type) dedup key.
func WebhookEventKey(storeID uuid.UUID, invoiceID, subscriptionID *LedgerID, eventType string) string {
	key := storeID.String() + "|"
	if invoiceID != nil {
		key += invoiceID.String()
	}
	key += "|"
	if subscriptionID != nil {
		key += subscriptionID.String()
	}
	return key + "|" + eventType
}
