package ports

import (
	"context"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// The conditional-write methods below return (applied bool, err error).
// applied=false with a nil error means the status guard did not match —
// another writer got there first — and must be treated as a no-op, not a
// failure. This is the concurrency-control substitute for row locks.

// InvoiceRepository defines persistence operations for invoice mirror rows.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *domain.Invoice) error
	GetByID(ctx context.Context, id domain.LedgerID) (*domain.Invoice, error)
	GetByRawID(ctx context.Context, storeID uuid.UUID, rawID string) (*domain.Invoice, error)
	Exists(ctx context.Context, id domain.LedgerID) (bool, error)

	// MarkPaid transitions unpaid (or locally expired — the ledger wins) to paid.
	MarkPaid(ctx context.Context, id domain.LedgerID, payer, settlementTxID string) (bool, error)
	// MarkCanceled transitions unpaid/expired to canceled.
	MarkCanceled(ctx context.Context, id domain.LedgerID) (bool, error)
	// ApplyRefund advances the refund accumulator, guarded so it only moves
	// forward and only from a refundable status.
	ApplyRefund(ctx context.Context, id domain.LedgerID, totalRefunded uint64, refundTxID string, status domain.InvoiceStatus) (bool, error)
	// MarkExpired bulk-expires unpaid invoices whose quote deadline passed,
	// returning the rows it transitioned.
	MarkExpired(ctx context.Context, now time.Time) ([]domain.Invoice, error)
	// FlagOnchainExpired expires an unpaid invoice the ledger reports as
	// expired, regardless of the local quote deadline.
	FlagOnchainExpired(ctx context.Context, id domain.LedgerID) (bool, error)

	// ListUnpaid returns up to limit unpaid rows, oldest first, for the
	// settlement sweep.
	ListUnpaid(ctx context.Context, limit int) ([]domain.Invoice, error)
	// ListRefundable returns paid/partially refunded rows for the
	// refund-delta sweep.
	ListRefundable(ctx context.Context, limit int) ([]domain.Invoice, error)
}

// SubscriptionRepository defines persistence operations for subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	GetByID(ctx context.Context, id domain.LedgerID) (*domain.Subscription, error)
	Exists(ctx context.Context, id domain.LedgerID) (bool, error)

	// ListDue returns active invoice-mode subscriptions with next_due at or
	// below the given height.
	ListDue(ctx context.Context, height uint64, limit int) ([]domain.Subscription, error)
	// ListActive returns up to limit active subscriptions, oldest first, for
	// the lifecycle sweep.
	ListActive(ctx context.Context, limit int) ([]domain.Subscription, error)
	// RecordBilling advances next_due to nextDueHeight and links the
	// materialized invoice. Guarded to only move next_due forward.
	RecordBilling(ctx context.Context, id domain.LedgerID, nextDueHeight, billedHeight uint64, invoiceID domain.LedgerID) (bool, error)
	// RecordPayment stores the last paid invoice link.
	RecordPayment(ctx context.Context, id domain.LedgerID, invoiceID *domain.LedgerID, height uint64) (bool, error)
	// Deactivate flips active to false, guarded on it being true.
	Deactivate(ctx context.Context, id domain.LedgerID) (bool, error)
}

// WebhookLogRepository defines persistence for webhook delivery attempts.
type WebhookLogRepository interface {
	Create(ctx context.Context, att *domain.WebhookAttempt) error
	Update(ctx context.Context, att *domain.WebhookAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookAttempt, error)

	// HasSuccessful reports whether any attempt for the logical event
	// succeeded already.
	HasSuccessful(ctx context.Context, storeID uuid.UUID, invoiceID, subscriptionID *domain.LedgerID, eventType string) (bool, error)
	// MaxAttempt returns the highest attempt number recorded for the logical
	// event, 0 if none.
	MaxAttempt(ctx context.Context, storeID uuid.UUID, invoiceID, subscriptionID *domain.LedgerID, eventType string) (int, error)
	// ListRetryCandidates returns the latest failed attempt per logical event
	// that is below the attempt cap and has no successful sibling.
	ListRetryCandidates(ctx context.Context, limit int) ([]domain.WebhookAttempt, error)
}

// CursorRepository persists the singleton poller cursor.
type CursorRepository interface {
	Get(ctx context.Context) (*domain.PollerCursor, error) // nil, nil when absent
	Save(ctx context.Context, cur *domain.PollerCursor) error
}

// StoreRepository defines persistence operations for merchant stores.
type StoreRepository interface {
	Create(ctx context.Context, store *domain.Store) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Store, error)
	GetByAPIKeyID(ctx context.Context, apiKeyID string) (*domain.Store, error)
	GetByPrincipal(ctx context.Context, principal string) (*domain.Store, error)
	Update(ctx context.Context, store *domain.Store) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}
