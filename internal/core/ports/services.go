package ports

import (
	"context"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// --- Request-time services ---

// CreateInvoiceRequest holds validated input for invoice creation.
type CreateInvoiceRequest struct {
	StoreID uuid.UUID
	RawID   string // merchant-facing order reference
	Amount  uint64
	Memo    *string
	// SubscriptionID links invoices materialized by the scheduler.
	SubscriptionID *domain.LedgerID
}

// InvoiceWithCall pairs a persisted invoice with the unsigned call that
// registers it on the ledger.
type InvoiceWithCall struct {
	Invoice *domain.Invoice
	Call    *domain.ContractCall
}

// InvoiceView is the merchant-facing read model.
type InvoiceView struct {
	Invoice       *domain.Invoice
	DisplayStatus domain.InvoiceStatus
}

// InvoiceService defines invoice creation and pay-call assembly.
type InvoiceService interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*InvoiceWithCall, error)
	Get(ctx context.Context, storeID uuid.UUID, id domain.LedgerID) (*InvoiceView, error)
	// AssemblePayCall builds the unsigned pay call for the given payer,
	// guarded on store activity, quote TTL and payable status.
	AssemblePayCall(ctx context.Context, id domain.LedgerID, payerPrincipal string) (*domain.ContractCall, error)
	// AssembleCancelCall builds the unsigned cancel call.
	AssembleCancelCall(ctx context.Context, storeID uuid.UUID, id domain.LedgerID) (*domain.ContractCall, error)
}

// RefundRequest holds validated input for refund-call assembly.
type RefundRequest struct {
	StoreID   uuid.UUID
	InvoiceID domain.LedgerID
	Amount    uint64
}

// RefundService guards refund policy and builds the capped refund call.
type RefundService interface {
	AssembleRefundCall(ctx context.Context, req RefundRequest) (*domain.ContractCall, error)
}

// CreateSubscriptionRequest holds validated input for subscription creation.
type CreateSubscriptionRequest struct {
	StoreID             uuid.UUID
	SubscriberPrincipal string
	Amount              uint64
	IntervalBlocks      uint64
	Mode                domain.SubscriptionMode
}

// SubscriptionWithCall pairs a persisted subscription with its unsigned
// registration call.
type SubscriptionWithCall struct {
	Subscription *domain.Subscription
	Call         *domain.ContractCall
}

// SubscriptionService defines subscription creation and cancellation.
type SubscriptionService interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionWithCall, error)
	AssembleCancelCall(ctx context.Context, storeID uuid.UUID, id domain.LedgerID) (*domain.ContractCall, error)
}

// --- Webhooks ---

// WebhookEmitter schedules signed webhook delivery for domain events.
// Delivery is at-least-once: dedup happens on read via the success check,
// not via a transactional outbox.
type WebhookEmitter interface {
	EmitInvoiceEvent(ctx context.Context, inv *domain.Invoice, eventType string) error
	// EmitInvoiceEventOnce skips emission when a successful delivery of the
	// same logical event already exists.
	EmitInvoiceEventOnce(ctx context.Context, inv *domain.Invoice, eventType string) error
	EmitSubscriptionEvent(ctx context.Context, sub *domain.Subscription, eventType string) error
}

// WebhookService adds the admin/retry surface on top of emission.
type WebhookService interface {
	WebhookEmitter
	// Retry redelivers a logged event; it is a no-op when a successful
	// attempt for the same logical event exists.
	Retry(ctx context.Context, logID uuid.UUID) error
}

// WebhookSigner signs and verifies the "<ts>.<body>" webhook scheme.
type WebhookSigner interface {
	Sign(secret string, timestamp int64, body []byte) string
	// Verify checks skew, constant-time equality and replay within TTL.
	Verify(ctx context.Context, secret, timestampHeader, signatureHeader string, body []byte, now time.Time) error
}

// ReplayStore remembers recently seen signatures to reject replays.
type ReplayStore interface {
	// CheckAndSet returns true when the signature was not seen within TTL.
	CheckAndSet(ctx context.Context, signature string, ttl time.Duration) (bool, error)
}

// --- Pricing ---

// PriceCache holds the most recent USD snapshot with its own expiry.
type PriceCache interface {
	Get(ctx context.Context) (float64, bool, error)
	Set(ctx context.Context, priceUSD float64, ttl time.Duration) error
}

// PriceService resolves a USD price for the settlement asset. It degrades
// to cache and then to a configured default; it never fails.
type PriceService interface {
	TokenPriceUSD(ctx context.Context) float64
}

// --- Broadcast relay ---

// RelayService submits signed transactions when automatic broadcast is
// enabled. Failures are typed and never swallowed.
type RelayService interface {
	Broadcast(ctx context.Context, signedTx string) (string, error)
}

// --- Store onboarding & auth ---

// RegisterStoreRequest holds input for store onboarding.
type RegisterStoreRequest struct {
	Name       string
	Principal  string
	WebhookURL *string
}

// RegisterStoreResponse carries the secrets shown exactly once.
type RegisterStoreResponse struct {
	StoreID       uuid.UUID
	APIKeyID      string
	APIKeySecret  string
	WebhookSecret string
}

// AuthService defines store onboarding and dashboard authentication.
type AuthService interface {
	Register(ctx context.Context, req RegisterStoreRequest) (*RegisterStoreResponse, error)
	Login(ctx context.Context, apiKeyID, apiKeySecret string) (string, time.Time, error) // token, expiry
	// RotateKeys reissues API and webhook secrets for a store.
	RotateKeys(ctx context.Context, storeID uuid.UUID) (*RegisterStoreResponse, error)
}

// EncryptionService handles AES-256-GCM encryption of secrets at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// HashService handles API-key hashing (Argon2id).
type HashService interface {
	Hash(secret string) (string, error)
	Verify(secret string, hash string) (bool, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	StoreID  uuid.UUID
	APIKeyID string
}

// TokenService handles JWT token operations for the admin/dashboard surface.
type TokenService interface {
	Generate(storeID uuid.UUID, apiKeyID string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}
