package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

func ErrInvalidLedgerID() *AppError {
	return New("VAL_001", "Identifier must be 64 hex characters (32 bytes)", http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_002", "Amount must be a positive integer", http.StatusBadRequest)
}

func ErrInvalidPrincipal(principal string) *AppError {
	return New("VAL_003", fmt.Sprintf("Malformed principal: %s", principal), http.StatusBadRequest)
}

// Validation returns a generic VAL_004 validation error.
func Validation(message string) *AppError {
	return New("VAL_004", message, http.StatusBadRequest)
}

// ---- Invoices (INV) ----

func ErrInvoiceNotFound() *AppError {
	return New("INV_001", "Invoice not found", http.StatusNotFound)
}

func ErrInvoiceNotPayable(status string) *AppError {
	return New("INV_002", fmt.Sprintf("Invoice is not payable in status %q", status), http.StatusConflict)
}

func ErrQuoteExpired() *AppError {
	return New("INV_003", "Invoice quote has expired", http.StatusConflict)
}

func ErrAssetNotConfigured() *AppError {
	return New("INV_004", "Fungible asset contract is not configured", http.StatusServiceUnavailable)
}

func ErrIDGenerationExhausted() *AppError {
	return New("INV_005", "Could not generate a unique invoice identifier", http.StatusInternalServerError)
}

// ---- Subscriptions (SUB) ----

func ErrSubscriptionNotFound() *AppError {
	return New("SUB_001", "Subscription not found", http.StatusNotFound)
}

func ErrSubscriptionInactive() *AppError {
	return New("SUB_002", "Subscription is not active", http.StatusConflict)
}

func ErrInvalidInterval() *AppError {
	return New("SUB_003", "Billing interval must be a positive number of blocks", http.StatusBadRequest)
}

// ---- Refunds (REF) ----

func ErrNotRefundable(status string) *AppError {
	return New("REF_001", fmt.Sprintf("Invoice in status %q cannot be refunded", status), http.StatusConflict)
}

func ErrRefundExceedsAmount() *AppError {
	return New("REF_002", "Cumulative refund would exceed the invoice amount", http.StatusBadRequest)
}

func ErrInsufficientMerchantBalance() *AppError {
	return New("REF_003", "Merchant asset balance is below the requested refund", http.StatusPaymentRequired)
}

// ---- Ledger & broadcast (CHAIN) ----

func ErrChainUnavailable(err error) *AppError {
	return Wrap("CHAIN_001", "Ledger RPC unavailable", http.StatusBadGateway, err)
}

func ErrBroadcastDisabled() *AppError {
	return New("CHAIN_002", "Automatic broadcast is disabled", http.StatusForbidden)
}

func ErrSignerKeyMissing() *AppError {
	return New("CHAIN_003", "No signer key configured for broadcast", http.StatusServiceUnavailable)
}

func ErrBroadcastRejected(reason string) *AppError {
	return New("CHAIN_004", fmt.Sprintf("Broadcast rejected by node: %s", reason), http.StatusBadGateway)
}

func ErrNoTransactionID() *AppError {
	return New("CHAIN_005", "Node accepted broadcast but returned no transaction id", http.StatusBadGateway)
}

// ---- Webhooks (WH) ----

func ErrWebhookLogNotFound() *AppError {
	return New("WH_001", "Webhook delivery log not found", http.StatusNotFound)
}

func ErrWebhookSignature() *AppError {
	return New("WH_002", "Invalid webhook signature", http.StatusUnauthorized)
}

func ErrWebhookTimestampSkew() *AppError {
	return New("WH_003", "Webhook timestamp outside allowed window", http.StatusForbidden)
}

func ErrWebhookReplay() *AppError {
	return New("WH_004", "Webhook signature already seen", http.StatusForbidden)
}

// ---- Store auth (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrStoreSuspended() *AppError {
	return New("AUTH_003", "Store is not active", http.StatusForbidden)
}

func ErrStoreNotFound() *AppError {
	return New("AUTH_004", "Store not found", http.StatusNotFound)
}

// ---- Rate limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_002", "Internal database error", http.StatusInternalServerError, err)
}
