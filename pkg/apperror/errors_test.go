package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("REF_002", "Cumulative refund would exceed the invoice amount", http.StatusBadRequest),
			expected: "[REF_002] Cumulative refund would exceed the invoice amount",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("CHAIN_001", "Ledger RPC unavailable", http.StatusBadGateway, fmt.Errorf("connection refused")),
			expected: "[CHAIN_001] Ledger RPC unavailable: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_NilUnwrap(t *testing.T) {
	appErr := New("VAL_002", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestErrorCatalog_HTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidLedgerID", ErrInvalidLedgerID(), "VAL_001", 400},
		{"InvalidAmount", ErrInvalidAmount(), "VAL_002", 400},
		{"InvalidPrincipal", ErrInvalidPrincipal("XX"), "VAL_003", 400},
		{"InvoiceNotFound", ErrInvoiceNotFound(), "INV_001", 404},
		{"InvoiceNotPayable", ErrInvoiceNotPayable("paid"), "INV_002", 409},
		{"QuoteExpired", ErrQuoteExpired(), "INV_003", 409},
		{"NotRefundable", ErrNotRefundable("unpaid"), "REF_001", 409},
		{"RefundExceedsAmount", ErrRefundExceedsAmount(), "REF_002", 400},
		{"InsufficientMerchantBalance", ErrInsufficientMerchantBalance(), "REF_003", 402},
		{"BroadcastDisabled", ErrBroadcastDisabled(), "CHAIN_002", 403},
		{"SignerKeyMissing", ErrSignerKeyMissing(), "CHAIN_003", 503},
		{"NoTransactionID", ErrNoTransactionID(), "CHAIN_005", 502},
		{"WebhookReplay", ErrWebhookReplay(), "WH_004", 403},
		{"StoreSuspended", ErrStoreSuspended(), "AUTH_003", 403},
		{"RateLimitExceeded", ErrRateLimitExceeded(), "RATE_001", 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}
