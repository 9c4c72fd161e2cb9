package dto

import (
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
)

// RegisterStoreRequest is the request body for store onboarding.
type RegisterStoreRequest struct {
	Name       string  `json:"name" binding:"required,min=1,max=100"`
	Principal  string  `json:"principal" binding:"required,principal"`
	WebhookURL *string `json:"webhook_url,omitempty" binding:"omitempty,safe_url"`
}

// RegisterStoreResponse carries the credentials shown exactly once.
type RegisterStoreResponse struct {
	StoreID       string `json:"store_id"`
	APIKeyID      string `json:"api_key_id"`
	APIKeySecret  string `json:"api_key_secret"`
	WebhookSecret string `json:"webhook_secret"`
}

// LoginRequest is the request body for dashboard login.
type LoginRequest struct {
	APIKeyID     string `json:"api_key_id" binding:"required"`
	APIKeySecret string `json:"api_key_secret" binding:"required"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// CreateInvoiceRequest is the request body for invoice creation.
type CreateInvoiceRequest struct {
	OrderID string  `json:"order_id" binding:"required,max=100,safe_id"`
	Amount  uint64  `json:"amount" binding:"required,gt=0"`
	Memo    *string `json:"memo,omitempty" binding:"omitempty,max=34"`
}

// InvoiceResponse is the merchant-facing invoice view.
type InvoiceResponse struct {
	ID             string  `json:"id"`
	OrderID        string  `json:"order_id"`
	Amount         uint64  `json:"amount"`
	USDAmount      float64 `json:"usd_amount"`
	Status         string  `json:"status"`
	QuoteExpiresAt string  `json:"quote_expires_at"`
	PayerPrincipal *string `json:"payer_principal,omitempty"`
	SettlementTxID *string `json:"settlement_tx_id,omitempty"`
	RefundedAmount uint64  `json:"refunded_amount"`
	CreatedAt      string  `json:"created_at"`
}

// InvoiceWithCallResponse pairs the invoice with its unsigned registration call.
type InvoiceWithCallResponse struct {
	Invoice InvoiceResponse      `json:"invoice"`
	Call    *domain.ContractCall `json:"call"`
}

// PayCallRequest is the request body for pay-call assembly.
type PayCallRequest struct {
	PayerPrincipal string `json:"payer_principal" binding:"required,principal"`
}

// RefundCallRequest is the request body for refund-call assembly.
type RefundCallRequest struct {
	Amount uint64 `json:"amount" binding:"required,gt=0"`
}

// CreateSubscriptionRequest is the request body for subscription creation.
type CreateSubscriptionRequest struct {
	SubscriberPrincipal string `json:"subscriber_principal" binding:"required,principal"`
	Amount              uint64 `json:"amount" binding:"required,gt=0"`
	IntervalBlocks      uint64 `json:"interval_blocks" binding:"required,gt=0"`
	Mode                string `json:"mode,omitempty" binding:"omitempty,oneof=invoice direct"`
}

// SubscriptionResponse is the merchant-facing subscription view.
type SubscriptionResponse struct {
	ID                  string `json:"id"`
	SubscriberPrincipal string `json:"subscriber_principal"`
	Amount              uint64 `json:"amount"`
	IntervalBlocks      uint64 `json:"interval_blocks"`
	Mode                string `json:"mode"`
	Active              bool   `json:"active"`
	NextDueHeight       uint64 `json:"next_due_height"`
	CreatedAt           string `json:"created_at"`
}

// SubscriptionWithCallResponse pairs the subscription with its registration call.
type SubscriptionWithCallResponse struct {
	Subscription SubscriptionResponse `json:"subscription"`
	Call         *domain.ContractCall `json:"call"`
}

// BroadcastRequest is the request body for relay broadcast.
type BroadcastRequest struct {
	SignedTx string `json:"signed_tx" binding:"required"`
}

// BroadcastResponse returns the submitted transaction id.
type BroadcastResponse struct {
	TxID string `json:"tx_id"`
}

// SetAssetRequest is the admin request body to repoint the settlement asset.
type SetAssetRequest struct {
	AssetAddress  string `json:"asset_address" binding:"required,principal"`
	AssetContract string `json:"asset_contract" binding:"required,max=128"`
	AssetName     string `json:"asset_name" binding:"required,max=128"`
}

// SetStoreActiveRequest is the admin request body to flip a store's flag.
type SetStoreActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// PollerStateResponse exposes the reconciliation engine's checkpoint.
type PollerStateResponse struct {
	Running       bool    `json:"running"`
	CursorHeight  uint64  `json:"cursor_height"`
	LagBlocks     uint64  `json:"lag_blocks"`
	LastRunAt     string  `json:"last_run_at,omitempty"`
	PendingRewind *uint64 `json:"pending_rewind,omitempty"`
	LastError     string  `json:"last_error,omitempty"`
}

// ToInvoiceResponse converts a domain invoice with a resolved display status.
func ToInvoiceResponse(inv *domain.Invoice, displayStatus domain.InvoiceStatus) InvoiceResponse {
	return InvoiceResponse{
		ID:             inv.ID.String(),
		OrderID:        inv.RawID,
		Amount:         inv.Amount,
		USDAmount:      inv.USDAmount,
		Status:         string(displayStatus),
		QuoteExpiresAt: inv.QuoteExpiresAt.Format(time.RFC3339),
		PayerPrincipal: inv.PayerPrincipal,
		SettlementTxID: inv.SettlementTxID,
		RefundedAmount: inv.RefundedAmount,
		CreatedAt:      inv.CreatedAt.Format(time.RFC3339),
	}
}

// ToSubscriptionResponse converts a domain subscription.
func ToSubscriptionResponse(sub *domain.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                  sub.ID.String(),
		SubscriberPrincipal: sub.SubscriberPrincipal,
		Amount:              sub.Amount,
		IntervalBlocks:      sub.IntervalBlocks,
		Mode:                string(sub.Mode),
		Active:              sub.Active,
		NextDueHeight:       sub.NextDueHeight,
		CreatedAt:           sub.CreatedAt.Format(time.RFC3339),
	}
}

// ToRegisterStoreResponse converts the one-time credential set.
func ToRegisterStoreResponse(r *ports.RegisterStoreResponse) RegisterStoreResponse {
	return RegisterStoreResponse{
		StoreID:       r.StoreID.String(),
		APIKeyID:      r.APIKeyID,
		APIKeySecret:  r.APIKeySecret,
		WebhookSecret: r.WebhookSecret,
	}
}
