package domain

import (
	"time"

	"github.com/google/uuid"
)

// Store is a registered merchant storefront. The principal receives invoice
// settlement on-chain; the webhook fields drive outbound notification.
type Store struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Principal        string    `json:"principal"`
	WebhookURL       *string   `json:"webhook_url,omitempty"`
	WebhookSecretEnc string    `json:"-"` // AES-GCM encrypted HMAC secret
	APIKeyID         string    `json:"api_key_id"`
	APIKeyHash       string    `json:"-"` // Argon2id, never exposed
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsActive reports whether the store may create invoices and receive
// webhooks.
func (s *Store) IsActive() bool {
	return s.Active
}

// HasWebhook reports whether a delivery URL is configured.
func (s *Store) HasWebhook() bool {
	return s.WebhookURL != nil && *s.WebhookURL != ""
}
