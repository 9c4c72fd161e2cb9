package postgres

import (
	"context"
	"errors"
	"fmt"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookLogRepo implements ports.WebhookLogRepository. Logical events are
// matched on (store_id, invoice_id, subscription_id, event_type) with
// NULL-safe comparison, since exactly one of the entity ids is set.
type WebhookLogRepo struct {
	pool Pool
}

// NewWebhookLogRepo creates a new WebhookLogRepo.
func NewWebhookLogRepo(pool Pool) *WebhookLogRepo {
	return &WebhookLogRepo{pool: pool}
}

const webhookColumns = `id, store_id, invoice_id, subscription_id, event_type,
	payload, http_status, success, attempt, attempted_at`

// Create inserts a delivery attempt row before the network call is made.
func (r *WebhookLogRepo) Create(ctx context.Context, att *domain.WebhookAttempt) error {
	query := `INSERT INTO webhook_attempts (id, store_id, invoice_id, subscription_id,
		event_type, payload, http_status, success, attempt, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		att.ID, att.StoreID, att.InvoiceID, att.SubscriptionID,
		att.EventType, att.Payload, att.HTTPStatus, att.Success, att.Attempt, att.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook attempt: %w", err)
	}
	return nil
}

// Update records the outcome of a delivery attempt.
func (r *WebhookLogRepo) Update(ctx context.Context, att *domain.WebhookAttempt) error {
	query := `UPDATE webhook_attempts
		SET http_status = $1, success = $2, attempted_at = $3
		WHERE id = $4`

	_, err := r.pool.Exec(ctx, query, att.HTTPStatus, att.Success, att.AttemptedAt, att.ID)
	if err != nil {
		return fmt.Errorf("update webhook attempt: %w", err)
	}
	return nil
}

// GetByID fetches a single attempt row.
func (r *WebhookLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookAttempt, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_attempts WHERE id = $1`

	att, err := scanWebhookAttempt(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook attempt by id: %w", err)
	}
	return att, nil
}

// HasSuccessful reports whether any attempt for the logical event succeeded.
func (r *WebhookLogRepo) HasSuccessful(ctx context.Context, storeID uuid.UUID, invoiceID, subscriptionID *domain.LedgerID, eventType string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM webhook_attempts
		WHERE store_id = $1
		  AND invoice_id IS NOT DISTINCT FROM $2
		  AND subscription_id IS NOT DISTINCT FROM $3
		  AND event_type = $4
		  AND success = TRUE)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, storeID, invoiceID, subscriptionID, eventType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check successful webhook attempt: %w", err)
	}
	return exists, nil
}

// MaxAttempt returns the highest attempt number recorded for the logical
// event, 0 if none.
func (r *WebhookLogRepo) MaxAttempt(ctx context.Context, storeID uuid.UUID, invoiceID, subscriptionID *domain.LedgerID, eventType string) (int, error) {
	query := `SELECT COALESCE(MAX(attempt), 0) FROM webhook_attempts
		WHERE store_id = $1
		  AND invoice_id IS NOT DISTINCT FROM $2
		  AND subscription_id IS NOT DISTINCT FROM $3
		  AND event_type = $4`

	var max int
	err := r.pool.QueryRow(ctx, query, storeID, invoiceID, subscriptionID, eventType).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("get max webhook attempt: %w", err)
	}
	return max, nil
}

// ListRetryCandidates returns the latest failed attempt per logical event,
// skipping events that already have a successful sibling or have exhausted
// the attempt cap.
func (r *WebhookLogRepo) ListRetryCandidates(ctx context.Context, limit int) ([]domain.WebhookAttempt, error) {
	query := `SELECT DISTINCT ON (store_id, invoice_id, subscription_id, event_type) ` + webhookColumns + `
		FROM webhook_attempts wa
		WHERE success = FALSE
		  AND attempt < $1
		  AND NOT EXISTS (
			SELECT 1 FROM webhook_attempts ok
			WHERE ok.store_id = wa.store_id
			  AND ok.invoice_id IS NOT DISTINCT FROM wa.invoice_id
			  AND ok.subscription_id IS NOT DISTINCT FROM wa.subscription_id
			  AND ok.event_type = wa.event_type
			  AND ok.success = TRUE)
		ORDER BY store_id, invoice_id, subscription_id, event_type, attempt DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, domain.MaxWebhookAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook retry candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookAttempt
	for rows.Next() {
		att, err := scanWebhookAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook attempt row: %w", err)
		}
		out = append(out, *att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook attempt rows: %w", err)
	}
	return out, nil
}

func scanWebhookAttempt(row pgx.Row) (*domain.WebhookAttempt, error) {
	att := &domain.WebhookAttempt{}
	err := row.Scan(
		&att.ID, &att.StoreID, &att.InvoiceID, &att.SubscriptionID, &att.EventType,
		&att.Payload, &att.HTTPStatus, &att.Success, &att.Attempt, &att.AttemptedAt,
	)
	if err != nil {
		return nil, err
	}
	return att, nil
}
