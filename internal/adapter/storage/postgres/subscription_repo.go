package postgres

import (
	"context"
	"errors"
	"fmt"

	"chainpay-gateway/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SubscriptionRepo implements ports.SubscriptionRepository.
type SubscriptionRepo struct {
	pool Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepo.
func NewSubscriptionRepo(pool Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, store_id, merchant_principal, subscriber_principal,
	amount, interval_blocks, active, mode, next_due_height, last_billed_height,
	last_invoice_id, created_at`

// Create inserts a new subscription row.
func (r *SubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	query := `INSERT INTO subscriptions (id, store_id, merchant_principal, subscriber_principal,
		amount, interval_blocks, active, mode, next_due_height, last_billed_height,
		last_invoice_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		sub.ID, sub.StoreID, sub.MerchantPrincipal, sub.SubscriberPrincipal,
		sub.Amount, sub.IntervalBlocks, sub.Active, sub.Mode, sub.NextDueHeight,
		sub.LastBilledHeight, sub.LastInvoiceID, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetByID fetches a subscription by its ledger identifier.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id domain.LedgerID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return sub, nil
}

// Exists reports whether a subscription row exists for the identifier.
func (r *SubscriptionRepo) Exists(ctx context.Context, id domain.LedgerID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subscription exists: %w", err)
	}
	return exists, nil
}

// ListDue returns active invoice-mode subscriptions whose next_due_height is
// at or below the given height, earliest due first.
func (r *SubscriptionRepo) ListDue(ctx context.Context, height uint64, limit int) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE active = TRUE AND mode = $1 AND next_due_height <= $2
		ORDER BY next_due_height ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, domain.SubscriptionModeInvoice, height, limit)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListActive returns active subscriptions, oldest first, for the lifecycle
// sweep.
func (r *SubscriptionRepo) ListActive(ctx context.Context, limit int) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE active = TRUE ORDER BY created_at ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// RecordBilling advances next_due_height and links the materialized invoice.
// The guard only lets next_due move forward, so two scheduler runs racing on
// the same row bill once.
func (r *SubscriptionRepo) RecordBilling(ctx context.Context, id domain.LedgerID, nextDueHeight, billedHeight uint64, invoiceID domain.LedgerID) (bool, error) {
	query := `UPDATE subscriptions
		SET next_due_height = $1, last_billed_height = $2, last_invoice_id = $3
		WHERE id = $4 AND active = TRUE AND next_due_height < $1`

	tag, err := r.pool.Exec(ctx, query, nextDueHeight, billedHeight, invoiceID, id)
	if err != nil {
		return false, fmt.Errorf("record subscription billing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordPayment stores the last paid invoice link for the subscription.
func (r *SubscriptionRepo) RecordPayment(ctx context.Context, id domain.LedgerID, invoiceID *domain.LedgerID, height uint64) (bool, error) {
	query := `UPDATE subscriptions
		SET last_invoice_id = COALESCE($1, last_invoice_id), last_billed_height = $2
		WHERE id = $3 AND active = TRUE`

	tag, err := r.pool.Exec(ctx, query, invoiceID, height, id)
	if err != nil {
		return false, fmt.Errorf("record subscription payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Deactivate flips active to false, guarded on it being true.
func (r *SubscriptionRepo) Deactivate(ctx context.Context, id domain.LedgerID) (bool, error) {
	query := `UPDATE subscriptions SET active = FALSE WHERE id = $1 AND active = TRUE`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("deactivate subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	err := row.Scan(
		&sub.ID, &sub.StoreID, &sub.MerchantPrincipal, &sub.SubscriberPrincipal,
		&sub.Amount, &sub.IntervalBlocks, &sub.Active, &sub.Mode, &sub.NextDueHeight,
		&sub.LastBilledHeight, &sub.LastInvoiceID, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscription rows: %w", err)
	}
	return out, nil
}
