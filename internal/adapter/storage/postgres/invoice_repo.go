package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InvoiceRepo implements ports.InvoiceRepository. All settlement-state
// transitions are conditional UPDATEs guarded on the current status; the
// rows-affected count becomes the applied flag, so concurrent writers race
// safely without row locks.
type InvoiceRepo struct {
	pool Pool
}

// NewInvoiceRepo creates a new InvoiceRepo.
func NewInvoiceRepo(pool Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool}
}

const invoiceColumns = `id, raw_id, store_id, amount, usd_amount, quote_expires_at,
	merchant_principal, status, memo, payer_principal, settlement_tx_id,
	subscription_id, refunded_amount, refund_tx_id, onchain_expired, created_at`

// Create inserts a new invoice row.
func (r *InvoiceRepo) Create(ctx context.Context, inv *domain.Invoice) error {
	query := `INSERT INTO invoices (id, raw_id, store_id, amount, usd_amount, quote_expires_at,
		merchant_principal, status, memo, payer_principal, settlement_tx_id,
		subscription_id, refunded_amount, refund_tx_id, onchain_expired, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.pool.Exec(ctx, query,
		inv.ID, inv.RawID, inv.StoreID, inv.Amount, inv.USDAmount, inv.QuoteExpiresAt,
		inv.MerchantPrincipal, inv.Status, inv.Memo, inv.PayerPrincipal, inv.SettlementTxID,
		inv.SubscriptionID, inv.RefundedAmount, inv.RefundTxID, inv.OnchainExpired, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// GetByID fetches an invoice by its ledger identifier.
func (r *InvoiceRepo) GetByID(ctx context.Context, id domain.LedgerID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	inv, err := scanInvoice(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice by id: %w", err)
	}
	return inv, nil
}

// GetByRawID fetches an invoice by the merchant-facing order reference.
func (r *InvoiceRepo) GetByRawID(ctx context.Context, storeID uuid.UUID, rawID string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE store_id = $1 AND raw_id = $2`

	inv, err := scanInvoice(r.pool.QueryRow(ctx, query, storeID, rawID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice by raw id: %w", err)
	}
	return inv, nil
}

// Exists reports whether an invoice row exists for the identifier.
func (r *InvoiceRepo) Exists(ctx context.Context, id domain.LedgerID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check invoice exists: %w", err)
	}
	return exists, nil
}

// MarkPaid transitions unpaid (or locally expired) to paid. The ledger is
// authoritative: a locally expired quote does not undo an on-chain payment.
func (r *InvoiceRepo) MarkPaid(ctx context.Context, id domain.LedgerID, payer, settlementTxID string) (bool, error) {
	query := `UPDATE invoices
		SET status = $1, payer_principal = $2, settlement_tx_id = $3
		WHERE id = $4 AND status IN ($5, $6)`

	tag, err := r.pool.Exec(ctx, query,
		domain.InvoiceStatusPaid, payer, settlementTxID,
		id, domain.InvoiceStatusUnpaid, domain.InvoiceStatusExpired,
	)
	if err != nil {
		return false, fmt.Errorf("mark invoice paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCanceled transitions unpaid or expired to canceled.
func (r *InvoiceRepo) MarkCanceled(ctx context.Context, id domain.LedgerID) (bool, error) {
	query := `UPDATE invoices SET status = $1 WHERE id = $2 AND status IN ($3, $4)`

	tag, err := r.pool.Exec(ctx, query,
		domain.InvoiceStatusCanceled, id,
		domain.InvoiceStatusUnpaid, domain.InvoiceStatusExpired,
	)
	if err != nil {
		return false, fmt.Errorf("mark invoice canceled: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyRefund advances the refund accumulator. The guard only lets it move
// forward and only from a refundable status, so replayed events and sweep
// overlap collapse into one write.
func (r *InvoiceRepo) ApplyRefund(ctx context.Context, id domain.LedgerID, totalRefunded uint64, refundTxID string, status domain.InvoiceStatus) (bool, error) {
	query := `UPDATE invoices
		SET refunded_amount = $1, refund_tx_id = NULLIF($2, ''), status = $3
		WHERE id = $4 AND status IN ($5, $6) AND refunded_amount < $1`

	tag, err := r.pool.Exec(ctx, query,
		totalRefunded, refundTxID, status,
		id, domain.InvoiceStatusPaid, domain.InvoiceStatusPartiallyRefunded,
	)
	if err != nil {
		return false, fmt.Errorf("apply refund: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkExpired bulk-expires unpaid invoices whose quote deadline passed and
// returns the transitioned rows so the caller can notify each one.
func (r *InvoiceRepo) MarkExpired(ctx context.Context, now time.Time) ([]domain.Invoice, error) {
	query := `UPDATE invoices SET status = $1
		WHERE status = $2 AND quote_expires_at < $3
		RETURNING ` + invoiceColumns

	rows, err := r.pool.Query(ctx, query, domain.InvoiceStatusExpired, domain.InvoiceStatusUnpaid, now)
	if err != nil {
		return nil, fmt.Errorf("mark invoices expired: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// FlagOnchainExpired expires an unpaid invoice the ledger reports as expired,
// regardless of the local quote deadline.
func (r *InvoiceRepo) FlagOnchainExpired(ctx context.Context, id domain.LedgerID) (bool, error) {
	query := `UPDATE invoices SET status = $1, onchain_expired = TRUE
		WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, domain.InvoiceStatusExpired, id, domain.InvoiceStatusUnpaid)
	if err != nil {
		return false, fmt.Errorf("flag invoice onchain expired: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListUnpaid returns up to limit unpaid rows, oldest first.
func (r *InvoiceRepo) ListUnpaid(ctx context.Context, limit int) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, domain.InvoiceStatusUnpaid, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpaid invoices: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// ListRefundable returns paid and partially refunded rows for the
// refund-delta sweep.
func (r *InvoiceRepo) ListRefundable(ctx context.Context, limit int) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE status IN ($1, $2) ORDER BY created_at ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query,
		domain.InvoiceStatusPaid, domain.InvoiceStatusPartiallyRefunded, limit)
	if err != nil {
		return nil, fmt.Errorf("list refundable invoices: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	err := row.Scan(
		&inv.ID, &inv.RawID, &inv.StoreID, &inv.Amount, &inv.USDAmount, &inv.QuoteExpiresAt,
		&inv.MerchantPrincipal, &inv.Status, &inv.Memo, &inv.PayerPrincipal, &inv.SettlementTxID,
		&inv.SubscriptionID, &inv.RefundedAmount, &inv.RefundTxID, &inv.OnchainExpired, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func collectInvoices(rows pgx.Rows) ([]domain.Invoice, error) {
	var out []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice row: %w", err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice rows: %w", err)
	}
	return out, nil
}
