package postgres

import (
	"context"
	"errors"
	"fmt"

	"chainpay-gateway/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CursorRepo persists the singleton poller cursor. The table holds at most
// one row, keyed by a fixed id, and is rewritten with an upsert.
type CursorRepo struct {
	pool Pool
}

// NewCursorRepo creates a new CursorRepo.
func NewCursorRepo(pool Pool) *CursorRepo {
	return &CursorRepo{pool: pool}
}

// Get returns the cursor, or nil when no tick has ever completed.
func (r *CursorRepo) Get(ctx context.Context) (*domain.PollerCursor, error) {
	query := `SELECT last_height, last_tx_id, last_block_hash, last_run_at
		FROM poller_cursor WHERE id = TRUE`

	cur := &domain.PollerCursor{}
	err := r.pool.QueryRow(ctx, query).
		Scan(&cur.LastHeight, &cur.LastTxID, &cur.LastBlockHash, &cur.LastRunAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get poller cursor: %w", err)
	}
	return cur, nil
}

// Save upserts the cursor row.
func (r *CursorRepo) Save(ctx context.Context, cur *domain.PollerCursor) error {
	query := `INSERT INTO poller_cursor (id, last_height, last_tx_id, last_block_hash, last_run_at)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET last_height = $1, last_tx_id = $2, last_block_hash = $3, last_run_at = $4`

	_, err := r.pool.Exec(ctx, query, cur.LastHeight, cur.LastTxID, cur.LastBlockHash, cur.LastRunAt)
	if err != nil {
		return fmt.Errorf("save poller cursor: %w", err)
	}
	return nil
}
