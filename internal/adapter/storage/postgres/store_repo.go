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

// StoreRepo implements ports.StoreRepository.
type StoreRepo struct {
	pool Pool
}

// NewStoreRepo creates a new StoreRepo.
func NewStoreRepo(pool Pool) *StoreRepo {
	return &StoreRepo{pool: pool}
}

const storeColumns = `id, name, principal, webhook_url, webhook_secret_enc,
	api_key_id, api_key_hash, active, created_at, updated_at`

// Create inserts a new store row.
func (r *StoreRepo) Create(ctx context.Context, store *domain.Store) error {
	query := `INSERT INTO stores (id, name, principal, webhook_url, webhook_secret_enc,
		api_key_id, api_key_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		store.ID, store.Name, store.Principal, store.WebhookURL, store.WebhookSecretEnc,
		store.APIKeyID, store.APIKeyHash, store.Active, store.CreatedAt, store.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}

// GetByID fetches a store by id.
func (r *StoreRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Store, error) {
	return r.getBy(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id)
}

// GetByAPIKeyID fetches a store by its public API key identifier.
func (r *StoreRepo) GetByAPIKeyID(ctx context.Context, apiKeyID string) (*domain.Store, error) {
	return r.getBy(ctx, `SELECT `+storeColumns+` FROM stores WHERE api_key_id = $1`, apiKeyID)
}

// GetByPrincipal fetches a store by its settlement principal.
func (r *StoreRepo) GetByPrincipal(ctx context.Context, principal string) (*domain.Store, error) {
	return r.getBy(ctx, `SELECT `+storeColumns+` FROM stores WHERE principal = $1`, principal)
}

// Update rewrites the mutable store fields.
func (r *StoreRepo) Update(ctx context.Context, store *domain.Store) error {
	query := `UPDATE stores
		SET name = $1, webhook_url = $2, webhook_secret_enc = $3,
		    api_key_id = $4, api_key_hash = $5, active = $6, updated_at = $7
		WHERE id = $8`

	_, err := r.pool.Exec(ctx, query,
		store.Name, store.WebhookURL, store.WebhookSecretEnc,
		store.APIKeyID, store.APIKeyHash, store.Active, time.Now().UTC(), store.ID,
	)
	if err != nil {
		return fmt.Errorf("update store: %w", err)
	}
	return nil
}

// SetActive flips the store's active flag.
func (r *StoreRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE stores SET active = $1, updated_at = $2 WHERE id = $3`

	_, err := r.pool.Exec(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set store active: %w", err)
	}
	return nil
}

func (r *StoreRepo) getBy(ctx context.Context, query string, arg any) (*domain.Store, error) {
	store := &domain.Store{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&store.ID, &store.Name, &store.Principal, &store.WebhookURL, &store.WebhookSecretEnc,
		&store.APIKeyID, &store.APIKeyHash, &store.Active, &store.CreatedAt, &store.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get store: %w", err)
	}
	return store, nil
}
