package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"

	"github.com/google/uuid"
)

// AuthServiceImpl implements ports.AuthService. API key secrets are stored
// as Argon2id hashes; webhook secrets are AES-GCM encrypted because outbound
// signing needs the plaintext back.
type AuthServiceImpl struct {
	stores   ports.StoreRepository
	hashSvc  ports.HashService
	encSvc   ports.EncryptionService
	tokenSvc ports.TokenService
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	stores ports.StoreRepository,
	hashSvc ports.HashService,
	encSvc ports.EncryptionService,
	tokenSvc ports.TokenService,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		stores:   stores,
		hashSvc:  hashSvc,
		encSvc:   encSvc,
		tokenSvc: tokenSvc,
	}
}

// Register onboards a store. The API key secret and webhook secret are
// returned in plaintext exactly once.
func (s *AuthServiceImpl) Register(ctx context.Context, req ports.RegisterStoreRequest) (*ports.RegisterStoreResponse, error) {
	if req.Name == "" {
		return nil, apperror.Validation("store name is required")
	}
	if !domain.ValidPrincipal(req.Principal) {
		return nil, apperror.ErrInvalidPrincipal(req.Principal)
	}

	existing, err := s.stores.GetByPrincipal(ctx, req.Principal)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check principal: %w", err))
	}
	if existing != nil {
		return nil, apperror.Validation("principal already registered")
	}

	creds, err := s.mintCredentials()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	store := &domain.Store{
		ID:               uuid.New(),
		Name:             req.Name,
		Principal:        req.Principal,
		WebhookURL:       req.WebhookURL,
		WebhookSecretEnc: creds.webhookSecretEnc,
		APIKeyID:         creds.apiKeyID,
		APIKeyHash:       creds.apiKeyHash,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.stores.Create(ctx, store); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create store: %w", err))
	}

	return &ports.RegisterStoreResponse{
		StoreID:       store.ID,
		APIKeyID:      creds.apiKeyID,
		APIKeySecret:  creds.apiKeySecret,
		WebhookSecret: creds.webhookSecret,
	}, nil
}

// Login validates an API key pair and returns a dashboard JWT.
func (s *AuthServiceImpl) Login(ctx context.Context, apiKeyID, apiKeySecret string) (string, time.Time, error) {
	store, err := s.stores.GetByAPIKeyID(ctx, apiKeyID)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("find store: %w", err))
	}
	if store == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(apiKeySecret, store.APIKeyHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify api key: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	if !store.IsActive() {
		return "", time.Time{}, apperror.ErrStoreSuspended()
	}

	token, expiry, err := s.tokenSvc.Generate(store.ID, store.APIKeyID)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	return token, expiry, nil
}

// RotateKeys reissues both secrets. Existing sessions stay valid until the
// JWT expires; inbound API key auth cuts over immediately.
func (s *AuthServiceImpl) RotateKeys(ctx context.Context, storeID uuid.UUID) (*ports.RegisterStoreResponse, error) {
	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find store: %w", err))
	}
	if store == nil {
		return nil, apperror.ErrStoreNotFound()
	}

	creds, err := s.mintCredentials()
	if err != nil {
		return nil, err
	}

	store.APIKeyID = creds.apiKeyID
	store.APIKeyHash = creds.apiKeyHash
	store.WebhookSecretEnc = creds.webhookSecretEnc
	store.UpdatedAt = time.Now().UTC()

	if err := s.stores.Update(ctx, store); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update store: %w", err))
	}

	return &ports.RegisterStoreResponse{
		StoreID:       store.ID,
		APIKeyID:      creds.apiKeyID,
		APIKeySecret:  creds.apiKeySecret,
		WebhookSecret: creds.webhookSecret,
	}, nil
}

type storeCredentials struct {
	apiKeyID         string
	apiKeySecret     string
	apiKeyHash       string
	webhookSecret    string
	webhookSecretEnc string
}

// mintCredentials generates the full credential set for a store: a public
// API key id, a hashed secret and an encrypted webhook signing secret.
func (s *AuthServiceImpl) mintCredentials() (*storeCredentials, error) {
	apiKeyID, err := generateRandomHex(16)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate api key id: %w", err))
	}
	apiKeySecret, err := generateRandomHex(32)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate api key secret: %w", err))
	}
	webhookSecret, err := generateRandomHex(32)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate webhook secret: %w", err))
	}

	apiKeyHash, err := s.hashSvc.Hash(apiKeySecret)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash api key secret: %w", err))
	}
	webhookSecretEnc, err := s.encSvc.Encrypt(webhookSecret)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("encrypt webhook secret: %w", err))
	}

	return &storeCredentials{
		apiKeyID:         "ck_" + apiKeyID,
		apiKeySecret:     apiKeySecret,
		apiKeyHash:       apiKeyHash,
		webhookSecret:    webhookSecret,
		webhookSecretEnc: webhookSecretEnc,
	}, nil
}

// generateRandomHex generates a random hex string of n bytes.
func generateRandomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
