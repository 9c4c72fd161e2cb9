package service

import (
	"context"
	"math"
	"time"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// idGenerationAttempts bounds the generate-until-unique loop. Collisions on
// 32 random bytes mean something is badly wrong with the entropy source.
const idGenerationAttempts = 5

// invoiceService implements ports.InvoiceService.
type invoiceService struct {
	invoices      ports.InvoiceRepository
	stores        ports.StoreRepository
	chainClient   ports.ChainClient
	prices        ports.PriceService
	builder       *chain.CallBuilder
	cfg           config.InvoiceConfig
	assetDecimals int
	log           zerolog.Logger
}

// NewInvoiceService creates the invoice service.
func NewInvoiceService(
	invoices ports.InvoiceRepository,
	stores ports.StoreRepository,
	chainClient ports.ChainClient,
	prices ports.PriceService,
	builder *chain.CallBuilder,
	cfg config.InvoiceConfig,
	assetDecimals int,
	log zerolog.Logger,
) ports.InvoiceService {
	return &invoiceService{
		invoices:      invoices,
		stores:        stores,
		chainClient:   chainClient,
		prices:        prices,
		builder:       builder,
		cfg:           cfg,
		assetDecimals: assetDecimals,
		log:           logger.Component(log, "invoice_service"),
	}
}

// Create persists a new unpaid invoice and returns it with the unsigned
// create call.
func (s *invoiceService) Create(ctx context.Context, req ports.CreateInvoiceRequest) (*ports.InvoiceWithCall, error) {
	store, err := s.stores.GetByID(ctx, req.StoreID)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, apperror.ErrStoreNotFound()
	}
	if !store.IsActive() {
		return nil, apperror.ErrStoreSuspended()
	}
	if req.Amount == 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	id, err := s.uniqueID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	inv := &domain.Invoice{
		RawID:             req.RawID,
		ID:                id,
		StoreID:           store.ID,
		Amount:            req.Amount,
		USDAmount:         s.usdSnapshot(ctx, req.Amount),
		QuoteExpiresAt:    now.Add(s.cfg.QuoteTTL),
		MerchantPrincipal: store.Principal,
		Status:            domain.InvoiceStatusUnpaid,
		Memo:              req.Memo,
		SubscriptionID:    req.SubscriptionID,
		CreatedAt:         now,
	}

	call, err := s.builder.CreateInvoice(id, inv.Amount, inv.MerchantPrincipal, s.expiryBlocks(), req.Memo)
	if err != nil {
		return nil, err
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", id.String()).
		Str("store_id", store.ID.String()).
		Uint64("amount", inv.Amount).
		Msg("invoice created")

	return &ports.InvoiceWithCall{Invoice: inv, Call: call}, nil
}

// Get returns the invoice with its display status resolved against the
// current ledger view. A ledger read miss degrades to the local status.
func (s *invoiceService) Get(ctx context.Context, storeID uuid.UUID, id domain.LedgerID) (*ports.InvoiceView, error) {
	inv, err := s.ownedInvoice(ctx, storeID, id)
	if err != nil {
		return nil, err
	}

	onchain := domain.OnchainStatusUnknown
	if state, err := s.chainClient.InvoiceState(ctx, id); err == nil && state != nil {
		switch {
		case state.Paid:
			onchain = domain.OnchainStatusPaid
		case state.Canceled:
			onchain = domain.OnchainStatusCanceled
		}
	}

	return &ports.InvoiceView{
		Invoice:       inv,
		DisplayStatus: inv.DisplayStatus(onchain, time.Now()),
	}, nil
}

// AssemblePayCall builds the unsigned pay call after the payability guards.
func (s *invoiceService) AssemblePayCall(ctx context.Context, id domain.LedgerID, payerPrincipal string) (*domain.ContractCall, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, apperror.ErrInvoiceNotFound()
	}

	store, err := s.stores.GetByID(ctx, inv.StoreID)
	if err != nil {
		return nil, err
	}
	if store == nil || !store.IsActive() {
		return nil, apperror.ErrStoreSuspended()
	}
	if inv.QuoteExpired(time.Now()) {
		return nil, apperror.ErrQuoteExpired()
	}
	if !inv.Payable() {
		return nil, apperror.ErrInvoiceNotPayable(string(inv.Status))
	}

	return s.builder.PayInvoice(id, inv.Amount, payerPrincipal, inv.MerchantPrincipal)
}

// AssembleCancelCall builds the unsigned cancel call for an unpaid invoice.
func (s *invoiceService) AssembleCancelCall(ctx context.Context, storeID uuid.UUID, id domain.LedgerID) (*domain.ContractCall, error) {
	inv, err := s.ownedInvoice(ctx, storeID, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvoiceStatusUnpaid {
		return nil, apperror.ErrInvoiceNotPayable(string(inv.Status))
	}
	return s.builder.CancelInvoice(id)
}

// ownedInvoice loads an invoice and hides other stores' rows behind the same
// not-found error as a missing row.
func (s *invoiceService) ownedInvoice(ctx context.Context, storeID uuid.UUID, id domain.LedgerID) (*domain.Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.StoreID != storeID {
		return nil, apperror.ErrInvoiceNotFound()
	}
	return inv, nil
}

func (s *invoiceService) uniqueID(ctx context.Context) (domain.LedgerID, error) {
	for i := 0; i < idGenerationAttempts; i++ {
		id, err := domain.NewLedgerID()
		if err != nil {
			return domain.LedgerID{}, err
		}
		exists, err := s.invoices.Exists(ctx, id)
		if err != nil {
			return domain.LedgerID{}, err
		}
		if !exists {
			return id, nil
		}
	}
	return domain.LedgerID{}, apperror.ErrIDGenerationExhausted()
}

// usdSnapshot converts the token amount to a USD figure at the current
// price. Price resolution never fails, so neither does this.
func (s *invoiceService) usdSnapshot(ctx context.Context, amount uint64) float64 {
	price := s.prices.TokenPriceUSD(ctx)
	return price * float64(amount) / math.Pow10(s.assetDecimals)
}

// expiryBlocks converts the quote TTL into ledger blocks with the configured
// minimum cushion.
func (s *invoiceService) expiryBlocks() uint64 {
	if s.cfg.AvgBlockTime <= 0 {
		return s.cfg.MinExpiryBlocks
	}
	blocks := uint64(math.Ceil(s.cfg.QuoteTTL.Seconds() / s.cfg.AvgBlockTime.Seconds()))
	if blocks < s.cfg.MinExpiryBlocks {
		return s.cfg.MinExpiryBlocks
	}
	return blocks
}
