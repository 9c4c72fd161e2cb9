package service

import (
	"context"
	"testing"
	"time"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	svcMerchant = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	svcPayer    = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
)

func serviceCallBuilder() *chain.CallBuilder {
	return chain.NewCallBuilder(svcMerchant, "payment-gateway", "testnet", chain.AssetInfo{
		Address:      svcMerchant,
		ContractName: "usda-token",
		TokenName:    "usda",
	})
}

func activeStore() *domain.Store {
	return &domain.Store{
		ID:        uuid.New(),
		Name:      "Active Store",
		Principal: svcMerchant,
		Active:    true,
	}
}

type invoiceFixture struct {
	svc      ports.InvoiceService
	invoices *mocks.MockInvoiceRepository
	stores   *mocks.MockStoreRepository
	client   *mocks.MockChainClient
	prices   *mocks.MockPriceService
}

func setupInvoiceService(t *testing.T) *invoiceFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &invoiceFixture{
		invoices: mocks.NewMockInvoiceRepository(ctrl),
		stores:   mocks.NewMockStoreRepository(ctrl),
		client:   mocks.NewMockChainClient(ctrl),
		prices:   mocks.NewMockPriceService(ctrl),
	}
	cfg := config.InvoiceConfig{
		QuoteTTL:        15 * time.Minute,
		AvgBlockTime:    10 * time.Minute,
		MinExpiryBlocks: 3,
	}
	f.svc = NewInvoiceService(f.invoices, f.stores, f.client, f.prices, serviceCallBuilder(), cfg, 8, newTestLogger())
	return f
}

func TestInvoiceCreate_PersistsAndBuildsCall(t *testing.T) {
	f := setupInvoiceService(t)
	store := activeStore()

	f.stores.EXPECT().GetByID(gomock.Any(), store.ID).Return(store, nil)
	f.invoices.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil)
	f.prices.EXPECT().TokenPriceUSD(gomock.Any()).Return(2.0)

	var created *domain.Invoice
	f.invoices.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv *domain.Invoice) error {
			created = inv
			return nil
		})

	result, err := f.svc.Create(context.Background(), ports.CreateInvoiceRequest{
		StoreID: store.ID,
		RawID:   "order-7",
		Amount:  250_000_000, // 2.5 tokens at 8 decimals
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, domain.InvoiceStatusUnpaid, created.Status)
	assert.Equal(t, svcMerchant, created.MerchantPrincipal)
	assert.False(t, created.ID.IsZero())
	assert.InDelta(t, 5.0, created.USDAmount, 1e-9)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), created.QuoteExpiresAt, 5*time.Second)

	require.NotNil(t, result.Call)
	assert.Equal(t, chain.FnCreateInvoice, result.Call.FunctionName)
	assert.Equal(t, domain.PostConditionModeDeny, result.Call.PostConditionMode)
}

func TestInvoiceCreate_GuardsStoreState(t *testing.T) {
	f := setupInvoiceService(t)

	missing := uuid.New()
	f.stores.EXPECT().GetByID(gomock.Any(), missing).Return(nil, nil)
	_, err := f.svc.Create(context.Background(), ports.CreateInvoiceRequest{StoreID: missing, Amount: 100})
	assertAppErrorCode(t, err, "AUTH_004")

	suspended := activeStore()
	suspended.Active = false
	f.stores.EXPECT().GetByID(gomock.Any(), suspended.ID).Return(suspended, nil)
	_, err = f.svc.Create(context.Background(), ports.CreateInvoiceRequest{StoreID: suspended.ID, Amount: 100})
	assertAppErrorCode(t, err, "AUTH_003")

	store := activeStore()
	f.stores.EXPECT().GetByID(gomock.Any(), store.ID).Return(store, nil)
	_, err = f.svc.Create(context.Background(), ports.CreateInvoiceRequest{StoreID: store.ID, Amount: 0})
	assertAppErrorCode(t, err, "VAL_002")
}

func TestInvoiceGet_LedgerOverridesLocalStatus(t *testing.T) {
	f := setupInvoiceService(t)
	store := activeStore()
	id := testInvoiceID(t)

	// Locally still unpaid with an expired quote, but the ledger says paid.
	inv := &domain.Invoice{
		ID:             id,
		StoreID:        store.ID,
		Status:         domain.InvoiceStatusUnpaid,
		QuoteExpiresAt: time.Now().Add(-time.Hour),
	}

	f.invoices.EXPECT().GetByID(gomock.Any(), id).Return(inv, nil)
	f.client.EXPECT().InvoiceState(gomock.Any(), id).Return(&ports.OnchainInvoice{Paid: true}, nil)

	view, err := f.svc.Get(context.Background(), store.ID, id)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, view.DisplayStatus)
}

func TestInvoiceGet_ExpiredQuoteShowsExpired(t *testing.T) {
	f := setupInvoiceService(t)
	store := activeStore()
	id := testInvoiceID(t)

	inv := &domain.Invoice{
		ID:             id,
		StoreID:        store.ID,
		Status:         domain.InvoiceStatusUnpaid,
		QuoteExpiresAt: time.Now().Add(-time.Minute),
	}

	f.invoices.EXPECT().GetByID(gomock.Any(), id).Return(inv, nil)
	f.client.EXPECT().InvoiceState(gomock.Any(), id).Return(nil, nil)

	view, err := f.svc.Get(context.Background(), store.ID, id)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusExpired, view.DisplayStatus)
}

func TestInvoiceGet_HidesForeignStoreRows(t *testing.T) {
	f := setupInvoiceService(t)
	id := testInvoiceID(t)

	inv := &domain.Invoice{ID: id, StoreID: uuid.New()}
	f.invoices.EXPECT().GetByID(gomock.Any(), id).Return(inv, nil)

	_, err := f.svc.Get(context.Background(), uuid.New(), id)
	assertAppErrorCode(t, err, "INV_001")
}

func TestAssemblePayCall_HappyPath(t *testing.T) {
	f := setupInvoiceService(t)
	store := activeStore()
	id := testInvoiceID(t)

	inv := &domain.Invoice{
		ID:                id,
		StoreID:           store.ID,
		Amount:            5000,
		Status:            domain.InvoiceStatusUnpaid,
		MerchantPrincipal: svcMerchant,
		QuoteExpiresAt:    time.Now().Add(10 * time.Minute),
	}

	f.invoices.EXPECT().GetByID(gomock.Any(), id).Return(inv, nil)
	f.stores.EXPECT().GetByID(gomock.Any(), store.ID).Return(store, nil)

	call, err := f.svc.AssemblePayCall(context.Background(), id, svcPayer)
	require.NoError(t, err)
	assert.Equal(t, chain.FnPayInvoice, call.FunctionName)
	require.Len(t, call.PostConditions, 2)
}

func TestAssemblePayCall_RejectsExpiredQuote(t *testing.T) {
	f := setupInvoiceService(t)
	store := activeStore()
	id := testInvoiceID(t)

	inv := &domain.Invoice{
		ID:             id,
		StoreID:        store.ID,
		Amount:         5000,
		Status:         domain.InvoiceStatusUnpaid,
		QuoteExpiresAt: time.Now().Add(-time.Minute),
	}

	f.invoices.EXPECT().GetByID(gomock.Any(), id).Return(inv, nil)
	f.stores.EXPECT().GetByID(gomock.Any(), store.ID).Return(store, nil)

	_, err := f.svc.AssemblePayCall(context.Background(), id, svcPayer)
	assertAppErrorCode(t, err, "INV_003")
}

func TestAssemblePayCall_RejectsSettledInvoice(t *testing.T) {
	f := setupInvoiceService(t)
	store := activeStore()
	id := testInvoiceID(t)

	inv := &domain.Invoice{
		ID:             id,
		StoreID:        store.ID,
		Amount:         5000,
		Status:         domain.InvoiceStatusPaid,
		QuoteExpiresAt: time.Now().Add(10 * time.Minute),
	}

	f.invoices.EXPECT().GetByID(gomock.Any(), id).Return(inv, nil)
	f.stores.EXPECT().GetByID(gomock.Any(), store.ID).Return(store, nil)

	_, err := f.svc.AssemblePayCall(context.Background(), id, svcPayer)
	assertAppErrorCode(t, err, "INV_002")
}

func TestAssembleCancelCall_OnlyUnpaid(t *testing.T) {
	f := setupInvoiceService(t)
	store := activeStore()
	id := testInvoiceID(t)

	inv := &domain.Invoice{ID: id, StoreID: store.ID, Status: domain.InvoiceStatusPaid}
	f.invoices.EXPECT().GetByID(gomock.Any(), id).Return(inv, nil)

	_, err := f.svc.AssembleCancelCall(context.Background(), store.ID, id)
	assertAppErrorCode(t, err, "INV_002")
}
