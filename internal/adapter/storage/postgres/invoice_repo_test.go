package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testLedgerID(t *testing.T, pair string) domain.LedgerID {
	t.Helper()
	id, err := domain.ParseLedgerID(strings.Repeat(pair, 32))
	require.NoError(t, err)
	return id
}

func newTestInvoice(t *testing.T) *domain.Invoice {
	t.Helper()
	return &domain.Invoice{
		ID:                testLedgerID(t, "ab"),
		RawID:             "order-1042",
		StoreID:           uuid.New(),
		Amount:            5000,
		USDAmount:         2.5,
		QuoteExpiresAt:    time.Now().UTC().Add(15 * time.Minute).Truncate(time.Microsecond),
		MerchantPrincipal: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		Status:            domain.InvoiceStatusUnpaid,
		Memo:              strPtr("two coffees"),
		CreatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
}

func invoiceTestColumns() []string {
	return []string{"id", "raw_id", "store_id", "amount", "usd_amount", "quote_expires_at",
		"merchant_principal", "status", "memo", "payer_principal", "settlement_tx_id",
		"subscription_id", "refunded_amount", "refund_tx_id", "onchain_expired", "created_at"}
}

func invoiceRow(inv *domain.Invoice) *pgxmock.Rows {
	return pgxmock.NewRows(invoiceTestColumns()).AddRow(
		inv.ID, inv.RawID, inv.StoreID, inv.Amount, inv.USDAmount, inv.QuoteExpiresAt,
		inv.MerchantPrincipal, inv.Status, inv.Memo, inv.PayerPrincipal, inv.SettlementTxID,
		inv.SubscriptionID, inv.RefundedAmount, inv.RefundTxID, inv.OnchainExpired, inv.CreatedAt,
	)
}

func TestInvoiceRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(t)

	mock.ExpectExec("INSERT INTO invoices").
		WithArgs(inv.ID, inv.RawID, inv.StoreID, inv.Amount, inv.USDAmount, inv.QuoteExpiresAt,
			inv.MerchantPrincipal, inv.Status, inv.Memo, inv.PayerPrincipal, inv.SettlementTxID,
			inv.SubscriptionID, inv.RefundedAmount, inv.RefundTxID, inv.OnchainExpired, inv.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), inv)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(t)

	mock.ExpectQuery("SELECT .+ FROM invoices WHERE id").
		WithArgs(inv.ID).
		WillReturnRows(invoiceRow(inv))

	result, err := repo.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, inv.ID, result.ID)
	assert.Equal(t, inv.RawID, result.RawID)
	assert.Equal(t, inv.Amount, result.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM invoices WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(invoiceTestColumns()))

	result, err := repo.GetByID(context.Background(), testLedgerID(t, "cd"))
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_GetByRawID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(t)

	mock.ExpectQuery("SELECT .+ FROM invoices WHERE store_id .+ raw_id").
		WithArgs(inv.StoreID, inv.RawID).
		WillReturnRows(invoiceRow(inv))

	result, err := repo.GetByRawID(context.Background(), inv.StoreID, inv.RawID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, inv.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_MarkPaid_Applied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	id := testLedgerID(t, "ab")

	mock.ExpectExec("UPDATE invoices").
		WithArgs(domain.InvoiceStatusPaid, "ST1PAYER", "0xtxid",
			id, domain.InvoiceStatusUnpaid, domain.InvoiceStatusExpired).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.MarkPaid(context.Background(), id, "ST1PAYER", "0xtxid")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_MarkPaid_GuardMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	id := testLedgerID(t, "ab")

	// Already paid: zero rows match, which is a no-op, not an error.
	mock.ExpectExec("UPDATE invoices").
		WithArgs(domain.InvoiceStatusPaid, "ST1PAYER", "0xtxid",
			id, domain.InvoiceStatusUnpaid, domain.InvoiceStatusExpired).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := repo.MarkPaid(context.Background(), id, "ST1PAYER", "0xtxid")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_ApplyRefund(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	id := testLedgerID(t, "ab")

	mock.ExpectExec("UPDATE invoices").
		WithArgs(uint64(3000), "0xrefund", domain.InvoiceStatusPartiallyRefunded,
			id, domain.InvoiceStatusPaid, domain.InvoiceStatusPartiallyRefunded).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.ApplyRefund(context.Background(), id, 3000, "0xrefund",
		domain.InvoiceStatusPartiallyRefunded)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_MarkExpired_ReturnsRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(t)
	inv.Status = domain.InvoiceStatusExpired
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE invoices SET status .+ RETURNING").
		WithArgs(domain.InvoiceStatusExpired, domain.InvoiceStatusUnpaid, now).
		WillReturnRows(invoiceRow(inv))

	expired, err := repo.MarkExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, inv.ID, expired[0].ID)
	assert.Equal(t, domain.InvoiceStatusExpired, expired[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_FlagOnchainExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	id := testLedgerID(t, "ab")

	mock.ExpectExec("UPDATE invoices SET status .+ onchain_expired").
		WithArgs(domain.InvoiceStatusExpired, id, domain.InvoiceStatusUnpaid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.FlagOnchainExpired(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_ListUnpaid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(t)

	mock.ExpectQuery("SELECT .+ FROM invoices").
		WithArgs(domain.InvoiceStatusUnpaid, 50).
		WillReturnRows(invoiceRow(inv))

	list, err := repo.ListUnpaid(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, inv.ID, list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
