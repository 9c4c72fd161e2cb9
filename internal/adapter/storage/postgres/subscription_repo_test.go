package postgres

import (
	"context"
	"testing"
	"time"

	"chainpay-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(t *testing.T) *domain.Subscription {
	t.Helper()
	return &domain.Subscription{
		ID:                  testLedgerID(t, "5a"),
		StoreID:             uuid.New(),
		MerchantPrincipal:   "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		SubscriberPrincipal: "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM",
		Amount:              2500,
		IntervalBlocks:      144,
		Active:              true,
		Mode:                domain.SubscriptionModeInvoice,
		NextDueHeight:       1000,
		CreatedAt:           time.Now().UTC().Truncate(time.Microsecond),
	}
}

func subscriptionTestColumns() []string {
	return []string{"id", "store_id", "merchant_principal", "subscriber_principal",
		"amount", "interval_blocks", "active", "mode", "next_due_height",
		"last_billed_height", "last_invoice_id", "created_at"}
}

func subscriptionRow(sub *domain.Subscription) *pgxmock.Rows {
	return pgxmock.NewRows(subscriptionTestColumns()).AddRow(
		sub.ID, sub.StoreID, sub.MerchantPrincipal, sub.SubscriberPrincipal,
		sub.Amount, sub.IntervalBlocks, sub.Active, sub.Mode, sub.NextDueHeight,
		sub.LastBilledHeight, sub.LastInvoiceID, sub.CreatedAt,
	)
}

func TestSubscriptionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(t)

	mock.ExpectExec("INSERT INTO subscriptions").
		WithArgs(sub.ID, sub.StoreID, sub.MerchantPrincipal, sub.SubscriberPrincipal,
			sub.Amount, sub.IntervalBlocks, sub.Active, sub.Mode, sub.NextDueHeight,
			sub.LastBilledHeight, sub.LastInvoiceID, sub.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), sub)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(t)

	mock.ExpectQuery("SELECT .+ FROM subscriptions WHERE id").
		WithArgs(sub.ID).
		WillReturnRows(subscriptionRow(sub))

	result, err := repo.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, sub.ID, result.ID)
	assert.Equal(t, sub.NextDueHeight, result.NextDueHeight)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM subscriptions WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(subscriptionTestColumns()))

	result, err := repo.GetByID(context.Background(), testLedgerID(t, "6b"))
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_ListDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(t)

	mock.ExpectQuery("SELECT .+ FROM subscriptions").
		WithArgs(domain.SubscriptionModeInvoice, uint64(1005), 25).
		WillReturnRows(subscriptionRow(sub))

	due, err := repo.ListDue(context.Background(), 1005, 25)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, sub.ID, due[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_ListActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(t)

	mock.ExpectQuery("SELECT .+ FROM subscriptions").
		WithArgs(50).
		WillReturnRows(subscriptionRow(sub))

	active, err := repo.ListActive(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, sub.ID, active[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_RecordBilling_Applied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(t)
	invoiceID := testLedgerID(t, "ab")

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(uint64(1144), uint64(1005), invoiceID, sub.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.RecordBilling(context.Background(), sub.ID, 1144, 1005, invoiceID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_RecordBilling_GuardMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(t)
	invoiceID := testLedgerID(t, "ab")

	// A concurrent run already advanced next_due past the target.
	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(uint64(1144), uint64(1005), invoiceID, sub.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := repo.RecordBilling(context.Background(), sub.ID, 1144, 1005, invoiceID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_Deactivate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(t)

	mock.ExpectExec("UPDATE subscriptions SET active").
		WithArgs(sub.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.Deactivate(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
