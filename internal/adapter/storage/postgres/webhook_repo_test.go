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

func newTestAttempt(t *testing.T) *domain.WebhookAttempt {
	t.Helper()
	invoiceID := testLedgerID(t, "ab")
	return &domain.WebhookAttempt{
		ID:          uuid.New(),
		StoreID:     uuid.New(),
		InvoiceID:   &invoiceID,
		EventType:   domain.EventInvoicePaid,
		Payload:     `{"event":"invoice-paid"}`,
		Attempt:     1,
		AttemptedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func webhookTestColumns() []string {
	return []string{"id", "store_id", "invoice_id", "subscription_id", "event_type",
		"payload", "http_status", "success", "attempt", "attempted_at"}
}

func webhookRow(att *domain.WebhookAttempt) *pgxmock.Rows {
	return pgxmock.NewRows(webhookTestColumns()).AddRow(
		att.ID, att.StoreID, att.InvoiceID, att.SubscriptionID, att.EventType,
		att.Payload, att.HTTPStatus, att.Success, att.Attempt, att.AttemptedAt,
	)
}

func TestWebhookLogRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookLogRepo(mock)
	att := newTestAttempt(t)

	mock.ExpectExec("INSERT INTO webhook_attempts").
		WithArgs(att.ID, att.StoreID, att.InvoiceID, att.SubscriptionID,
			att.EventType, att.Payload, att.HTTPStatus, att.Success, att.Attempt, att.AttemptedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), att)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookLogRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookLogRepo(mock)
	att := newTestAttempt(t)
	status := 200
	att.HTTPStatus = &status
	att.Success = true

	mock.ExpectExec("UPDATE webhook_attempts").
		WithArgs(att.HTTPStatus, att.Success, att.AttemptedAt, att.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.Update(context.Background(), att)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookLogRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookLogRepo(mock)
	att := newTestAttempt(t)

	mock.ExpectQuery("SELECT .+ FROM webhook_attempts WHERE id").
		WithArgs(att.ID).
		WillReturnRows(webhookRow(att))

	result, err := repo.GetByID(context.Background(), att.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, att.ID, result.ID)
	assert.Equal(t, att.EventType, result.EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookLogRepo_HasSuccessful(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookLogRepo(mock)
	att := newTestAttempt(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(att.StoreID, att.InvoiceID, att.SubscriptionID, att.EventType).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasSuccessful(context.Background(), att.StoreID, att.InvoiceID, att.SubscriptionID, att.EventType)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookLogRepo_MaxAttempt_NoRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookLogRepo(mock)
	att := newTestAttempt(t)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(attempt\), 0\)`).
		WithArgs(att.StoreID, att.InvoiceID, att.SubscriptionID, att.EventType).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(0))

	max, err := repo.MaxAttempt(context.Background(), att.StoreID, att.InvoiceID, att.SubscriptionID, att.EventType)
	require.NoError(t, err)
	assert.Equal(t, 0, max)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookLogRepo_ListRetryCandidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookLogRepo(mock)
	att := newTestAttempt(t)
	status := 503
	att.HTTPStatus = &status

	mock.ExpectQuery("SELECT DISTINCT ON .+ FROM webhook_attempts").
		WithArgs(domain.MaxWebhookAttempts, 100).
		WillReturnRows(webhookRow(att))

	candidates, err := repo.ListRetryCandidates(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, att.ID, candidates[0].ID)
	assert.False(t, candidates[0].Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}
