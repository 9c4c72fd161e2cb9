package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/internal/core/ports/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	pollerContractID = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7.payment-gateway"
	pollerPayer      = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
)

type pollerFixture struct {
	poller   *PaymentPoller
	invoices *mocks.MockInvoiceRepository
	subs     *mocks.MockSubscriptionRepository
	cursors  *mocks.MockCursorRepository
	client   *mocks.MockChainClient
	emitter  *mocks.MockWebhookEmitter
}

func setupPoller(t *testing.T) *pollerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &pollerFixture{
		invoices: mocks.NewMockInvoiceRepository(ctrl),
		subs:     mocks.NewMockSubscriptionRepository(ctrl),
		cursors:  mocks.NewMockCursorRepository(ctrl),
		client:   mocks.NewMockChainClient(ctrl),
		emitter:  mocks.NewMockWebhookEmitter(ctrl),
	}
	log := newTestLogger()
	f.poller = NewPaymentPoller(
		f.invoices, f.subs, f.cursors, f.client,
		chain.NewNormalizer(pollerContractID, f.invoices, log),
		chain.NewReorgGuard(f.client, 6, log),
		f.emitter,
		config.PollerConfig{
			Interval:          30 * time.Second,
			MinConfirmations:  3,
			ReorgWindowBlocks: 6,
			SweepBatch:        50,
		},
		log,
	)
	return f
}

// expectEmptySweeps wires the per-tick sweeps to find nothing.
func (f *pollerFixture) expectEmptySweeps() {
	f.invoices.EXPECT().ListUnpaid(gomock.Any(), 50).Return(nil, nil)
	f.invoices.EXPECT().ListRefundable(gomock.Any(), 50).Return(nil, nil)
	f.subs.EXPECT().ListActive(gomock.Any(), 50).Return(nil, nil)
	f.invoices.EXPECT().MarkExpired(gomock.Any(), gomock.Any()).Return(nil, nil)
}

func pollerCursor(height uint64, hash string) *domain.PollerCursor {
	return &domain.PollerCursor{
		LastHeight:    height,
		LastBlockHash: hash,
		LastRunAt:     time.Now().Add(-time.Minute),
	}
}

// paidEventRaw builds a structured invoice-paid log entry as the indexer
// reports it.
func paidEventRaw(t *testing.T, id domain.LedgerID, amount, height uint64, txID string) ports.RawEvent {
	t.Helper()
	value, err := json.Marshal(map[string]any{
		"event":      "invoice-paid",
		"invoice-id": "0x" + id.String(),
		"amount":     fmt.Sprintf("u%d", amount),
		"payer":      "'" + pollerPayer,
	})
	require.NoError(t, err)
	return ports.RawEvent{
		TxID:       txID,
		EventType:  "smart_contract_log",
		Height:     height,
		ContractID: pollerContractID,
		Value:      value,
	}
}

func TestPollerTick_TipFailureAbortsTick(t *testing.T) {
	f := setupPoller(t)

	f.client.EXPECT().Tip(gomock.Any()).Return(ports.ChainTip{}, assert.AnError)

	f.poller.Tick(context.Background())

	state := f.poller.State()
	assert.NotEmpty(t, state.LastError)
	assert.NotNil(t, state.LastRunAt)
}

func TestPollerTick_BootstrapsCursorFromTip(t *testing.T) {
	f := setupPoller(t)
	tip := ports.ChainTip{Height: 500, Hash: "0xtip500"}

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(nil, nil)
	// Bootstrap lands the confirmation window behind the tip.
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cur *domain.PollerCursor) error {
			assert.Equal(t, uint64(497), cur.LastHeight)
			return nil
		})
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(498)).Return(nil, nil)
	f.expectEmptySweeps()
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cur *domain.PollerCursor) error {
			assert.Equal(t, tip.Height, cur.LastHeight)
			assert.Equal(t, tip.Hash, cur.LastBlockHash)
			return nil
		})

	f.poller.Tick(context.Background())

	state := f.poller.State()
	assert.Empty(t, state.LastError)
	assert.Equal(t, uint64(500), state.CursorHeight)
}

func TestPollerTick_AppliesConfirmedPaidEvent(t *testing.T) {
	f := setupPoller(t)
	invID := testInvoiceID(t)
	tip := ports.ChainTip{Height: 105, Hash: "0xtip105"}
	cursor := pollerCursor(99, "0xhash99")

	raw := paidEventRaw(t, invID, 5000, 100, "0xtxpaid")

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return([]ports.RawEvent{raw}, nil)
	f.invoices.EXPECT().Exists(gomock.Any(), invID).Return(true, nil)
	f.invoices.EXPECT().MarkPaid(gomock.Any(), invID, pollerPayer, "0xtxpaid").Return(true, nil)
	paid := &domain.Invoice{ID: invID, Status: domain.InvoiceStatusPaid}
	f.invoices.EXPECT().GetByID(gomock.Any(), invID).Return(paid, nil)
	f.emitter.EXPECT().EmitInvoiceEventOnce(gomock.Any(), paid, domain.EventInvoicePaid).Return(nil)
	f.expectEmptySweeps()
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, Hash: "0xhash100", ParentHash: "0xhash99"}, nil)
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cur *domain.PollerCursor) error {
			assert.Equal(t, uint64(105), cur.LastHeight)
			assert.Equal(t, "0xtxpaid", cur.LastTxID)
			return nil
		})

	f.poller.Tick(context.Background())
	assert.Empty(t, f.poller.State().LastError)
}

func TestPollerTick_DefersUnconfirmedEventThenApplies(t *testing.T) {
	f := setupPoller(t)
	invID := testInvoiceID(t)
	cursor := pollerCursor(99, "0xhash99")

	// Two confirmations at the tip; the gate requires three.
	raw := paidEventRaw(t, invID, 5000, 100, "0xtxpaid")

	f.client.EXPECT().Tip(gomock.Any()).Return(ports.ChainTip{Height: 101, Hash: "0xtip101"}, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return([]ports.RawEvent{raw}, nil)
	f.invoices.EXPECT().Exists(gomock.Any(), invID).Return(true, nil)
	// No MarkPaid: the event waits for more depth.
	f.expectEmptySweeps()
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, ParentHash: "0xhash99"}, nil)
	// The cursor stops short of the deferred event instead of jumping to the
	// tip, so the next tick re-reads it.
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cur *domain.PollerCursor) error {
			assert.Equal(t, uint64(99), cur.LastHeight)
			assert.Equal(t, "0xhash99", cur.LastBlockHash)
			return nil
		})

	f.poller.Tick(context.Background())

	// With depth gained the replayed event is applied.
	f.client.EXPECT().Tip(gomock.Any()).Return(ports.ChainTip{Height: 103, Hash: "0xtip103"}, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return([]ports.RawEvent{raw}, nil)
	f.invoices.EXPECT().Exists(gomock.Any(), invID).Return(true, nil)
	f.invoices.EXPECT().MarkPaid(gomock.Any(), invID, pollerPayer, "0xtxpaid").Return(true, nil)
	paid := &domain.Invoice{ID: invID, Status: domain.InvoiceStatusPaid}
	f.invoices.EXPECT().GetByID(gomock.Any(), invID).Return(paid, nil)
	f.emitter.EXPECT().EmitInvoiceEventOnce(gomock.Any(), paid, domain.EventInvoicePaid).Return(nil)
	f.expectEmptySweeps()
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, ParentHash: "0xhash99"}, nil)
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cur *domain.PollerCursor) error {
			assert.Equal(t, uint64(103), cur.LastHeight)
			return nil
		})

	f.poller.Tick(context.Background())
	assert.Empty(t, f.poller.State().LastError)
}

func TestPollerTick_StatusGuardLossIsNoOp(t *testing.T) {
	f := setupPoller(t)
	invID := testInvoiceID(t)
	tip := ports.ChainTip{Height: 105, Hash: "0xtip105"}
	cursor := pollerCursor(99, "0xhash99")

	raw := paidEventRaw(t, invID, 5000, 100, "0xtxpaid")

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return([]ports.RawEvent{raw}, nil)
	f.invoices.EXPECT().Exists(gomock.Any(), invID).Return(true, nil)
	// Another writer already transitioned the row: no webhook, no error.
	f.invoices.EXPECT().MarkPaid(gomock.Any(), invID, pollerPayer, "0xtxpaid").Return(false, nil)
	f.expectEmptySweeps()
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, ParentHash: "0xhash99"}, nil)
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	f.poller.Tick(context.Background())
	assert.Empty(t, f.poller.State().LastError)
}

func TestPollerTick_ReorgHoldsCursorBack(t *testing.T) {
	f := setupPoller(t)
	tip := ports.ChainTip{Height: 105, Hash: "0xtip105"}
	cursor := pollerCursor(100, "0xhash100")

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(101)).Return(nil, nil)
	f.expectEmptySweeps()
	// Parent link broken: block 101 no longer builds on the recorded hash.
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(101)).
		Return(&ports.BlockHeader{Height: 101, ParentHash: "0xforked"}, nil)
	// Crucially, no cursors.Save: the cursor must not advance past a fork.

	f.poller.Tick(context.Background())

	state := f.poller.State()
	require.NotNil(t, state.PendingRewind)
	assert.Equal(t, uint64(94), *state.PendingRewind)

	// The next tick resumes from the rewind target, not from cursor+1, and
	// skips reorg detection while the replay is in progress.
	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(94)).Return(nil, nil)
	f.expectEmptySweeps()
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	f.poller.Tick(context.Background())
	assert.Nil(t, f.poller.State().PendingRewind)
}

func TestPollerSweep_FindsMissedSettlement(t *testing.T) {
	f := setupPoller(t)
	invID := testInvoiceID(t)
	tip := ports.ChainTip{Height: 105, Hash: "0xtip105"}
	cursor := pollerCursor(99, "0xhash99")

	unpaid := domain.Invoice{ID: invID, Status: domain.InvoiceStatusUnpaid}

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	// The event log shows nothing, but the ledger row says paid.
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return(nil, nil)
	f.invoices.EXPECT().ListUnpaid(gomock.Any(), 50).Return([]domain.Invoice{unpaid}, nil)
	f.client.EXPECT().InvoiceState(gomock.Any(), invID).
		Return(&ports.OnchainInvoice{Paid: true, Payer: pollerPayer, SettlementTxID: "0xsweep"}, nil)
	f.invoices.EXPECT().MarkPaid(gomock.Any(), invID, pollerPayer, "0xsweep").Return(true, nil)
	paid := &domain.Invoice{ID: invID, Status: domain.InvoiceStatusPaid}
	f.invoices.EXPECT().GetByID(gomock.Any(), invID).Return(paid, nil)
	f.emitter.EXPECT().EmitInvoiceEventOnce(gomock.Any(), paid, domain.EventInvoicePaid).Return(nil)
	f.invoices.EXPECT().ListRefundable(gomock.Any(), 50).Return(nil, nil)
	f.subs.EXPECT().ListActive(gomock.Any(), 50).Return(nil, nil)
	f.invoices.EXPECT().MarkExpired(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, ParentHash: "0xhash99"}, nil)
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	f.poller.Tick(context.Background())
}

func TestPollerSweep_AppliesRefundDelta(t *testing.T) {
	f := setupPoller(t)
	invID := testInvoiceID(t)
	tip := ports.ChainTip{Height: 105, Hash: "0xtip105"}
	cursor := pollerCursor(99, "0xhash99")

	paid := domain.Invoice{ID: invID, Status: domain.InvoiceStatusPaid, Amount: 5000, RefundedAmount: 1000}

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return(nil, nil)
	f.invoices.EXPECT().ListUnpaid(gomock.Any(), 50).Return(nil, nil)
	f.invoices.EXPECT().ListRefundable(gomock.Any(), 50).Return([]domain.Invoice{paid}, nil)
	// The ledger has accumulated more refunds than the mirror knows about.
	f.client.EXPECT().InvoiceState(gomock.Any(), invID).
		Return(&ports.OnchainInvoice{Paid: true, RefundedAmount: 3000}, nil)
	f.invoices.EXPECT().
		ApplyRefund(gomock.Any(), invID, uint64(3000), "", domain.InvoiceStatusPartiallyRefunded).
		Return(true, nil)
	refreshed := &domain.Invoice{ID: invID, Status: domain.InvoiceStatusPartiallyRefunded, RefundedAmount: 3000}
	f.invoices.EXPECT().GetByID(gomock.Any(), invID).Return(refreshed, nil)
	f.emitter.EXPECT().EmitInvoiceEvent(gomock.Any(), refreshed, domain.EventInvoiceRefunded).Return(nil)
	f.subs.EXPECT().ListActive(gomock.Any(), 50).Return(nil, nil)
	f.invoices.EXPECT().MarkExpired(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, ParentHash: "0xhash99"}, nil)
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	f.poller.Tick(context.Background())
}

func TestPollerSweep_ExpiresStaleQuotes(t *testing.T) {
	f := setupPoller(t)
	tip := ports.ChainTip{Height: 105, Hash: "0xtip105"}
	cursor := pollerCursor(99, "0xhash99")

	first := domain.Invoice{ID: mustLedgerID(t, "11"+repeatHex("00", 31)), Status: domain.InvoiceStatusExpired}
	second := domain.Invoice{ID: mustLedgerID(t, "22"+repeatHex("00", 31)), Status: domain.InvoiceStatusExpired}

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return(nil, nil)
	f.invoices.EXPECT().ListUnpaid(gomock.Any(), 50).Return(nil, nil)
	f.invoices.EXPECT().ListRefundable(gomock.Any(), 50).Return(nil, nil)
	f.subs.EXPECT().ListActive(gomock.Any(), 50).Return(nil, nil)
	f.invoices.EXPECT().MarkExpired(gomock.Any(), gomock.Any()).Return([]domain.Invoice{first, second}, nil)
	f.emitter.EXPECT().EmitInvoiceEventOnce(gomock.Any(), gomock.Any(), domain.EventInvoiceExpired).Return(nil).Times(2)
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, ParentHash: "0xhash99"}, nil)
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	f.poller.Tick(context.Background())
}

func TestPollerSweep_DeactivatesCanceledSubscription(t *testing.T) {
	f := setupPoller(t)
	subID := mustLedgerID(t, repeatHex("ef", 32))
	tip := ports.ChainTip{Height: 105, Hash: "0xtip105"}
	cursor := pollerCursor(99, "0xhash99")

	active := domain.Subscription{ID: subID, Active: true}

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return(nil, nil)
	f.invoices.EXPECT().ListUnpaid(gomock.Any(), 50).Return(nil, nil)
	f.invoices.EXPECT().ListRefundable(gomock.Any(), 50).Return(nil, nil)
	// The event log showed nothing, but the ledger says the agreement ended.
	f.subs.EXPECT().ListActive(gomock.Any(), 50).Return([]domain.Subscription{active}, nil)
	f.client.EXPECT().SubscriptionState(gomock.Any(), subID).
		Return(&ports.OnchainSubscription{Active: false}, nil)
	f.subs.EXPECT().Deactivate(gomock.Any(), subID).Return(true, nil)
	f.emitter.EXPECT().EmitSubscriptionEvent(gomock.Any(), gomock.Any(), domain.EventSubscriptionCanceled).Return(nil)
	f.invoices.EXPECT().MarkExpired(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, ParentHash: "0xhash99"}, nil)
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	f.poller.Tick(context.Background())
}

func TestPollerTick_SubscriptionPaymentEvent(t *testing.T) {
	f := setupPoller(t)
	subID := mustLedgerID(t, repeatHex("cd", 32))
	tip := ports.ChainTip{Height: 105, Hash: "0xtip105"}
	cursor := pollerCursor(99, "0xhash99")

	value, err := json.Marshal(map[string]any{
		"event":           "pay-subscription",
		"subscription-id": "0x" + subID.String(),
		"amount":          "u2500",
		"subscriber":      "'" + pollerPayer,
	})
	require.NoError(t, err)
	raw := ports.RawEvent{
		TxID:       "0xtxsub",
		EventType:  "smart_contract_log",
		Height:     100,
		ContractID: pollerContractID,
		Value:      value,
	}

	sub := &domain.Subscription{ID: subID, Active: true, Mode: domain.SubscriptionModeDirect}

	f.client.EXPECT().Tip(gomock.Any()).Return(tip, nil)
	f.cursors.EXPECT().Get(gomock.Any()).Return(cursor, nil)
	f.client.EXPECT().ContractEvents(gomock.Any(), uint64(100)).Return([]ports.RawEvent{raw}, nil)
	f.subs.EXPECT().GetByID(gomock.Any(), subID).Return(sub, nil)
	f.subs.EXPECT().RecordPayment(gomock.Any(), subID, nil, uint64(100)).Return(true, nil)
	f.emitter.EXPECT().EmitSubscriptionEvent(gomock.Any(), sub, domain.EventSubscriptionPaid).Return(nil)
	f.expectEmptySweeps()
	f.client.EXPECT().BlockHeader(gomock.Any(), uint64(100)).
		Return(&ports.BlockHeader{Height: 100, ParentHash: "0xhash99"}, nil)
	f.cursors.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	f.poller.Tick(context.Background())
}

func repeatHex(pair string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += pair
	}
	return out
}
