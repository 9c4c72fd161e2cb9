package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// PollerState is the admin-facing snapshot of the reconciliation engine.
type PollerState struct {
	Running       bool       `json:"running"`
	CursorHeight  uint64     `json:"cursor_height"`
	LagBlocks     uint64     `json:"lag_blocks"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	PendingRewind *uint64    `json:"pending_rewind,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// PaymentPoller reconciles on-chain settlement into the local mirror. One
// timer-driven tick fetches and applies confirmed events, sweeps rows the
// event log may have missed, expires stale quotes and advances the cursor,
// holding it back whenever a reorg is detected.
type PaymentPoller struct {
	invoices    ports.InvoiceRepository
	subs        ports.SubscriptionRepository
	cursors     ports.CursorRepository
	chainClient ports.ChainClient
	normalizer  *chain.Normalizer
	reorgGuard  *chain.ReorgGuard
	emitter     ports.WebhookEmitter
	cfg         config.PollerConfig
	log         zerolog.Logger

	ticking atomic.Bool // reentrancy guard, one tick at a time

	mu            sync.Mutex
	cursor        *domain.PollerCursor
	pendingRewind *uint64
	lastTipHeight uint64
	lastRunAt     *time.Time
	lastErr       error

	loopMu sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPaymentPoller creates the poller.
func NewPaymentPoller(
	invoices ports.InvoiceRepository,
	subs ports.SubscriptionRepository,
	cursors ports.CursorRepository,
	chainClient ports.ChainClient,
	normalizer *chain.Normalizer,
	reorgGuard *chain.ReorgGuard,
	emitter ports.WebhookEmitter,
	cfg config.PollerConfig,
	log zerolog.Logger,
) *PaymentPoller {
	return &PaymentPoller{
		invoices:    invoices,
		subs:        subs,
		cursors:     cursors,
		chainClient: chainClient,
		normalizer:  normalizer,
		reorgGuard:  reorgGuard,
		emitter:     emitter,
		cfg:         cfg,
		log:         logger.Component(log, "payment_poller"),
	}
}

// Start launches the timer loop.
func (p *PaymentPoller) Start() {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go func(stopCh, doneCh chan struct{}) {
		defer close(doneCh)
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				p.Tick(context.Background())
			}
		}
	}(p.stopCh, p.doneCh)

	p.log.Info().Dur("interval", p.cfg.Interval).Msg("payment poller started")
}

// Stop halts the timer loop and waits for it to finish. A tick already in
// flight completes.
func (p *PaymentPoller) Stop() {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	p.stopCh = nil
	p.doneCh = nil
	p.log.Info().Msg("payment poller stopped")
}

// Restart stops and relaunches the timer loop (admin command).
func (p *PaymentPoller) Restart() {
	p.Stop()
	p.Start()
}

// State returns the current reconciliation snapshot.
func (p *PaymentPoller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := PollerState{
		Running:       p.ticking.Load(),
		PendingRewind: p.pendingRewind,
		LastRunAt:     p.lastRunAt,
	}
	if p.cursor != nil {
		state.CursorHeight = p.cursor.LastHeight
		if p.lastTipHeight > p.cursor.LastHeight {
			state.LagBlocks = p.lastTipHeight - p.cursor.LastHeight
		}
	}
	if p.lastErr != nil {
		state.LastError = p.lastErr.Error()
	}
	return state
}

// Tick runs one reconciliation pass. Reentrant calls while a pass is in
// flight are skipped, not queued. All failures are recorded and logged; the
// timer keeps going.
func (p *PaymentPoller) Tick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		p.log.Debug().Msg("previous tick still running, skipping")
		return
	}
	defer p.ticking.Store(false)

	err := p.runTick(ctx)

	now := time.Now()
	p.mu.Lock()
	p.lastRunAt = &now
	p.lastErr = err
	p.mu.Unlock()

	if err != nil {
		p.log.Error().Err(err).Msg("reconciliation tick failed")
	}
}

func (p *PaymentPoller) runTick(ctx context.Context) error {
	tip, err := p.chainClient.Tip(ctx)
	if err != nil {
		return err
	}

	cursor, err := p.loadCursor(ctx, tip)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.lastTipHeight = tip.Height
	pendingRewind := p.pendingRewind
	p.mu.Unlock()

	fromHeight := cursor.LastHeight + 1
	if pendingRewind != nil {
		fromHeight = *pendingRewind
	}

	raws, err := p.chainClient.ContractEvents(ctx, fromHeight)
	if err != nil {
		return err
	}
	events := p.normalizer.Normalize(ctx, raws)

	var lastTxID string
	var holdBefore *uint64 // first event still inside the confirmation window
	for i := range events {
		ev := &events[i]
		if ev.Confirmations(tip.Height) < p.cfg.MinConfirmations {
			if holdBefore == nil {
				h := ev.Height
				holdBefore = &h
			}
			continue
		}
		if ev.SubscriptionEvent() {
			p.applySubscriptionEvent(ctx, ev)
		} else {
			p.applyInvoiceEvent(ctx, ev)
		}
		lastTxID = ev.TxID
	}

	p.sweepUnpaid(ctx)
	p.sweepRefunds(ctx)
	p.sweepSubscriptions(ctx)
	p.sweepExpired(ctx)

	// The parent-hash check is only meaningful when reading right past the
	// cursor; a rewind tick is itself the recovery and just replays.
	if pendingRewind == nil && p.reorgGuard.DetectReorg(ctx, fromHeight, tip.Height, cursor) {
		target := p.reorgGuard.RewindTarget(cursor)
		p.mu.Lock()
		p.pendingRewind = &target
		p.mu.Unlock()
		p.log.Warn().Uint64("rewind_target", target).Msg("reorg detected, cursor held back")
		return nil
	}

	next := &domain.PollerCursor{
		LastHeight:    tip.Height,
		LastTxID:      lastTxID,
		LastBlockHash: tip.Hash,
		LastRunAt:     time.Now(),
	}
	// A skipped event must be re-read once it gains depth, so the cursor
	// stops just short of the first unconfirmed height instead of jumping to
	// the tip. Events are height ordered: everything applied sits below it.
	if holdBefore != nil && *holdBefore <= tip.Height {
		next.LastHeight = *holdBefore - 1
		if next.LastHeight == cursor.LastHeight {
			next.LastBlockHash = cursor.LastBlockHash
		} else {
			next.LastBlockHash = ""
			if hdr, err := p.chainClient.BlockHeader(ctx, next.LastHeight); err == nil && hdr != nil {
				next.LastBlockHash = hdr.Hash
			}
		}
	}
	if next.LastTxID == "" {
		next.LastTxID = cursor.LastTxID
	}
	if err := p.cursors.Save(ctx, next); err != nil {
		return err
	}

	p.mu.Lock()
	p.cursor = next
	p.pendingRewind = nil
	p.mu.Unlock()

	p.log.Debug().
		Uint64("from_height", fromHeight).
		Uint64("tip_height", tip.Height).
		Int("events", len(events)).
		Msg("tick complete")
	return nil
}

// loadCursor returns the cached cursor, reading it from the store on first
// use and bootstrapping from the tip minus the confirmation window when no
// row exists yet.
func (p *PaymentPoller) loadCursor(ctx context.Context, tip ports.ChainTip) (*domain.PollerCursor, error) {
	p.mu.Lock()
	cached := p.cursor
	p.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	cursor, err := p.cursors.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		start := uint64(0)
		if tip.Height > p.cfg.MinConfirmations {
			start = tip.Height - p.cfg.MinConfirmations
		}
		cursor = &domain.PollerCursor{
			LastHeight: start,
			LastRunAt:  time.Now(),
		}
		if err := p.cursors.Save(ctx, cursor); err != nil {
			return nil, err
		}
		p.log.Info().Uint64("start_height", start).Msg("cursor bootstrapped")
	}

	p.mu.Lock()
	p.cursor = cursor
	p.mu.Unlock()
	return cursor, nil
}

// applyInvoiceEvent mutates the invoice mirror for one confirmed event.
// Every write is status guarded, so replays and sweep overlap are no-ops.
func (p *PaymentPoller) applyInvoiceEvent(ctx context.Context, ev *domain.ChainEvent) {
	switch ev.Kind {
	case domain.EventKindInvoicePaid:
		applied, err := p.invoices.MarkPaid(ctx, ev.InvoiceID, ev.Payer, ev.TxID)
		if err != nil {
			p.log.Error().Err(err).Str("invoice_id", ev.InvoiceID.String()).Msg("mark paid failed")
			return
		}
		if !applied {
			return
		}
		p.afterInvoicePaid(ctx, ev.InvoiceID, ev.Height)

	case domain.EventKindRefundInvoice:
		inv, err := p.invoices.GetByID(ctx, ev.InvoiceID)
		if err != nil || inv == nil {
			return
		}
		total := inv.RefundedAmount + ev.Amount
		applied, err := p.invoices.ApplyRefund(ctx, ev.InvoiceID, total, ev.TxID, inv.RefundStatusFor(total))
		if err != nil {
			p.log.Error().Err(err).Str("invoice_id", ev.InvoiceID.String()).Msg("apply refund failed")
			return
		}
		if applied {
			p.emitInvoiceEvent(ctx, ev.InvoiceID, domain.EventInvoiceRefunded, false)
		}

	case domain.EventKindInvoiceCanceled:
		applied, err := p.invoices.MarkCanceled(ctx, ev.InvoiceID)
		if err != nil {
			p.log.Error().Err(err).Str("invoice_id", ev.InvoiceID.String()).Msg("mark canceled failed")
			return
		}
		if applied {
			p.emitInvoiceEvent(ctx, ev.InvoiceID, domain.EventInvoiceCanceled, true)
		}
	}
}

// afterInvoicePaid emits the paid webhook and propagates the payment to a
// linked subscription.
func (p *PaymentPoller) afterInvoicePaid(ctx context.Context, id domain.LedgerID, height uint64) {
	inv, err := p.invoices.GetByID(ctx, id)
	if err != nil || inv == nil {
		return
	}

	if err := p.emitter.EmitInvoiceEventOnce(ctx, inv, domain.EventInvoicePaid); err != nil {
		p.log.Warn().Err(err).Str("invoice_id", id.String()).Msg("paid webhook emission failed")
	}

	if inv.SubscriptionID != nil {
		invID := inv.ID
		applied, err := p.subs.RecordPayment(ctx, *inv.SubscriptionID, &invID, height)
		if err != nil {
			p.log.Error().Err(err).Str("subscription_id", inv.SubscriptionID.String()).Msg("record subscription payment failed")
			return
		}
		if applied {
			if sub, err := p.subs.GetByID(ctx, *inv.SubscriptionID); err == nil && sub != nil {
				if err := p.emitter.EmitSubscriptionEvent(ctx, sub, domain.EventSubscriptionPaid); err != nil {
					p.log.Warn().Err(err).Msg("subscription paid webhook emission failed")
				}
			}
		}
	}
}

// applySubscriptionEvent mutates the subscription mirror for one confirmed
// event. Creation happens through the API, so an unknown id is noise.
func (p *PaymentPoller) applySubscriptionEvent(ctx context.Context, ev *domain.ChainEvent) {
	sub, err := p.subs.GetByID(ctx, ev.SubscriptionID)
	if err != nil {
		p.log.Error().Err(err).Str("subscription_id", ev.SubscriptionID.String()).Msg("subscription lookup failed")
		return
	}
	if sub == nil {
		p.log.Debug().Str("subscription_id", ev.SubscriptionID.String()).Msg("event for unknown subscription dropped")
		return
	}

	switch ev.Kind {
	case domain.EventKindPaySubscription:
		applied, err := p.subs.RecordPayment(ctx, ev.SubscriptionID, nil, ev.Height)
		if err != nil {
			p.log.Error().Err(err).Str("subscription_id", ev.SubscriptionID.String()).Msg("record payment failed")
			return
		}
		if applied {
			if err := p.emitter.EmitSubscriptionEvent(ctx, sub, domain.EventSubscriptionPaid); err != nil {
				p.log.Warn().Err(err).Msg("subscription paid webhook emission failed")
			}
		}

	case domain.EventKindCancelSubscription:
		applied, err := p.subs.Deactivate(ctx, ev.SubscriptionID)
		if err != nil {
			p.log.Error().Err(err).Str("subscription_id", ev.SubscriptionID.String()).Msg("deactivate failed")
			return
		}
		if applied {
			sub.Active = false
			if err := p.emitter.EmitSubscriptionEvent(ctx, sub, domain.EventSubscriptionCanceled); err != nil {
				p.log.Warn().Err(err).Msg("subscription canceled webhook emission failed")
			}
		}

	case domain.EventKindCreateSubscription:
		// Already mirrored at API time; the event only confirms it.
	}
}

// sweepUnpaid re-checks a bounded batch of unpaid rows directly against the
// ledger, catching settlements whose log events were missed or truncated.
func (p *PaymentPoller) sweepUnpaid(ctx context.Context) {
	rows, err := p.invoices.ListUnpaid(ctx, p.cfg.SweepBatch)
	if err != nil {
		p.log.Error().Err(err).Msg("unpaid sweep query failed")
		return
	}

	for i := range rows {
		inv := &rows[i]
		state, err := p.chainClient.InvoiceState(ctx, inv.ID)
		if err != nil || state == nil {
			continue
		}

		switch {
		case state.Paid:
			applied, err := p.invoices.MarkPaid(ctx, inv.ID, state.Payer, state.SettlementTxID)
			if err != nil {
				p.log.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("sweep mark paid failed")
				continue
			}
			if applied {
				p.log.Info().Str("invoice_id", inv.ID.String()).Msg("settlement found by sweep")
				p.afterInvoicePaid(ctx, inv.ID, 0)
			}
		case state.Canceled:
			applied, err := p.invoices.MarkCanceled(ctx, inv.ID)
			if err != nil {
				continue
			}
			if applied {
				p.emitInvoiceEvent(ctx, inv.ID, domain.EventInvoiceCanceled, true)
			}
		case state.Expired:
			applied, err := p.invoices.FlagOnchainExpired(ctx, inv.ID)
			if err != nil {
				continue
			}
			if applied {
				p.emitInvoiceEvent(ctx, inv.ID, domain.EventInvoiceExpired, true)
			}
		}
	}
}

// sweepRefunds applies incremental refund deltas the ledger reports on paid
// or partially refunded rows.
func (p *PaymentPoller) sweepRefunds(ctx context.Context) {
	rows, err := p.invoices.ListRefundable(ctx, p.cfg.SweepBatch)
	if err != nil {
		p.log.Error().Err(err).Msg("refund sweep query failed")
		return
	}

	for i := range rows {
		inv := &rows[i]
		state, err := p.chainClient.InvoiceState(ctx, inv.ID)
		if err != nil || state == nil {
			continue
		}
		if state.RefundedAmount <= inv.RefundedAmount {
			continue
		}

		applied, err := p.invoices.ApplyRefund(ctx, inv.ID, state.RefundedAmount, "", inv.RefundStatusFor(state.RefundedAmount))
		if err != nil {
			p.log.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("sweep apply refund failed")
			continue
		}
		if applied {
			p.log.Info().
				Str("invoice_id", inv.ID.String()).
				Uint64("refunded_total", state.RefundedAmount).
				Msg("refund delta found by sweep")
			p.emitInvoiceEvent(ctx, inv.ID, domain.EventInvoiceRefunded, false)
		}
	}
}

// sweepSubscriptions re-checks a bounded batch of active subscriptions
// directly against the ledger, catching cancellations whose log events were
// missed or truncated.
func (p *PaymentPoller) sweepSubscriptions(ctx context.Context) {
	rows, err := p.subs.ListActive(ctx, p.cfg.SweepBatch)
	if err != nil {
		p.log.Error().Err(err).Msg("subscription sweep query failed")
		return
	}

	for i := range rows {
		sub := &rows[i]
		state, err := p.chainClient.SubscriptionState(ctx, sub.ID)
		if err != nil || state == nil || state.Active {
			continue
		}

		applied, err := p.subs.Deactivate(ctx, sub.ID)
		if err != nil {
			p.log.Error().Err(err).Str("subscription_id", sub.ID.String()).Msg("sweep deactivate failed")
			continue
		}
		if applied {
			p.log.Info().Str("subscription_id", sub.ID.String()).Msg("cancellation found by sweep")
			sub.Active = false
			if err := p.emitter.EmitSubscriptionEvent(ctx, sub, domain.EventSubscriptionCanceled); err != nil {
				p.log.Warn().Err(err).Msg("subscription canceled webhook emission failed")
			}
		}
	}
}

// sweepExpired bulk-expires invoices past their quote deadline and notifies
// each exactly once.
func (p *PaymentPoller) sweepExpired(ctx context.Context) {
	expired, err := p.invoices.MarkExpired(ctx, time.Now())
	if err != nil {
		p.log.Error().Err(err).Msg("expiry sweep failed")
		return
	}

	for i := range expired {
		inv := &expired[i]
		if err := p.emitter.EmitInvoiceEventOnce(ctx, inv, domain.EventInvoiceExpired); err != nil {
			p.log.Warn().Err(err).Str("invoice_id", inv.ID.String()).Msg("expired webhook emission failed")
		}
	}
}

// emitInvoiceEvent reloads the row and emits, optionally deduplicated on a
// prior successful delivery.
func (p *PaymentPoller) emitInvoiceEvent(ctx context.Context, id domain.LedgerID, eventType string, once bool) {
	inv, err := p.invoices.GetByID(ctx, id)
	if err != nil || inv == nil {
		return
	}
	if once {
		err = p.emitter.EmitInvoiceEventOnce(ctx, inv, eventType)
	} else {
		err = p.emitter.EmitInvoiceEvent(ctx, inv, eventType)
	}
	if err != nil {
		p.log.Warn().Err(err).Str("invoice_id", id.String()).Str("event_type", eventType).Msg("webhook emission failed")
	}
}
