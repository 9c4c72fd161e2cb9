package service

import (
	"context"
	"strconv"
	"time"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// SubscriptionScheduler periodically materializes invoices for due
// invoice-mode subscriptions. One subscription's failure never aborts the
// batch; next_due only advances after a successful billing.
type SubscriptionScheduler struct {
	subs        ports.SubscriptionRepository
	invoiceSvc  ports.InvoiceService
	chainClient ports.ChainClient
	emitter     ports.WebhookEmitter
	cfg         config.SubscriptionConfig
	log         zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSubscriptionScheduler creates the scheduler.
func NewSubscriptionScheduler(
	subs ports.SubscriptionRepository,
	invoiceSvc ports.InvoiceService,
	chainClient ports.ChainClient,
	emitter ports.WebhookEmitter,
	cfg config.SubscriptionConfig,
	log zerolog.Logger,
) *SubscriptionScheduler {
	return &SubscriptionScheduler{
		subs:        subs,
		invoiceSvc:  invoiceSvc,
		chainClient: chainClient,
		emitter:     emitter,
		cfg:         cfg,
		log:         logger.Component(log, "subscription_scheduler"),
	}
}

// RunOnce bills every due subscription against the current ledger height.
func (s *SubscriptionScheduler) RunOnce(ctx context.Context) {
	tip, err := s.chainClient.Tip(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("tip read failed, skipping billing run")
		return
	}

	due, err := s.subs.ListDue(ctx, tip.Height, s.cfg.Batch)
	if err != nil {
		s.log.Error().Err(err).Msg("due subscription query failed")
		return
	}

	for i := range due {
		if err := s.bill(ctx, &due[i], tip.Height); err != nil {
			s.log.Error().Err(err).
				Str("subscription_id", due[i].ID.String()).
				Msg("billing failed, will retry next run")
		}
	}
}

// bill materializes one invoice and advances next_due by exactly one
// interval. The RecordBilling guard makes a concurrent double-run a no-op.
func (s *SubscriptionScheduler) bill(ctx context.Context, sub *domain.Subscription, height uint64) error {
	subID := sub.ID
	result, err := s.invoiceSvc.Create(ctx, ports.CreateInvoiceRequest{
		StoreID:        sub.StoreID,
		RawID:          billingReference(sub, height),
		Amount:         sub.Amount,
		SubscriptionID: &subID,
	})
	if err != nil {
		return err
	}

	applied, err := s.subs.RecordBilling(ctx, sub.ID, sub.NextDueAfterBilling(), height, result.Invoice.ID)
	if err != nil {
		return err
	}
	if !applied {
		s.log.Debug().Str("subscription_id", sub.ID.String()).Msg("billing already recorded, skipping")
		return nil
	}

	sub.LastInvoiceID = &result.Invoice.ID
	if err := s.emitter.EmitSubscriptionEvent(ctx, sub, domain.EventSubscriptionBilled); err != nil {
		s.log.Warn().Err(err).Str("subscription_id", sub.ID.String()).Msg("billing webhook emission failed")
	}

	s.log.Info().
		Str("subscription_id", sub.ID.String()).
		Str("invoice_id", result.Invoice.ID.String()).
		Uint64("height", height).
		Msg("subscription billed")
	return nil
}

// Start launches the periodic billing loop.
func (s *SubscriptionScheduler) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.RunOnce(context.Background())
			}
		}
	}()
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("subscription scheduler started")
}

// Stop halts the billing loop and waits for it to finish.
func (s *SubscriptionScheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.doneCh = nil
	s.log.Info().Msg("subscription scheduler stopped")
}

// billingReference is the merchant-facing order reference for a scheduler
// generated invoice, unique per (subscription, billing height).
func billingReference(sub *domain.Subscription, height uint64) string {
	return "sub-" + sub.ID.String()[:16] + "-h" + strconv.FormatUint(height, 10)
}
