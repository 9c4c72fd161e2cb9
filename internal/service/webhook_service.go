package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// retryLadder holds the delay before attempt n (1-based) at index n-1. The
// first attempt fires immediately; the cap in domain.MaxWebhookAttempts
// keeps the tail entries as headroom.
var retryLadder = []time.Duration{
	0,
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	480 * time.Second,
	960 * time.Second,
}

const retrySweepBatch = 100

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// invoicePayload is the JSON body for invoice lifecycle events.
type invoicePayload struct {
	Event          string  `json:"event"`
	InvoiceID      string  `json:"invoice_id"`
	OrderID        string  `json:"order_id,omitempty"`
	Amount         uint64  `json:"amount"`
	Status         string  `json:"status"`
	Payer          string  `json:"payer,omitempty"`
	TxID           string  `json:"tx_id,omitempty"`
	RefundedAmount uint64  `json:"refunded_amount,omitempty"`
	SubscriptionID *string `json:"subscription_id,omitempty"`
	Timestamp      int64   `json:"timestamp"`
}

// subscriptionPayload is the JSON body for subscription lifecycle events.
type subscriptionPayload struct {
	Event          string `json:"event"`
	SubscriptionID string `json:"subscription_id"`
	Amount         uint64 `json:"amount"`
	IntervalBlocks uint64 `json:"interval_blocks"`
	Mode           string `json:"mode"`
	Active         bool   `json:"active"`
	Subscriber     string `json:"subscriber"`
	LastInvoiceID  string `json:"last_invoice_id,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// WebhookDeliveryService implements ports.WebhookService: signed delivery
// with a persisted audit trail, a capped retry ladder and at-least-once
// semantics deduplicated on read.
type WebhookDeliveryService struct {
	logs       ports.WebhookLogRepository
	stores     ports.StoreRepository
	encSvc     ports.EncryptionService
	signer     ports.WebhookSigner
	httpClient HTTPClient
	interval   time.Duration
	log        zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWebhookDeliveryService creates the delivery service. interval is the
// retry sweep period.
func NewWebhookDeliveryService(
	logs ports.WebhookLogRepository,
	stores ports.StoreRepository,
	encSvc ports.EncryptionService,
	signer ports.WebhookSigner,
	httpClient HTTPClient,
	interval time.Duration,
	log zerolog.Logger,
) *WebhookDeliveryService {
	return &WebhookDeliveryService{
		logs:       logs,
		stores:     stores,
		encSvc:     encSvc,
		signer:     signer,
		httpClient: httpClient,
		interval:   interval,
		log:        logger.Component(log, "webhook_dispatcher"),
		inFlight:   make(map[string]struct{}),
	}
}

var _ ports.WebhookService = (*WebhookDeliveryService)(nil)

// EmitInvoiceEvent schedules delivery of an invoice lifecycle event.
func (s *WebhookDeliveryService) EmitInvoiceEvent(ctx context.Context, inv *domain.Invoice, eventType string) error {
	store, err := s.stores.GetByID(ctx, inv.StoreID)
	if err != nil {
		return err
	}
	if store == nil || !store.HasWebhook() {
		s.log.Debug().Str("invoice_id", inv.ID.String()).Msg("no webhook url configured, skipping")
		return nil
	}

	var subID *string
	if inv.SubscriptionID != nil {
		str := inv.SubscriptionID.String()
		subID = &str
	}
	payload, err := json.Marshal(invoicePayload{
		Event:          eventType,
		InvoiceID:      inv.ID.String(),
		OrderID:        inv.RawID,
		Amount:         inv.Amount,
		Status:         string(inv.Status),
		Payer:          deref(inv.PayerPrincipal),
		TxID:           deref(inv.SettlementTxID),
		RefundedAmount: inv.RefundedAmount,
		SubscriptionID: subID,
		Timestamp:      time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	invID := inv.ID
	return s.dispatch(ctx, store, &invID, nil, eventType, string(payload))
}

// EmitInvoiceEventOnce emits only when no successful delivery of the same
// logical event exists yet.
func (s *WebhookDeliveryService) EmitInvoiceEventOnce(ctx context.Context, inv *domain.Invoice, eventType string) error {
	invID := inv.ID
	delivered, err := s.logs.HasSuccessful(ctx, inv.StoreID, &invID, nil, eventType)
	if err != nil {
		return err
	}
	if delivered {
		return nil
	}
	return s.EmitInvoiceEvent(ctx, inv, eventType)
}

// EmitSubscriptionEvent schedules delivery of a subscription lifecycle event.
func (s *WebhookDeliveryService) EmitSubscriptionEvent(ctx context.Context, sub *domain.Subscription, eventType string) error {
	store, err := s.stores.GetByID(ctx, sub.StoreID)
	if err != nil {
		return err
	}
	if store == nil || !store.HasWebhook() {
		s.log.Debug().Str("subscription_id", sub.ID.String()).Msg("no webhook url configured, skipping")
		return nil
	}

	var lastInvoice string
	if sub.LastInvoiceID != nil {
		lastInvoice = sub.LastInvoiceID.String()
	}
	payload, err := json.Marshal(subscriptionPayload{
		Event:          eventType,
		SubscriptionID: sub.ID.String(),
		Amount:         sub.Amount,
		IntervalBlocks: sub.IntervalBlocks,
		Mode:           string(sub.Mode),
		Active:         sub.Active,
		Subscriber:     sub.SubscriberPrincipal,
		LastInvoiceID:  lastInvoice,
		Timestamp:      time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	subID := sub.ID
	return s.dispatch(ctx, store, nil, &subID, eventType, string(payload))
}

// Retry redelivers the logical event behind a logged attempt, skipping the
// ladder delay. It no-ops when a successful sibling attempt exists.
func (s *WebhookDeliveryService) Retry(ctx context.Context, logID uuid.UUID) error {
	att, err := s.logs.GetByID(ctx, logID)
	if err != nil {
		return err
	}
	if att == nil {
		return apperror.ErrWebhookLogNotFound()
	}

	delivered, err := s.logs.HasSuccessful(ctx, att.StoreID, att.InvoiceID, att.SubscriptionID, att.EventType)
	if err != nil {
		return err
	}
	if delivered {
		s.log.Info().Str("log_id", logID.String()).Msg("event already delivered, retry is a no-op")
		return nil
	}

	store, err := s.stores.GetByID(ctx, att.StoreID)
	if err != nil {
		return err
	}
	if store == nil || !store.HasWebhook() {
		return nil
	}
	return s.dispatch(ctx, store, att.InvoiceID, att.SubscriptionID, att.EventType, att.Payload)
}

// dispatch persists a new attempt row, then performs one signed POST and
// records the outcome. The in-flight set suppresses concurrent duplicate
// scheduling of the same logical event; the attempt cap abandons events that
// keep failing.
func (s *WebhookDeliveryService) dispatch(ctx context.Context, store *domain.Store, invoiceID, subscriptionID *domain.LedgerID, eventType, payload string) error {
	key := domain.WebhookEventKey(store.ID, invoiceID, subscriptionID, eventType)

	s.mu.Lock()
	if _, busy := s.inFlight[key]; busy {
		s.mu.Unlock()
		s.log.Debug().Str("event_key", key).Msg("delivery already in flight, skipping")
		return nil
	}
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	last, err := s.logs.MaxAttempt(ctx, store.ID, invoiceID, subscriptionID, eventType)
	if err != nil {
		return err
	}
	if last >= domain.MaxWebhookAttempts {
		s.log.Warn().Str("event_key", key).Int("attempts", last).Msg("attempt cap reached, event abandoned")
		return nil
	}

	att := &domain.WebhookAttempt{
		ID:             uuid.New(),
		StoreID:        store.ID,
		InvoiceID:      invoiceID,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		Attempt:        last + 1,
		AttemptedAt:    time.Now(),
	}
	if err := s.logs.Create(ctx, att); err != nil {
		return err
	}

	s.deliver(ctx, store, att)
	return nil
}

// deliver performs the signed POST for an already-persisted attempt and
// updates the row with the outcome. Delivery failure is an outcome, not an
// error: the retry sweep owns the follow-up.
func (s *WebhookDeliveryService) deliver(ctx context.Context, store *domain.Store, att *domain.WebhookAttempt) {
	secret, err := s.encSvc.Decrypt(store.WebhookSecretEnc)
	if err != nil {
		s.log.Error().Err(err).Str("store_id", store.ID.String()).Msg("webhook secret decryption failed")
		s.recordOutcome(ctx, att, nil, false)
		return
	}

	ts := time.Now().Unix()
	body := []byte(att.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *store.WebhookURL, bytes.NewReader(body))
	if err != nil {
		s.recordOutcome(ctx, att, nil, false)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Webhook-Signature", s.signer.Sign(secret, ts, body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warn().Err(err).
			Str("event_type", att.EventType).
			Int("attempt", att.Attempt).
			Msg("webhook delivery failed")
		s.recordOutcome(ctx, att, nil, false)
		return
	}
	resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	status := resp.StatusCode
	s.recordOutcome(ctx, att, &status, success)

	evt := s.log.Info()
	if !success {
		evt = s.log.Warn()
	}
	evt.Str("event_type", att.EventType).
		Int("attempt", att.Attempt).
		Int("status", status).
		Bool("success", success).
		Msg("webhook delivery finished")
}

func (s *WebhookDeliveryService) recordOutcome(ctx context.Context, att *domain.WebhookAttempt, httpStatus *int, success bool) {
	att.HTTPStatus = httpStatus
	att.Success = success
	att.AttemptedAt = time.Now()
	if err := s.logs.Update(ctx, att); err != nil {
		s.log.Error().Err(err).Str("log_id", att.ID.String()).Msg("failed to record delivery outcome")
	}
}

// RunRetrySweep redispatches failed attempts whose ladder delay has elapsed.
func (s *WebhookDeliveryService) RunRetrySweep(ctx context.Context) {
	candidates, err := s.logs.ListRetryCandidates(ctx, retrySweepBatch)
	if err != nil {
		s.log.Error().Err(err).Msg("retry sweep query failed")
		return
	}

	now := time.Now()
	for i := range candidates {
		att := &candidates[i]
		if now.Before(retryDue(att)) {
			continue
		}
		store, err := s.stores.GetByID(ctx, att.StoreID)
		if err != nil || store == nil || !store.HasWebhook() {
			continue
		}
		if err := s.dispatch(ctx, store, att.InvoiceID, att.SubscriptionID, att.EventType, att.Payload); err != nil {
			s.log.Error().Err(err).Str("log_id", att.ID.String()).Msg("retry dispatch failed")
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// retryDue returns when the next attempt after this one may fire.
func retryDue(att *domain.WebhookAttempt) time.Time {
	idx := att.Attempt
	if idx >= len(retryLadder) {
		idx = len(retryLadder) - 1
	}
	return att.AttemptedAt.Add(retryLadder[idx])
}

// Start launches the periodic retry sweep.
func (s *WebhookDeliveryService) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.RunRetrySweep(context.Background())
			}
		}
	}()
	s.log.Info().Dur("interval", s.interval).Msg("webhook retry sweep started")
}

// Stop halts the retry sweep and waits for it to finish.
func (s *WebhookDeliveryService) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.doneCh = nil
	s.log.Info().Msg("webhook retry sweep stopped")
}
