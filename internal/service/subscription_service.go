package service

import (
	"context"
	"time"

	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// subscriptionService implements ports.SubscriptionService.
type subscriptionService struct {
	subs        ports.SubscriptionRepository
	stores      ports.StoreRepository
	chainClient ports.ChainClient
	builder     *chain.CallBuilder
	emitter     ports.WebhookEmitter
	log         zerolog.Logger
}

// NewSubscriptionService creates the subscription service.
func NewSubscriptionService(
	subs ports.SubscriptionRepository,
	stores ports.StoreRepository,
	chainClient ports.ChainClient,
	builder *chain.CallBuilder,
	emitter ports.WebhookEmitter,
	log zerolog.Logger,
) ports.SubscriptionService {
	return &subscriptionService{
		subs:        subs,
		stores:      stores,
		chainClient: chainClient,
		builder:     builder,
		emitter:     emitter,
		log:         logger.Component(log, "subscription_service"),
	}
}

// Create persists a new subscription anchored at the current ledger height
// and returns it with the unsigned registration call.
func (s *subscriptionService) Create(ctx context.Context, req ports.CreateSubscriptionRequest) (*ports.SubscriptionWithCall, error) {
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
	if req.IntervalBlocks == 0 {
		return nil, apperror.ErrInvalidInterval()
	}
	if !domain.ValidPrincipal(req.SubscriberPrincipal) {
		return nil, apperror.ErrInvalidPrincipal(req.SubscriberPrincipal)
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.SubscriptionModeInvoice
	}

	tip, err := s.chainClient.Tip(ctx)
	if err != nil {
		return nil, err
	}

	id, err := s.uniqueID(ctx)
	if err != nil {
		return nil, err
	}

	sub := &domain.Subscription{
		ID:                  id,
		StoreID:             store.ID,
		MerchantPrincipal:   store.Principal,
		SubscriberPrincipal: req.SubscriberPrincipal,
		Amount:              req.Amount,
		IntervalBlocks:      req.IntervalBlocks,
		Active:              true,
		Mode:                mode,
		NextDueHeight:       tip.Height + req.IntervalBlocks,
		CreatedAt:           time.Now(),
	}

	call, err := s.builder.CreateSubscription(id, sub.Amount, sub.IntervalBlocks, sub.MerchantPrincipal, sub.SubscriberPrincipal)
	if err != nil {
		return nil, err
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.emitter.EmitSubscriptionEvent(ctx, sub, domain.EventSubscriptionCreated); err != nil {
		s.log.Warn().Err(err).Str("subscription_id", id.String()).Msg("subscription-created webhook emission failed")
	}

	s.log.Info().
		Str("subscription_id", id.String()).
		Str("mode", string(mode)).
		Uint64("next_due_height", sub.NextDueHeight).
		Msg("subscription created")

	return &ports.SubscriptionWithCall{Subscription: sub, Call: call}, nil
}

// AssembleCancelCall builds the unsigned cancel call for an active
// subscription owned by the store.
func (s *subscriptionService) AssembleCancelCall(ctx context.Context, storeID uuid.UUID, id domain.LedgerID) (*domain.ContractCall, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.StoreID != storeID {
		return nil, apperror.ErrSubscriptionNotFound()
	}
	if !sub.Active {
		return nil, apperror.ErrSubscriptionInactive()
	}
	return s.builder.CancelSubscription(id)
}

func (s *subscriptionService) uniqueID(ctx context.Context) (domain.LedgerID, error) {
	for i := 0; i < idGenerationAttempts; i++ {
		id, err := domain.NewLedgerID()
		if err != nil {
			return domain.LedgerID{}, err
		}
		exists, err := s.subs.Exists(ctx, id)
		if err != nil {
			return domain.LedgerID{}, err
		}
		if !exists {
			return id, nil
		}
	}
	return domain.LedgerID{}, apperror.ErrIDGenerationExhausted()
}
