package service

import (
	"context"

	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// refundService implements ports.RefundService. Every refund is policy
// checked here before a call is built: status, cumulative cap and merchant
// balance. The post-condition on the resulting call is the on-chain backstop
// for the same bound.
type refundService struct {
	invoices    ports.InvoiceRepository
	chainClient ports.ChainClient
	builder     *chain.CallBuilder
	log         zerolog.Logger
}

// NewRefundService creates the refund policy guard.
func NewRefundService(invoices ports.InvoiceRepository, chainClient ports.ChainClient, builder *chain.CallBuilder, log zerolog.Logger) ports.RefundService {
	return &refundService{
		invoices:    invoices,
		chainClient: chainClient,
		builder:     builder,
		log:         logger.Component(log, "refund_service"),
	}
}

// AssembleRefundCall builds the capped unsigned refund call.
func (s *refundService) AssembleRefundCall(ctx context.Context, req ports.RefundRequest) (*domain.ContractCall, error) {
	if req.Amount == 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	inv, err := s.invoices.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.StoreID != req.StoreID {
		return nil, apperror.ErrInvoiceNotFound()
	}
	if !inv.Refundable() {
		return nil, apperror.ErrNotRefundable(string(inv.Status))
	}
	// Compared against the remaining headroom rather than summed, so a huge
	// requested amount cannot wrap the accumulator past the cap.
	if req.Amount > inv.RemainingRefundable() {
		return nil, apperror.ErrRefundExceedsAmount()
	}

	balance, err := s.chainClient.FungibleBalance(ctx, inv.MerchantPrincipal)
	if err != nil {
		return nil, err
	}
	if balance < req.Amount {
		return nil, apperror.ErrInsufficientMerchantBalance()
	}

	s.log.Info().
		Str("invoice_id", req.InvoiceID.String()).
		Uint64("refund_amount", req.Amount).
		Uint64("already_refunded", inv.RefundedAmount).
		Msg("refund call assembled")

	return s.builder.RefundInvoice(req.InvoiceID, req.Amount, inv.MerchantPrincipal)
}
