package handler

import (
	"chainpay-gateway/internal/adapter/http/dto"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// SubscriptionHandler handles recurring billing endpoints.
type SubscriptionHandler struct {
	subSvc ports.SubscriptionService
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subSvc ports.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subSvc: subSvc}
}

// Create handles POST /api/v1/subscriptions.
func (h *SubscriptionHandler) Create(c *gin.Context) {
	storeID, ok := storeIDFromCtx(c)
	if !ok {
		return
	}

	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.subSvc.Create(c.Request.Context(), ports.CreateSubscriptionRequest{
		StoreID:             storeID,
		SubscriberPrincipal: req.SubscriberPrincipal,
		Amount:              req.Amount,
		IntervalBlocks:      req.IntervalBlocks,
		Mode:                domain.SubscriptionMode(req.Mode),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.SubscriptionWithCallResponse{
		Subscription: dto.ToSubscriptionResponse(result.Subscription),
		Call:         result.Call,
	})
}

// CancelCall handles POST /api/v1/subscriptions/:id/cancel-call.
func (h *SubscriptionHandler) CancelCall(c *gin.Context) {
	storeID, ok := storeIDFromCtx(c)
	if !ok {
		return
	}
	id, ok := ledgerIDParam(c)
	if !ok {
		return
	}

	call, err := h.subSvc.AssembleCancelCall(c.Request.Context(), storeID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, call)
}
