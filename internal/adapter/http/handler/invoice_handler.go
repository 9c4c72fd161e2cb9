package handler

import (
	"chainpay-gateway/internal/adapter/http/dto"
	"chainpay-gateway/internal/adapter/http/middleware"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// InvoiceHandler handles invoice lifecycle endpoints.
type InvoiceHandler struct {
	invoiceSvc ports.InvoiceService
	refundSvc  ports.RefundService
	relaySvc   ports.RelayService
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(invoiceSvc ports.InvoiceService, refundSvc ports.RefundService, relaySvc ports.RelayService) *InvoiceHandler {
	return &InvoiceHandler{invoiceSvc: invoiceSvc, refundSvc: refundSvc, relaySvc: relaySvc}
}

func storeIDFromCtx(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.CtxStoreID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.UUID{}, false
	}
	return v.(uuid.UUID), true
}

func ledgerIDParam(c *gin.Context) (domain.LedgerID, bool) {
	id, err := domain.ParseLedgerID(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrInvalidLedgerID())
		return domain.LedgerID{}, false
	}
	return id, true
}

// Create handles POST /api/v1/invoices.
func (h *InvoiceHandler) Create(c *gin.Context) {
	storeID, ok := storeIDFromCtx(c)
	if !ok {
		return
	}

	var req dto.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.invoiceSvc.Create(c.Request.Context(), ports.CreateInvoiceRequest{
		StoreID: storeID,
		RawID:   req.OrderID,
		Amount:  req.Amount,
		Memo:    req.Memo,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.InvoiceWithCallResponse{
		Invoice: dto.ToInvoiceResponse(result.Invoice, result.Invoice.Status),
		Call:    result.Call,
	})
}

// Get handles GET /api/v1/invoices/:id. The returned status folds in the
// ledger's authoritative view.
func (h *InvoiceHandler) Get(c *gin.Context) {
	storeID, ok := storeIDFromCtx(c)
	if !ok {
		return
	}
	id, ok := ledgerIDParam(c)
	if !ok {
		return
	}

	view, err := h.invoiceSvc.Get(c.Request.Context(), storeID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToInvoiceResponse(view.Invoice, view.DisplayStatus))
}

// PayCall handles POST /api/v1/invoices/:id/pay-call. Unauthenticated: the
// payer is not the merchant, and the call itself moves no funds until signed.
func (h *InvoiceHandler) PayCall(c *gin.Context) {
	id, ok := ledgerIDParam(c)
	if !ok {
		return
	}

	var req dto.PayCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	call, err := h.invoiceSvc.AssemblePayCall(c.Request.Context(), id, req.PayerPrincipal)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, call)
}

// CancelCall handles POST /api/v1/invoices/:id/cancel-call.
func (h *InvoiceHandler) CancelCall(c *gin.Context) {
	storeID, ok := storeIDFromCtx(c)
	if !ok {
		return
	}
	id, ok := ledgerIDParam(c)
	if !ok {
		return
	}

	call, err := h.invoiceSvc.AssembleCancelCall(c.Request.Context(), storeID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, call)
}

// RefundCall handles POST /api/v1/invoices/:id/refund-call.
func (h *InvoiceHandler) RefundCall(c *gin.Context) {
	storeID, ok := storeIDFromCtx(c)
	if !ok {
		return
	}
	id, ok := ledgerIDParam(c)
	if !ok {
		return
	}

	var req dto.RefundCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	call, err := h.refundSvc.AssembleRefundCall(c.Request.Context(), ports.RefundRequest{
		StoreID:   storeID,
		InvoiceID: id,
		Amount:    req.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, call)
}

// Broadcast handles POST /api/v1/transactions. Only usable when the relay
// is enabled and configured with a signer key.
func (h *InvoiceHandler) Broadcast(c *gin.Context) {
	if _, ok := storeIDFromCtx(c); !ok {
		return
	}

	var req dto.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	txID, err := h.relaySvc.Broadcast(c.Request.Context(), req.SignedTx)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.BroadcastResponse{TxID: txID})
}
