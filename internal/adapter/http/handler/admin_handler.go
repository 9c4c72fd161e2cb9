package handler

import (
	"time"

	"chainpay-gateway/internal/adapter/http/dto"
	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/internal/service"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PollerControl is the slice of the reconciliation engine the admin surface
// drives.
type PollerControl interface {
	Restart()
	State() service.PollerState
}

// AdminHandler handles the operator surface: webhook redelivery, poller
// control, credential rotation, store activation and asset configuration.
type AdminHandler struct {
	webhookSvc ports.WebhookService
	authSvc    ports.AuthService
	stores     ports.StoreRepository
	poller     PollerControl
	builder    *chain.CallBuilder
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	webhookSvc ports.WebhookService,
	authSvc ports.AuthService,
	stores ports.StoreRepository,
	poller PollerControl,
	builder *chain.CallBuilder,
) *AdminHandler {
	return &AdminHandler{
		webhookSvc: webhookSvc,
		authSvc:    authSvc,
		stores:     stores,
		poller:     poller,
		builder:    builder,
	}
}

// RetryWebhook handles POST /api/v1/admin/webhooks/:id/retry. Redelivery is
// a no-op when the logical event already has a successful attempt.
func (h *AdminHandler) RetryWebhook(c *gin.Context) {
	logID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("webhook log id must be a UUID"))
		return
	}

	if err := h.webhookSvc.Retry(c.Request.Context(), logID); err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, gin.H{"log_id": logID.String()})
}

// PollerState handles GET /api/v1/admin/poller.
func (h *AdminHandler) PollerState(c *gin.Context) {
	state := h.poller.State()

	resp := dto.PollerStateResponse{
		Running:       state.Running,
		CursorHeight:  state.CursorHeight,
		LagBlocks:     state.LagBlocks,
		PendingRewind: state.PendingRewind,
		LastError:     state.LastError,
	}
	if state.LastRunAt != nil {
		resp.LastRunAt = state.LastRunAt.Format(time.RFC3339)
	}
	response.OK(c, resp)
}

// RestartPoller handles POST /api/v1/admin/poller/restart. The cursor is
// persistent, so a restart resumes from the last completed tick.
func (h *AdminHandler) RestartPoller(c *gin.Context) {
	h.poller.Restart()
	response.Accepted(c, gin.H{"status": "restarting"})
}

// RotateKeys handles POST /api/v1/admin/keys/rotate for the authenticated
// store. The fresh secrets are shown exactly once.
func (h *AdminHandler) RotateKeys(c *gin.Context) {
	storeID, ok := storeIDFromCtx(c)
	if !ok {
		return
	}

	result, err := h.authSvc.RotateKeys(c.Request.Context(), storeID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToRegisterStoreResponse(result))
}

// SetStoreActive handles POST /api/v1/admin/stores/:id/active. Activating a
// store also returns the unsigned on-chain activation call for the operator
// to sign.
func (h *AdminHandler) SetStoreActive(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("store id must be a UUID"))
		return
	}

	var req dto.SetStoreActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	store, err := h.stores.GetByID(c.Request.Context(), targetID)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}
	if store == nil {
		response.Error(c, apperror.ErrStoreNotFound())
		return
	}

	if err := h.stores.SetActive(c.Request.Context(), targetID, *req.Active); err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	resp := gin.H{"store_id": targetID.String(), "active": *req.Active}
	if *req.Active {
		call, err := h.builder.ActivateMerchant(store.Principal)
		if err != nil {
			response.Error(c, err)
			return
		}
		resp["call"] = call
	}
	response.OK(c, resp)
}

// SetAsset handles PUT /api/v1/admin/asset: repoints the call builder at a
// new settlement asset and returns the unsigned set-token call that makes
// the contract follow.
func (h *AdminHandler) SetAsset(c *gin.Context) {
	var req dto.SetAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	call, err := h.builder.SetToken(req.AssetAddress + "." + req.AssetContract)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.builder.SetAsset(chain.AssetInfo{
		Address:      req.AssetAddress,
		ContractName: req.AssetContract,
		TokenName:    req.AssetName,
	})

	response.OK(c, gin.H{
		"asset": h.builder.Asset().String(),
		"call":  call,
	})
}
