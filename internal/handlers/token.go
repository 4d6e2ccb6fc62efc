// internal/handlers/token.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/services"
	"github.com/healthledger/attestation-service/internal/utils"
)

type TokenHandler struct {
	tokenService   *services.TokenService
	paymentService *services.PaymentService
}

func NewTokenHandler(tokenService *services.TokenService, paymentService *services.PaymentService) *TokenHandler {
	return &TokenHandler{
		tokenService:   tokenService,
		paymentService: paymentService,
	}
}

// POST /token/reward
func (h *TokenHandler) Reward(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.RewardRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := h.tokenService.Reward(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceGeneric)
		return
	}

	utils.SuccessResponse(c, account)
}

// POST /token/bulk-reward
func (h *TokenHandler) BulkReward(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.BulkRewardRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.tokenService.BulkReward(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceGeneric)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /token/pay
func (h *TokenHandler) Pay(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.PayRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := h.tokenService.Pay(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceGeneric)
		return
	}

	utils.SuccessResponse(c, account)
}

// GET /token/balance/:address
func (h *TokenHandler) Balance(c *gin.Context) {
	address := c.Param("address")
	if utils.ValidateVar(address, "eth_addr") != nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "address"), nil)
		return
	}

	account, err := h.tokenService.Balance(c.Request.Context(), address)
	if err != nil {
		respondError(c, err, i18n.ResourceGeneric)
		return
	}

	utils.SuccessResponse(c, account)
}

// GET /token/supply
func (h *TokenHandler) Supply(c *gin.Context) {
	supply, err := h.tokenService.Supply(c.Request.Context())
	if err != nil {
		respondError(c, err, i18n.ResourceGeneric)
		return
	}

	utils.SuccessResponse(c, supply)
}

// GET /token/transactions/:address
func (h *TokenHandler) Transactions(c *gin.Context) {
	result, err := h.tokenService.Transactions(c.Request.Context(), c.Param("address"), utils.GetPaginationParams(c))
	if err != nil {
		respondError(c, err, i18n.ResourceGeneric)
		return
	}

	utils.PaginatedResponse(c, *result)
}

// POST /token/topup
func (h *TokenHandler) CreateTopUp(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.CreateTopUpRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.paymentService.CreateTopUp(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceTopUp)
		return
	}

	utils.CreatedResponse(c, response)
}

// POST /token/topup/:intentId/confirm
func (h *TokenHandler) ConfirmTopUp(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	topUp, err := h.paymentService.ConfirmTopUp(c.Request.Context(), caller, c.Param("intentId"))
	if err != nil {
		respondError(c, err, i18n.ResourceTopUp)
		return
	}

	utils.SuccessResponse(c, topUp)
}
