// internal/handlers/proof.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/services"
	"github.com/healthledger/attestation-service/internal/utils"
)

type ProofHandler struct {
	bridgeService *services.BridgeService
}

func NewProofHandler(bridgeService *services.BridgeService) *ProofHandler {
	return &ProofHandler{
		bridgeService: bridgeService,
	}
}

func proofIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "proof id"), nil)
		return uuid.Nil, false
	}
	return id, true
}

// POST /proofs
func (h *ProofHandler) Submit(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.SubmitProofRequest
	if !bindJSON(c, &req) {
		return
	}

	proof, err := h.bridgeService.SubmitProof(c.Request.Context(), caller, &req)
	if errors.Is(err, services.ErrAlreadySubmitted) && proof != nil {
		lang := utils.GetLangFromContext(c)
		utils.ErrorResponse(c, http.StatusConflict, services.ErrorCode(err), i18n.T(lang, i18n.KeyAlreadySubmitted), proof)
		return
	}
	if err != nil {
		respondError(c, err, i18n.ResourceProof)
		return
	}

	utils.CreatedResponse(c, proof)
}

// GET /proofs/:id
func (h *ProofHandler) Get(c *gin.Context) {
	proofID, ok := proofIDParam(c)
	if !ok {
		return
	}

	proof, err := h.bridgeService.GetProof(c.Request.Context(), proofID)
	if err != nil {
		respondError(c, err, i18n.ResourceProof)
		return
	}

	utils.SuccessResponse(c, proof)
}

// POST /proofs/:id/vote
func (h *ProofHandler) Vote(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	proofID, ok := proofIDParam(c)
	if !ok {
		return
	}

	var req services.VoteRequest
	if !bindJSON(c, &req) {
		return
	}

	proof, err := h.bridgeService.Validate(c.Request.Context(), caller, proofID, &req)
	if errors.Is(err, services.ErrProofExpired) && proof != nil {
		lang := utils.GetLangFromContext(c)
		utils.ErrorResponse(c, http.StatusGone, services.ErrorCode(err), i18n.T(lang, i18n.KeyProofExpired), proof)
		return
	}
	if err != nil {
		respondError(c, err, i18n.ResourceProof)
		return
	}

	utils.SuccessResponse(c, proof)
}

// POST /validators
func (h *ProofHandler) RegisterValidator(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.RegisterValidatorRequest
	if !bindJSON(c, &req) {
		return
	}

	validator, err := h.bridgeService.RegisterValidator(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceValidator)
		return
	}

	utils.CreatedResponse(c, validator)
}

// DELETE /validators/:id
func (h *ProofHandler) DeactivateValidator(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	set, err := h.bridgeService.DeactivateValidator(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondError(c, err, i18n.ResourceValidator)
		return
	}

	utils.SuccessResponse(c, set)
}

// GET /validators
func (h *ProofHandler) ListValidators(c *gin.Context) {
	validators, err := h.bridgeService.ListValidators(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		respondError(c, err, i18n.ResourceValidator)
		return
	}

	utils.SuccessResponse(c, validators)
}

// GET /validators/set
func (h *ProofHandler) CurrentValidatorSet(c *gin.Context) {
	set, err := h.bridgeService.CurrentValidatorSet(c.Request.Context())
	if err != nil {
		respondError(c, err, i18n.ResourceValidator)
		return
	}

	utils.SuccessResponse(c, set)
}
