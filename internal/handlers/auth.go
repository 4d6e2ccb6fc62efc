// internal/handlers/auth.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/services"
	"github.com/healthledger/attestation-service/internal/utils"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// POST /auth/token
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	authResponse, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, i18n.ResourceOrganization)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"organization": authResponse.Organization,
		"token":        authResponse.AccessToken,
		"token_type":   authResponse.TokenType,
		"expires_in":   authResponse.ExpiresIn,
	})
}

// POST /organizations
func (h *AuthHandler) RegisterOrganization(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.RegisterOrganizationRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.authService.RegisterOrganization(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, err, i18n.ResourceOrganization)
		return
	}

	utils.CreatedResponse(c, result)
}

// GET /organizations/:id
func (h *AuthHandler) GetOrganization(c *gin.Context) {
	org, err := h.authService.GetOrganization(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, i18n.ResourceOrganization)
		return
	}

	utils.SuccessResponse(c, org)
}
