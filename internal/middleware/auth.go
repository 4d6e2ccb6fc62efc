// internal/middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

const callerKey = "caller"

func callerFromClaims(claims *utils.JWTClaims) policy.Caller {
	caller := policy.Caller{
		OrgID:   claims.OrgID,
		Address: claims.Address,
	}
	for _, r := range claims.Roles {
		if role := models.Role(r); role.Valid() {
			caller.Roles = append(caller.Roles, role)
		}
	}
	for _, c := range claims.Capabilities {
		if capability := models.Capability(c); capability.Valid() {
			caller.Capabilities = append(caller.Capabilities, capability)
		}
	}
	return caller
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	// Extract token from "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			utils.UnauthorizedResponse(c, "")
			c.Abort()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			utils.UnauthorizedResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(token)
		if err != nil {
			utils.UnauthorizedResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}

		// Set caller identity in context
		c.Set(callerKey, callerFromClaims(claims))
		c.Set("org_id", claims.OrgID)
		c.Next()
	}
}

// RequireCapability must run after AuthRequired.
func RequireCapability(capability models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := GetCaller(c)
		if !ok || !policy.HasCapability(caller, capability) {
			utils.ForbiddenResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyAuthCapabilityRequired, string(capability)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetCaller returns the identity set by AuthRequired.
func GetCaller(c *gin.Context) (policy.Caller, bool) {
	if v, exists := c.Get(callerKey); exists {
		if caller, ok := v.(policy.Caller); ok {
			return caller, true
		}
	}
	return policy.Caller{}, false
}
