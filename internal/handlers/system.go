// internal/handlers/system.go
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/services"
	"github.com/healthledger/attestation-service/internal/utils"
)

type SystemHandler struct {
	metricsService *services.MetricsService
	version        string
}

func NewSystemHandler(metricsService *services.MetricsService, version string) *SystemHandler {
	return &SystemHandler{
		metricsService: metricsService,
		version:        version,
	}
}

// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	})
}

// GET /stats
func (h *SystemHandler) Stats(c *gin.Context) {
	stats, err := h.metricsService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err, i18n.ResourceGeneric)
		return
	}

	utils.SuccessResponse(c, stats)
}

// GET /metrics
func (h *SystemHandler) Metrics(c *gin.Context) {
	h.metricsService.Handler().ServeHTTP(c.Writer, c.Request)
}
