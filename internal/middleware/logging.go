// internal/middleware/logging.go
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/models"
)

const maxAuditBody = 64 * 1024

// body fields never copied into the request audit log
var redactedFields = map[string]bool{
	"encrypted_payload": true,
	"patient_id":        true,
	"api_key":           true,
	"signature":         true,
	"records":           true,
}

func AuditLogMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for GET requests and health checks
		if c.Request.Method == "GET" || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		// Read request body
		var requestBody []byte
		if c.Request.Body != nil && c.ContentType() == "application/json" {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxAuditBody+1))
			c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(requestBody), c.Request.Body))
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		orgID, _ := c.Get("org_id")
		orgIDStr, _ := orgID.(string)

		var requestData map[string]interface{}
		if len(requestBody) > 0 && len(requestBody) <= maxAuditBody {
			if err := json.Unmarshal(requestBody, &requestData); err == nil {
				for k := range requestData {
					if redactedFields[k] {
						requestData[k] = "[redacted]"
					}
				}
			}
		}

		auditLog := &models.AuditLog{
			OrgID:        orgIDStr,
			Action:       c.Request.Method + " " + routeOrPath(c),
			ResourceType: extractResourceType(c.Request.URL.Path),
			ResourceID:   c.Param("id"),
			Status:       c.Writer.Status(),
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			NewValues:    models.JSONB(requestData),
		}

		// Save audit log asynchronously
		go func() {
			if err := db.Create(auditLog).Error; err != nil {
				logrus.WithError(err).Error("Failed to create audit log")
			}
		}()

		// Log the request
		logrus.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   duration.Milliseconds(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
			"org_id":     orgIDStr,
		}).Info("Request processed")
	}
}

func routeOrPath(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}

func extractResourceType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "v1" {
		return parts[2]
	}
	if len(parts) >= 1 && parts[0] != "" {
		return parts[0]
	}
	return "unknown"
}

// RequestObserver receives the duration of each request.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

func RequestMetrics(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		observer.ObserveRequest(c.Request.Method, routeOrPath(c), c.Writer.Status(), time.Since(start))
	}
}
