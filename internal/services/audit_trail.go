// internal/services/audit_trail.go
package services

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/healthledger/attestation-service/internal/audit"
)

// AuditTrail is the tamper-evident log core services append to after a
// state change commits.
type AuditTrail interface {
	Append(event audit.Event) (audit.Record, error)
	Trail(resourceType, resourceID string) ([]audit.Record, error)
}

func appendAudit(trail AuditTrail, action, resourceType, resourceID, actor string, payload map[string]interface{}) {
	if trail == nil {
		return
	}
	_, err := trail.Append(audit.Event{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ActorOrgID:   actor,
		Timestamp:    time.Now().UTC(),
		Payload:      payload,
	})
	if err != nil {
		// the change is already committed; a missing trail entry is reported, not undone
		logrus.WithFields(logrus.Fields{
			"action":        action,
			"resource_type": resourceType,
			"resource_id":   resourceID,
		}).WithError(err).Error("Failed to append audit record")
	}
}
