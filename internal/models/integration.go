// internal/models/integration.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// IntegrationEvent is an outbox row for a notification to the surveillance
// system. It is written in the transaction that finalizes the proof.
type IntegrationEvent struct {
	BaseModel
	EventType   string            `json:"event_type" gorm:"size:64;not null;index"`
	RecordID    string            `json:"record_id" gorm:"size:128"`
	ProofID     uuid.UUID         `json:"proof_id" gorm:"type:uuid;not null;index"`
	ProofStatus ProofStatus       `json:"proof_status" gorm:"type:varchar(16);not null"`
	Status      IntegrationStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	Attempts    int               `json:"attempts" gorm:"not null"`
	LastError   string            `json:"last_error,omitempty" gorm:"type:text"`
	DeliveredAt *time.Time        `json:"delivered_at"`

	// delivery lease held by the worker currently publishing the event
	ClaimedUntil *time.Time `json:"-"`
}
