// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the id client side so the same models work on
// Postgres and SQLite.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// SequenceModel is used by entities keyed by a monotonically assigned integer id.
type SequenceModel struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type Role string

const (
	RoleGovernment Role = "government"
	RoleHospital   Role = "hospital"
	RoleResearch   Role = "research"
	RoleInsurance  Role = "insurance"
	RolePlatform   Role = "platform"
)

func (r Role) Valid() bool {
	switch r {
	case RoleGovernment, RoleHospital, RoleResearch, RoleInsurance, RolePlatform:
		return true
	}
	return false
}

type Capability string

const (
	CapabilityRewardsAuthority     Capability = "rewards_authority"
	CapabilityMarketplaceAuthority Capability = "marketplace_authority"
	CapabilityComplianceAuthority  Capability = "compliance_authority"
	CapabilityPlatformAdmin        Capability = "platform_admin"
)

func (c Capability) Valid() bool {
	switch c {
	case CapabilityRewardsAuthority, CapabilityMarketplaceAuthority,
		CapabilityComplianceAuthority, CapabilityPlatformAdmin:
		return true
	}
	return false
}

type AccessLevel string

const (
	AccessLevelPublic              AccessLevel = "PUBLIC"
	AccessLevelRestricted          AccessLevel = "RESTRICTED"
	AccessLevelHighlyRestricted    AccessLevel = "HIGHLY_RESTRICTED"
	AccessLevelInsuranceAccessible AccessLevel = "INSURANCE_ACCESSIBLE"
)

func (a AccessLevel) Valid() bool {
	switch a {
	case AccessLevelPublic, AccessLevelRestricted, AccessLevelHighlyRestricted, AccessLevelInsuranceAccessible:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "ACTIVE"
	AlertStatusResolved AlertStatus = "RESOLVED"
)

type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

type ProofStatus string

const (
	ProofStatusSubmitted ProofStatus = "SUBMITTED"
	ProofStatusPending   ProofStatus = "PENDING"
	ProofStatusValidated ProofStatus = "VALIDATED"
	ProofStatusRejected  ProofStatus = "REJECTED"
	ProofStatusExpired   ProofStatus = "EXPIRED"
)

// Final reports whether no further vote may change the status.
func (s ProofStatus) Final() bool {
	return s == ProofStatusValidated || s == ProofStatusRejected || s == ProofStatusExpired
}

type TokenTransactionKind string

const (
	TokenTransactionReward TokenTransactionKind = "reward"
	TokenTransactionBurn   TokenTransactionKind = "burn"
)

type IntegrationStatus string

const (
	IntegrationStatusPending   IntegrationStatus = "pending"
	IntegrationStatusDelivered IntegrationStatus = "delivered"
	IntegrationStatusFailed    IntegrationStatus = "failed"
)

type TopUpStatus string

const (
	TopUpStatusPending  TopUpStatus = "pending"
	TopUpStatusCredited TopUpStatus = "credited"
	TopUpStatusFailed   TopUpStatus = "failed"
)
