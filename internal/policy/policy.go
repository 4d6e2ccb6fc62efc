// internal/policy/policy.go

// Package policy decides which organization may do what to which record or
// alert. Authorize is pure: it reads only its arguments.
package policy

import (
	"github.com/healthledger/attestation-service/internal/models"
)

type Action string

const (
	ActionRecordCreate         Action = "record.create"
	ActionRecordRead           Action = "record.read"
	ActionRecordReadAnonymized Action = "record.read_anonymized"
	ActionRecordUpdate         Action = "record.update"
	ActionRecordHistory        Action = "record.history"
	ActionRecordExport         Action = "record.export"
	ActionRecordQueryOwner     Action = "record.query_owner"
	ActionConsentUpdate        Action = "consent.update"
	ActionAlertCreate          Action = "alert.create"
	ActionAlertResolve         Action = "alert.resolve"
	ActionAlertRead            Action = "alert.read"
)

type ResourceKind string

const (
	ResourceRecord       ResourceKind = "record"
	ResourceAlert        ResourceKind = "alert"
	ResourceOrganization ResourceKind = "organization"
)

// Caller is an authenticated organization.
type Caller struct {
	OrgID        string
	Roles        []models.Role
	Capabilities []models.Capability
	Address      string
}

func (c Caller) HasRole(role models.Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasCapability reports whether the caller holds cap.
func HasCapability(c Caller, cap models.Capability) bool {
	for _, have := range c.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}

// Resource carries the attributes rules may inspect. OwnerOrgID is the record
// owner, the alert creator or the organization queried.
type Resource struct {
	Kind        ResourceKind
	ID          string
	OwnerOrgID  string
	Consent     bool
	AccessLevel models.AccessLevel
}

func RecordResource(r *models.HealthRecord) Resource {
	return Resource{
		Kind:        ResourceRecord,
		ID:          r.RecordID,
		OwnerOrgID:  r.OwnerOrgID,
		Consent:     r.Consent,
		AccessLevel: r.AccessLevel,
	}
}

func AlertResource(a *models.OutbreakAlert) Resource {
	return Resource{Kind: ResourceAlert, ID: a.ID.String(), OwnerOrgID: a.CreatorOrgID}
}

func OrganizationResource(orgID string) Resource {
	return Resource{Kind: ResourceOrganization, ID: orgID, OwnerOrgID: orgID}
}

type Reason string

const ReasonInsufficientRole Reason = "InsufficientRole"

type Decision struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"`
	Reason  Reason `json:"reason,omitempty"`
}

func allow(rule string) Decision { return Decision{Allowed: true, Rule: rule} }

func deny() Decision { return Decision{Reason: ReasonInsufficientRole} }
