// internal/models/audit_log.go
package models

// AuditLog is the request-level audit written by the HTTP middleware. The
// tamper-evident per-resource trail lives in the audit package.
type AuditLog struct {
	BaseModel
	OrgID        string `json:"org_id" gorm:"size:64;index"`
	Action       string `json:"action" gorm:"size:100;not null;index"`
	ResourceType string `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   string `json:"resource_id" gorm:"size:128;index"`
	Status       int    `json:"status"`
	NewValues    JSONB  `json:"new_values" gorm:"type:jsonb"`
	IPAddress    string `json:"ip_address" gorm:"size:45"`
	UserAgent    string `json:"user_agent" gorm:"type:text"`
}
