// internal/models/health_record.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type HealthRecord struct {
	RecordID         string      `json:"record_id" gorm:"primaryKey;size:128"`
	OwnerOrgID       string      `json:"owner_org_id" gorm:"size:64;not null;index"`
	PatientRef       string      `json:"patient_id,omitempty" gorm:"size:128"`
	DiseaseCategory  string      `json:"disease_category" gorm:"size:100;not null;index"`
	DiseaseCode      string      `json:"disease_code" gorm:"size:32;not null;index"`
	EncryptedPayload []byte      `json:"encrypted_payload"`
	DataHash         string      `json:"data_hash" gorm:"size:64;not null;index"`
	Location         string      `json:"location,omitempty" gorm:"size:255"`
	RecordedAt       time.Time   `json:"recorded_at"`
	QualityScore     int         `json:"quality_score"`
	AccessLevel      AccessLevel `json:"access_level" gorm:"type:varchar(32);not null;index"`
	Consent          bool        `json:"consent" gorm:"index"`
	Version          int64       `json:"version" gorm:"not null"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Snapshot is the serialized form kept in the version log.
func (r *HealthRecord) Snapshot() JSONB {
	return JSONB{
		"record_id":        r.RecordID,
		"owner_org_id":     r.OwnerOrgID,
		"disease_category": r.DiseaseCategory,
		"disease_code":     r.DiseaseCode,
		"data_hash":        r.DataHash,
		"access_level":     string(r.AccessLevel),
		"consent":          r.Consent,
		"quality_score":    r.QualityScore,
		"version":          r.Version,
	}
}

// RecordVersion is one entry of the append-only version log of a record.
type RecordVersion struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RecordID   string    `json:"record_id" gorm:"size:128;not null;uniqueIndex:idx_record_version"`
	Version    int64     `json:"version" gorm:"not null;uniqueIndex:idx_record_version"`
	Snapshot   JSONB     `json:"snapshot" gorm:"type:jsonb;not null"`
	ChangedBy  string    `json:"changed_by" gorm:"size:64;not null"`
	ChangeType string    `json:"change_type" gorm:"size:32;not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConsentEvent is append-only. The latest event per record always equals the
// record's consent flag.
type ConsentEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RecordID   string    `json:"record_id" gorm:"size:128;not null;index"`
	OldValue   bool      `json:"old_value"`
	NewValue   bool      `json:"new_value"`
	ActorOrgID string    `json:"actor_org_id" gorm:"size:64;not null"`
	Version    int64     `json:"version" gorm:"not null"`
	Timestamp  time.Time `json:"timestamp" gorm:"not null;index"`
}

// RecordExport maps a record to the proof created from its anonymized
// projection. It never leaves the owning organization's store.
type RecordExport struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RecordID    string    `json:"record_id" gorm:"size:128;not null;uniqueIndex:idx_record_export"`
	ProofID     uuid.UUID `json:"proof_id" gorm:"type:uuid;not null;uniqueIndex:idx_record_export;index"`
	OwnerOrgID  string    `json:"owner_org_id" gorm:"size:64;not null"`
	ExportHash  string    `json:"export_hash" gorm:"size:64;not null"`
	TargetChain string    `json:"target_chain" gorm:"size:64;not null"`
	CreatedAt   time.Time `json:"created_at"`
}

type OutbreakAlert struct {
	BaseModel
	DiseaseCode        string        `json:"disease_code" gorm:"size:32;not null;index"`
	Location           string        `json:"location" gorm:"size:255;not null"`
	Severity           AlertSeverity `json:"severity" gorm:"type:varchar(16);not null"`
	AffectedPopulation int64         `json:"affected_population"`
	Description        string        `json:"description,omitempty" gorm:"type:text"`
	CreatorOrgID       string        `json:"creator_org_id" gorm:"size:64;not null;index"`
	Status             AlertStatus   `json:"status" gorm:"type:varchar(16);not null;index"`
	ResolvedBy         string        `json:"resolved_by,omitempty" gorm:"size:64"`
	ResolvedAt         *time.Time    `json:"resolved_at"`
}
