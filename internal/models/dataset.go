// internal/models/dataset.go
package models

import (
	"github.com/lib/pq"
)

type Dataset struct {
	SequenceModel
	ProviderOrgID   string         `json:"provider_org_id" gorm:"size:64;not null;index"`
	Title           string         `json:"title" gorm:"size:255;not null"`
	Description     string         `json:"description" gorm:"type:text"`
	DatasetType     string         `json:"dataset_type" gorm:"size:100;not null;index"`
	Metadata        JSONB          `json:"metadata" gorm:"type:jsonb"`
	BackingProofIDs pq.StringArray `json:"backing_proof_ids" gorm:"type:text[];not null"`
	Price           Amount         `json:"price" gorm:"type:varchar(80);not null"`
	QualityScore    float64        `json:"quality_score" gorm:"not null"`
	RatingCount     int64          `json:"rating_count" gorm:"not null"`
	Compliance      bool           `json:"compliance"`
	EvidenceHash    string         `json:"evidence_hash,omitempty" gorm:"size:128"`
	TotalSales      int64          `json:"total_sales" gorm:"not null"`
	TotalRevenue    Amount         `json:"total_revenue" gorm:"type:varchar(80);not null"`
	Active          bool           `json:"active" gorm:"index"`
	ArtifactKey     string         `json:"artifact_key,omitempty" gorm:"size:512"`
}

type ComplianceReview struct {
	SequenceModel
	DatasetID    uint   `json:"dataset_id" gorm:"not null;index"`
	Approved     bool   `json:"approved"`
	EvidenceHash string `json:"evidence_hash" gorm:"size:128;not null"`
	ActorOrgID   string `json:"actor_org_id" gorm:"size:64;not null"`
}

type RevenueDistribution struct {
	SequenceModel
	LicenseID        uint   `json:"license_id" gorm:"not null;uniqueIndex"`
	DatasetID        uint   `json:"dataset_id" gorm:"not null;index"`
	ProviderOrgID    string `json:"provider_org_id" gorm:"size:64;not null;index"`
	ProviderShareBps int64  `json:"provider_share_bps" gorm:"not null"`
	ProviderAmount   Amount `json:"provider_amount" gorm:"type:varchar(80);not null"`
	PlatformAmount   Amount `json:"platform_amount" gorm:"type:varchar(80);not null"`
}
