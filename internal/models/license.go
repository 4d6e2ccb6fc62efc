// internal/models/license.go
package models

import (
	"time"
)

// License is a non-transferable, time-boxed access grant to a dataset.
type License struct {
	SequenceModel
	DatasetID     uint      `json:"dataset_id" gorm:"not null;index:idx_license_holder"`
	Researcher    string    `json:"researcher" gorm:"size:42;not null;index:idx_license_holder"`
	BuyerOrgID    string    `json:"buyer_org_id" gorm:"size:64;not null;index"`
	PurchasePrice Amount    `json:"purchase_price" gorm:"type:varchar(80);not null"`
	IssuedAt      time.Time `json:"issued_at" gorm:"not null"`
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null;index"`
	Purpose       string    `json:"purpose" gorm:"type:text;not null"`
	Active        bool      `json:"active"`
}

// ValidAt reports whether the license grants access at t.
func (l *License) ValidAt(datasetID uint, t time.Time) bool {
	return l.Active && l.DatasetID == datasetID && t.Before(l.ExpiresAt)
}

type Rating struct {
	SequenceModel
	DatasetID uint   `json:"dataset_id" gorm:"not null;uniqueIndex:idx_rating_rater"`
	Rater     string `json:"rater" gorm:"size:42;not null;uniqueIndex:idx_rating_rater"`
	Score     int    `json:"score" gorm:"not null"`
}
