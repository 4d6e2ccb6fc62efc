// internal/services/anonymizer_service.go
package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/healthledger/attestation-service/internal/audit"
	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
)

// AnonymizedProjection carries no field that identifies the patient, the
// record or the owning organization.
type AnonymizedProjection struct {
	DiseaseCategory   string    `json:"disease_category"`
	DiseaseCode       string    `json:"disease_code"`
	BucketedTimestamp time.Time `json:"bucketed_timestamp"`
	LocationHash      string    `json:"location_hash"`
	QualityScore      int       `json:"quality_score"`
}

type AnonymizerService struct {
	timeBucket        time.Duration
	locationHashWidth int
}

// NewAnonymizerService takes the time bucket and the number of hex characters
// of the location digest that are kept. A narrower hash clusters more
// locations together and lowers re-identification risk.
func NewAnonymizerService(cfg config.AnonymizerConfig) *AnonymizerService {
	bucket := cfg.TimeBucket
	if bucket <= 0 {
		bucket = time.Hour
	}
	width := cfg.LocationHashWidth
	if width <= 0 || width > sha256.Size*2 {
		width = 12
	}
	return &AnonymizerService{timeBucket: bucket, locationHashWidth: width}
}

func (s *AnonymizerService) Anonymize(record *models.HealthRecord) AnonymizedProjection {
	ts := record.RecordedAt
	if ts.IsZero() {
		ts = record.CreatedAt
	}
	return AnonymizedProjection{
		DiseaseCategory:   record.DiseaseCategory,
		DiseaseCode:       record.DiseaseCode,
		BucketedTimestamp: ts.UTC().Truncate(s.timeBucket),
		LocationHash:      s.LocationHash(record.Location),
		QualityScore:      record.QualityScore,
	}
}

// LocationHash is the truncated sha256 of the normalized location.
func (s *AnonymizerService) LocationHash(location string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(location))))
	return hex.EncodeToString(sum[:])[:s.locationHashWidth]
}

// ExportHash is the value attested by the proof bridge.
func (s *AnonymizerService) ExportHash(p AnonymizedProjection) (string, error) {
	return audit.HashStable(p)
}
