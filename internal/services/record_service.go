// internal/services/record_service.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/audit"
	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

type RecordService struct {
	db         *gorm.DB
	anonymizer *AnonymizerService
	bridge     *BridgeService
	trail      AuditTrail
	bridgeCfg  config.BridgeConfig
	now        func() time.Time
}

type PutRecordRequest struct {
	RecordID         string             `json:"record_id" validate:"required,max=128"`
	OrgID            string             `json:"org_id" validate:"required,max=64"`
	PatientID        string             `json:"patient_id,omitempty" validate:"max=128"`
	DiseaseCategory  string             `json:"disease_category" validate:"required,max=100"`
	DiseaseCode      string             `json:"disease_code" validate:"required,max=32"`
	EncryptedPayload []byte             `json:"encrypted_payload" validate:"required"`
	AccessLevel      models.AccessLevel `json:"access_level" validate:"required,oneof=PUBLIC RESTRICTED HIGHLY_RESTRICTED INSURANCE_ACCESSIBLE"`
	Location         string             `json:"location,omitempty" validate:"max=255"`
	RecordedAt       *time.Time         `json:"recorded_at,omitempty"`
	QualityScore     int                `json:"quality_score" validate:"min=0,max=100"`
	Consent          bool               `json:"consent"`
}

type PutRecordResult struct {
	RecordID string `json:"record_id"`
	DataHash string `json:"data_hash"`
	Version  int64  `json:"version"`
}

type UpdateAccessLevelRequest struct {
	AccessLevel     models.AccessLevel `json:"access_level" validate:"required,oneof=PUBLIC RESTRICTED HIGHLY_RESTRICTED INSURANCE_ACCESSIBLE"`
	ExpectedVersion int64              `json:"expected_version" validate:"required,min=1"`
}

type RecordQueryParams struct {
	utils.PaginationParams
	DiseaseCategory string `json:"disease_category,omitempty"`
}

type ExportResult struct {
	RecordID   string             `json:"record_id"`
	ProofID    string             `json:"proof_id"`
	Status     models.ProofStatus `json:"status"`
	ExportHash string             `json:"export_hash"`
	Existing   bool               `json:"existing"`
}

func NewRecordService(db *gorm.DB, anonymizer *AnonymizerService, bridge *BridgeService, trail AuditTrail, bridgeCfg config.BridgeConfig) *RecordService {
	return &RecordService{
		db:         db,
		anonymizer: anonymizer,
		bridge:     bridge,
		trail:      trail,
		bridgeCfg:  bridgeCfg,
		now:        time.Now,
	}
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func authorize(caller policy.Caller, action policy.Action, res policy.Resource) error {
	if d := policy.Authorize(caller, action, res); !d.Allowed {
		return accessDenied(fmt.Sprintf("%s on %s %s: %s", action, res.Kind, res.ID, d.Reason))
	}
	return nil
}

func (s *RecordService) Put(ctx context.Context, caller policy.Caller, req *PutRecordRequest) (*PutRecordResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}

	now := s.now()
	recordedAt := now
	if req.RecordedAt != nil {
		recordedAt = *req.RecordedAt
	}
	record := &models.HealthRecord{
		RecordID:         req.RecordID,
		OwnerOrgID:       req.OrgID,
		PatientRef:       req.PatientID,
		DiseaseCategory:  req.DiseaseCategory,
		DiseaseCode:      req.DiseaseCode,
		EncryptedPayload: req.EncryptedPayload,
		DataHash:         hashPayload(req.EncryptedPayload),
		Location:         req.Location,
		RecordedAt:       recordedAt,
		QualityScore:     req.QualityScore,
		AccessLevel:      req.AccessLevel,
		Consent:          req.Consent,
		Version:          1,
	}

	if err := authorize(caller, policy.ActionRecordCreate, policy.RecordResource(record)); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.HealthRecord{}).Where("record_id = ?", record.RecordID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: record %s", ErrAlreadyExists, record.RecordID)
		}

		if err := tx.Create(record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: record %s", ErrAlreadyExists, record.RecordID)
			}
			return fmt.Errorf("failed to create record: %w", err)
		}

		event := &models.ConsentEvent{
			RecordID:   record.RecordID,
			OldValue:   false,
			NewValue:   record.Consent,
			ActorOrgID: caller.OrgID,
			Version:    1,
			Timestamp:  now,
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to create consent event: %w", err)
		}

		return tx.Create(&models.RecordVersion{
			RecordID:   record.RecordID,
			Version:    1,
			Snapshot:   record.Snapshot(),
			ChangedBy:  caller.OrgID,
			ChangeType: "create",
		}).Error
	})
	if err != nil {
		return nil, err
	}

	appendAudit(s.trail, "record.create", "record", record.RecordID, caller.OrgID, map[string]interface{}{
		"data_hash": record.DataHash,
		"version":   record.Version,
	})

	return &PutRecordResult{RecordID: record.RecordID, DataHash: record.DataHash, Version: record.Version}, nil
}

func (s *RecordService) load(tx *gorm.DB, recordID string) (*models.HealthRecord, error) {
	var record models.HealthRecord
	if err := tx.Where("record_id = ?", recordID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("record", recordID)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &record, nil
}

// Get returns the raw record. Research callers must use GetAnonymized.
func (s *RecordService) Get(ctx context.Context, caller policy.Caller, recordID string) (*models.HealthRecord, error) {
	record, err := s.load(s.db.WithContext(ctx), recordID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, policy.ActionRecordRead, policy.RecordResource(record)); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *RecordService) GetAnonymized(ctx context.Context, caller policy.Caller, recordID string) (*AnonymizedProjection, error) {
	record, err := s.load(s.db.WithContext(ctx), recordID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, policy.ActionRecordReadAnonymized, policy.RecordResource(record)); err != nil {
		return nil, err
	}
	projection := s.anonymizer.Anonymize(record)
	return &projection, nil
}

func (s *RecordService) QueryByOwner(ctx context.Context, caller policy.Caller, orgID string, params RecordQueryParams) (*utils.PaginationResult, error) {
	if err := authorize(caller, policy.ActionRecordQueryOwner, policy.OrganizationResource(orgID)); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.HealthRecord{}).Where("owner_org_id = ?", orgID)
	if params.DiseaseCategory != "" {
		query = query.Where("disease_category = ?", params.DiseaseCategory)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	var records []models.HealthRecord
	query = utils.ApplySort(query, params.PaginationParams, []string{"created_at", "updated_at", "disease_category", "record_id"})
	query = utils.ApplyPagination(query, params.PaginationParams)
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	result := utils.CreatePaginationResult(records, total, params.PaginationParams)
	return &result, nil
}

// mutate applies fields to the record under optimistic versioning. The
// write only lands if the stored version still equals expectedVersion.
func (s *RecordService) mutate(tx *gorm.DB, record *models.HealthRecord, expectedVersion int64, fields map[string]interface{}) error {
	if record.Version != expectedVersion {
		return fmt.Errorf("%w: record %s is at version %d, expected %d",
			ErrConcurrentModification, record.RecordID, record.Version, expectedVersion)
	}

	fields["version"] = gorm.Expr("version + 1")
	fields["updated_at"] = s.now()
	result := tx.Model(&models.HealthRecord{}).
		Where("record_id = ? AND version = ?", record.RecordID, expectedVersion).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: record %s changed concurrently", ErrConcurrentModification, record.RecordID)
	}
	return nil
}

func (s *RecordService) UpdateAccessLevel(ctx context.Context, caller policy.Caller, recordID string, req *UpdateAccessLevelRequest) (*models.HealthRecord, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}

	var updated *models.HealthRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.load(tx, recordID)
		if err != nil {
			return err
		}
		if err := authorize(caller, policy.ActionRecordUpdate, policy.RecordResource(record)); err != nil {
			return err
		}
		if err := s.mutate(tx, record, req.ExpectedVersion, map[string]interface{}{"access_level": req.AccessLevel}); err != nil {
			return err
		}
		if updated, err = s.load(tx, recordID); err != nil {
			return err
		}
		return tx.Create(&models.RecordVersion{
			RecordID:   updated.RecordID,
			Version:    updated.Version,
			Snapshot:   updated.Snapshot(),
			ChangedBy:  caller.OrgID,
			ChangeType: "access_level",
		}).Error
	})
	if err != nil {
		return nil, err
	}

	appendAudit(s.trail, "record.access_level", "record", updated.RecordID, caller.OrgID, map[string]interface{}{
		"access_level": string(updated.AccessLevel),
		"version":      updated.Version,
	})
	return updated, nil
}

// AuditTrail returns the hash-chained entries recorded for the record.
func (s *RecordService) AuditTrail(ctx context.Context, caller policy.Caller, recordID string) ([]audit.Record, error) {
	record, err := s.load(s.db.WithContext(ctx), recordID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, policy.ActionRecordHistory, policy.RecordResource(record)); err != nil {
		return nil, err
	}
	if s.trail == nil {
		return []audit.Record{}, nil
	}
	return s.trail.Trail("record", recordID)
}

// Export anonymizes a consented record and hands its hash to the bridge.
// Re-exporting returns the proof created the first time.
func (s *RecordService) Export(ctx context.Context, caller policy.Caller, recordID, targetChain string) (*ExportResult, error) {
	record, err := s.load(s.db.WithContext(ctx), recordID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, policy.ActionRecordExport, policy.RecordResource(record)); err != nil {
		return nil, err
	}
	if !record.Consent {
		return nil, accessDenied("record " + recordID + " has no research consent")
	}

	if targetChain == "" {
		targetChain = s.bridgeCfg.DefaultTarget
	}

	projection := s.anonymizer.Anonymize(record)
	exportHash, err := s.anonymizer.ExportHash(projection)
	if err != nil {
		return nil, fmt.Errorf("failed to hash projection: %w", err)
	}

	existing := false
	proof, err := s.bridge.SubmitProof(ctx, caller, &SubmitProofRequest{
		DataHash:    exportHash,
		SourceChain: s.bridgeCfg.SourceChainID,
		TargetChain: targetChain,
		RecordType:  record.DiseaseCategory,
	})
	if errors.Is(err, ErrAlreadySubmitted) && proof != nil {
		existing = true
	} else if err != nil {
		return nil, err
	}

	link := models.RecordExport{
		RecordID:    record.RecordID,
		ProofID:     proof.ID,
		OwnerOrgID:  record.OwnerOrgID,
		ExportHash:  exportHash,
		TargetChain: targetChain,
	}
	if err := s.db.WithContext(ctx).
		Where(models.RecordExport{RecordID: record.RecordID, ProofID: proof.ID}).
		FirstOrCreate(&link).Error; err != nil {
		return nil, fmt.Errorf("failed to store export link: %w", err)
	}

	appendAudit(s.trail, "record.export", "record", record.RecordID, caller.OrgID, map[string]interface{}{
		"proof_id":     proof.ID.String(),
		"target_chain": targetChain,
	})

	return &ExportResult{
		RecordID:   record.RecordID,
		ProofID:    proof.ID.String(),
		Status:     proof.Status,
		ExportHash: exportHash,
		Existing:   existing,
	}, nil
}
