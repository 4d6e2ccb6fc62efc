// internal/services/marketplace_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

type MarketplaceService struct {
	db      *gorm.DB
	ledger  PaymentBurner
	storage *StorageService
	cfg     config.MarketplaceConfig
	trail   AuditTrail
	metrics *MetricsService
	now     func() time.Time
}

type CreateDatasetRequest struct {
	Title           string                 `json:"title" validate:"required,min=3,max=255"`
	Description     string                 `json:"description" validate:"max=5000"`
	DatasetType     string                 `json:"dataset_type" validate:"required,max=100"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Price           models.Amount          `json:"price"`
	BackingProofIDs []string               `json:"backing_proof_ids" validate:"required,min=1,dive,uuid"`
}

type SetComplianceRequest struct {
	Approved     *bool  `json:"approved" validate:"required"`
	EvidenceHash string `json:"evidence_hash" validate:"required,max=128"`
}

type PurchaseRequest struct {
	Researcher   string `json:"researcher,omitempty" validate:"omitempty,eth_addr"`
	Purpose      string `json:"purpose" validate:"required,min=3,max=2000"`
	DurationDays int    `json:"duration_days" validate:"required,min=1"`
}

type RateRequest struct {
	Rater string `json:"rater,omitempty" validate:"omitempty,eth_addr"`
	Score int    `json:"score" validate:"required,min=1,max=10"`
}

type DatasetQueryParams struct {
	utils.PaginationParams
	DatasetType   string `json:"dataset_type,omitempty"`
	ProviderOrgID string `json:"provider_org_id,omitempty"`
	ActiveOnly    bool   `json:"active_only,omitempty"`
}

type PurchaseResult struct {
	License      models.License             `json:"license"`
	Distribution models.RevenueDistribution `json:"distribution"`
	Balance      models.Amount              `json:"balance"`
}

type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewMarketplaceService(db *gorm.DB, ledger PaymentBurner, storage *StorageService, cfg config.MarketplaceConfig, trail AuditTrail, metrics *MetricsService) *MarketplaceService {
	return &MarketplaceService{
		db:      db,
		ledger:  ledger,
		storage: storage,
		cfg:     cfg,
		trail:   trail,
		metrics: metrics,
		now:     time.Now,
	}
}

// buyer resolves the token address acting in a purchase or rating. Only a
// platform admin may act for another address.
func buyer(caller policy.Caller, requested string) (string, error) {
	if requested == "" || requested == caller.Address {
		if caller.Address == "" {
			return "", invalidf("organization %s has no token address", caller.OrgID)
		}
		return caller.Address, nil
	}
	if policy.HasCapability(caller, models.CapabilityPlatformAdmin) {
		return requested, nil
	}
	return "", accessDenied("cannot act for address " + requested)
}

func (s *MarketplaceService) CreateDataset(ctx context.Context, caller policy.Caller, req *CreateDatasetRequest) (*models.Dataset, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	if req.Price.Sign() <= 0 {
		return nil, invalidf("price must be greater than zero")
	}
	if !caller.HasRole(models.RoleHospital) && !caller.HasRole(models.RoleGovernment) && !caller.HasRole(models.RolePlatform) {
		return nil, accessDenied("only data providers list datasets")
	}

	dataset := &models.Dataset{
		ProviderOrgID:   caller.OrgID,
		Title:           req.Title,
		Description:     req.Description,
		DatasetType:     req.DatasetType,
		Metadata:        models.JSONB(req.Metadata),
		BackingProofIDs: pq.StringArray(req.BackingProofIDs),
		Price:           req.Price,
		QualityScore:    0,
		TotalRevenue:    models.NewAmount(0),
		Compliance:      false,
		Active:          true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var validated int64
		if err := tx.Model(&models.Proof{}).
			Where("id IN ? AND status = ?", req.BackingProofIDs, models.ProofStatusValidated).
			Count(&validated).Error; err != nil {
			return fmt.Errorf("failed to check backing proofs: %w", err)
		}
		if int(validated) != len(uniqueStrings(req.BackingProofIDs)) {
			return invalidf("every backing proof must exist and be VALIDATED")
		}
		if err := tx.Create(dataset).Error; err != nil {
			return fmt.Errorf("failed to create dataset: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"dataset_id": dataset.ID,
		"provider":   caller.OrgID,
		"price":      dataset.Price.String(),
	}).Info("Dataset listed")
	appendAudit(s.trail, "dataset.create", "dataset", fmt.Sprint(dataset.ID), caller.OrgID, map[string]interface{}{
		"price":          dataset.Price.String(),
		"backing_proofs": len(req.BackingProofIDs),
	})
	return dataset, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (s *MarketplaceService) loadDataset(tx *gorm.DB, id uint, lock bool) (*models.Dataset, error) {
	if lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var dataset models.Dataset
	if err := tx.First(&dataset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("dataset", id)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &dataset, nil
}

// SetCompliance records a compliance review. Only an approved dataset can be
// purchased.
func (s *MarketplaceService) SetCompliance(ctx context.Context, caller policy.Caller, datasetID uint, req *SetComplianceRequest) (*models.Dataset, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	if !policy.HasCapability(caller, models.CapabilityComplianceAuthority) {
		return nil, accessDenied("compliance review requires compliance_authority")
	}

	var dataset *models.Dataset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if dataset, err = s.loadDataset(tx, datasetID, true); err != nil {
			return err
		}
		if err := tx.Model(&models.Dataset{}).Where("id = ?", datasetID).Updates(map[string]interface{}{
			"compliance":    *req.Approved,
			"evidence_hash": req.EvidenceHash,
		}).Error; err != nil {
			return fmt.Errorf("failed to update compliance: %w", err)
		}
		dataset.Compliance = *req.Approved
		dataset.EvidenceHash = req.EvidenceHash

		return tx.Create(&models.ComplianceReview{
			DatasetID:    datasetID,
			Approved:     *req.Approved,
			EvidenceHash: req.EvidenceHash,
			ActorOrgID:   caller.OrgID,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	appendAudit(s.trail, "dataset.compliance", "dataset", fmt.Sprint(datasetID), caller.OrgID, map[string]interface{}{
		"approved":      *req.Approved,
		"evidence_hash": req.EvidenceHash,
	})
	return dataset, nil
}

// SetActive toggles new sales. Issued licenses are unaffected.
func (s *MarketplaceService) SetActive(ctx context.Context, caller policy.Caller, datasetID uint, active bool) (*models.Dataset, error) {
	var dataset *models.Dataset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if dataset, err = s.loadDataset(tx, datasetID, true); err != nil {
			return err
		}
		if dataset.ProviderOrgID != caller.OrgID && !policy.HasCapability(caller, models.CapabilityPlatformAdmin) {
			return accessDenied("only the provider can change dataset availability")
		}
		dataset.Active = active
		return tx.Model(&models.Dataset{}).Where("id = ?", datasetID).Update("active", active).Error
	})
	if err != nil {
		return nil, err
	}

	appendAudit(s.trail, "dataset.active", "dataset", fmt.Sprint(datasetID), caller.OrgID, map[string]interface{}{
		"active": active,
	})
	return dataset, nil
}

// Purchase burns the dataset price from the researcher and issues a license
// in the same transaction. Either all of it commits or none of it does.
func (s *MarketplaceService) Purchase(ctx context.Context, caller policy.Caller, datasetID uint, req *PurchaseRequest) (*PurchaseResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	maxDays := s.cfg.MaxLicenseDays
	if maxDays <= 0 {
		maxDays = 365
	}
	if req.DurationDays < 1 || req.DurationDays > maxDays {
		return nil, invalidf("duration_days must be between 1 and %d", maxDays)
	}
	researcher, err := buyer(caller, req.Researcher)
	if err != nil {
		return nil, err
	}

	result := &PurchaseResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dataset, err := s.loadDataset(tx, datasetID, true)
		if err != nil {
			return err
		}
		if !dataset.Active {
			return fmt.Errorf("%w: dataset %d", ErrDatasetInactive, datasetID)
		}
		if !dataset.Compliance {
			return fmt.Errorf("%w: dataset %d", ErrComplianceNotApproved, datasetID)
		}

		account, err := s.ledger.BurnInTx(tx, caller.OrgID, researcher, dataset.Price,
			fmt.Sprintf("license purchase for dataset %d", datasetID))
		if err != nil {
			return err
		}
		result.Balance = account.Balance

		now := s.now()
		license := models.License{
			DatasetID:     datasetID,
			Researcher:    researcher,
			BuyerOrgID:    caller.OrgID,
			PurchasePrice: dataset.Price,
			IssuedAt:      now,
			ExpiresAt:     now.AddDate(0, 0, req.DurationDays),
			Purpose:       req.Purpose,
			Active:        true,
		}
		if err := tx.Create(&license).Error; err != nil {
			return fmt.Errorf("failed to issue license: %w", err)
		}
		result.License = license

		if err := tx.Model(&models.Dataset{}).Where("id = ?", datasetID).Updates(map[string]interface{}{
			"total_sales":   gorm.Expr("total_sales + 1"),
			"total_revenue": dataset.TotalRevenue.Add(dataset.Price),
		}).Error; err != nil {
			return fmt.Errorf("failed to update dataset counters: %w", err)
		}

		providerAmount := dataset.Price.MulBps(s.cfg.ProviderShareBps)
		distribution := models.RevenueDistribution{
			LicenseID:        license.ID,
			DatasetID:        datasetID,
			ProviderOrgID:    dataset.ProviderOrgID,
			ProviderShareBps: s.cfg.ProviderShareBps,
			ProviderAmount:   providerAmount,
			PlatformAmount:   dataset.Price.Sub(providerAmount),
		}
		if err := tx.Create(&distribution).Error; err != nil {
			return fmt.Errorf("failed to record revenue distribution: %w", err)
		}
		result.Distribution = distribution
		return nil
	})
	if err != nil {
		s.metrics.ObservePurchase("failed")
		return nil, err
	}

	s.metrics.ObservePurchase("success")
	s.metrics.ObserveToken(models.TokenTransactionBurn)
	logrus.WithFields(logrus.Fields{
		"dataset_id": datasetID,
		"license_id": result.License.ID,
		"researcher": researcher,
		"expires_at": result.License.ExpiresAt,
	}).Info("Dataset license purchased")
	appendAudit(s.trail, "dataset.purchase", "dataset", fmt.Sprint(datasetID), caller.OrgID, map[string]interface{}{
		"license_id": result.License.ID,
		"researcher": researcher,
		"price":      result.License.PurchasePrice.String(),
	})
	return result, nil
}

// Rate stores one score per (dataset, rater) and folds it into the running
// mean.
func (s *MarketplaceService) Rate(ctx context.Context, caller policy.Caller, datasetID uint, req *RateRequest) (*models.Dataset, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	rater, err := buyer(caller, req.Rater)
	if err != nil {
		return nil, err
	}

	var dataset *models.Dataset
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if dataset, err = s.loadDataset(tx, datasetID, true); err != nil {
			return err
		}
		valid, err := s.hasValidLicense(tx, rater, datasetID)
		if err != nil {
			return err
		}
		if !valid {
			return accessDenied("rating requires an active license")
		}

		var existing int64
		if err := tx.Model(&models.Rating{}).Where("dataset_id = ? AND rater = ?", datasetID, rater).Count(&existing).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: %s already rated dataset %d", ErrAlreadyExists, rater, datasetID)
		}
		if err := tx.Create(&models.Rating{DatasetID: datasetID, Rater: rater, Score: req.Score}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s already rated dataset %d", ErrAlreadyExists, rater, datasetID)
			}
			return fmt.Errorf("failed to store rating: %w", err)
		}

		dataset.RatingCount++
		dataset.QualityScore += (float64(req.Score) - dataset.QualityScore) / float64(dataset.RatingCount)
		return tx.Model(&models.Dataset{}).Where("id = ?", datasetID).Updates(map[string]interface{}{
			"rating_count":  dataset.RatingCount,
			"quality_score": dataset.QualityScore,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	appendAudit(s.trail, "dataset.rate", "dataset", fmt.Sprint(datasetID), caller.OrgID, map[string]interface{}{
		"rater": rater,
		"score": req.Score,
	})
	return dataset, nil
}

func (s *MarketplaceService) hasValidLicense(tx *gorm.DB, researcher string, datasetID uint) (bool, error) {
	var count int64
	err := tx.Model(&models.License{}).
		Where("dataset_id = ? AND researcher = ? AND active = ? AND expires_at > ?", datasetID, researcher, true, s.now()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return count > 0, nil
}

func (s *MarketplaceService) HasValidLicense(ctx context.Context, researcher string, datasetID uint) (bool, error) {
	return s.hasValidLicense(s.db.WithContext(ctx), researcher, datasetID)
}

func (s *MarketplaceService) GetDataset(ctx context.Context, datasetID uint) (*models.Dataset, error) {
	return s.loadDataset(s.db.WithContext(ctx), datasetID, false)
}

func (s *MarketplaceService) ListDatasets(ctx context.Context, params DatasetQueryParams) (*utils.PaginationResult, error) {
	query := s.db.WithContext(ctx).Model(&models.Dataset{})
	if params.DatasetType != "" {
		query = query.Where("dataset_type = ?", params.DatasetType)
	}
	if params.ProviderOrgID != "" {
		query = query.Where("provider_org_id = ?", params.ProviderOrgID)
	}
	if params.ActiveOnly {
		query = query.Where("active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count datasets: %w", err)
	}

	var datasets []models.Dataset
	query = utils.ApplySort(query, params.PaginationParams, []string{"created_at", "quality_score", "total_sales", "id"})
	if err := utils.ApplyPagination(query, params.PaginationParams).Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch datasets: %w", err)
	}

	result := utils.CreatePaginationResult(datasets, total, params.PaginationParams)
	return &result, nil
}

func (s *MarketplaceService) ListLicenses(ctx context.Context, researcher string, params utils.PaginationParams) (*utils.PaginationResult, error) {
	query := s.db.WithContext(ctx).Model(&models.License{}).Where("researcher = ?", researcher)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}

	var licenses []models.License
	if err := utils.ApplyPagination(query.Order("id DESC"), params).Find(&licenses).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch licenses: %w", err)
	}
	result := utils.CreatePaginationResult(licenses, total, params)
	return &result, nil
}

// UploadArtifact attaches the data file to a dataset. Only the provider may
// upload.
func (s *MarketplaceService) UploadArtifact(ctx context.Context, caller policy.Caller, datasetID uint, filename, contentType string, body io.Reader) (*UploadResult, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("artifact storage is not configured")
	}
	dataset, err := s.loadDataset(s.db.WithContext(ctx), datasetID, false)
	if err != nil {
		return nil, err
	}
	if dataset.ProviderOrgID != caller.OrgID {
		return nil, accessDenied("only the provider can upload artifacts")
	}

	upload, err := s.storage.UploadArtifact(datasetID, filename, contentType, body)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Dataset{}).Where("id = ?", datasetID).
		Update("artifact_key", upload.Key).Error; err != nil {
		return nil, fmt.Errorf("failed to store artifact key: %w", err)
	}

	if dataset.ArtifactKey != "" && dataset.ArtifactKey != upload.Key {
		if err := s.storage.DeleteArtifact(dataset.ArtifactKey); err != nil {
			logrus.WithError(err).WithField("key", dataset.ArtifactKey).Warn("Failed to remove replaced artifact")
		}
	}

	appendAudit(s.trail, "dataset.artifact", "dataset", fmt.Sprint(datasetID), caller.OrgID, map[string]interface{}{
		"sha256": upload.SHA256,
		"size":   upload.Size,
	})
	return upload, nil
}

// DownloadURL hands out a presigned link to license holders and the provider.
func (s *MarketplaceService) DownloadURL(ctx context.Context, caller policy.Caller, datasetID uint) (*DownloadLink, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("artifact storage is not configured")
	}
	dataset, err := s.loadDataset(s.db.WithContext(ctx), datasetID, false)
	if err != nil {
		return nil, err
	}
	if dataset.ArtifactKey == "" {
		return nil, notFound("artifact for dataset", datasetID)
	}
	if dataset.ProviderOrgID != caller.OrgID {
		valid, err := s.HasValidLicense(ctx, caller.Address, datasetID)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, accessDenied("download requires an active license")
		}
	}

	url, expires, err := s.storage.DownloadURL(dataset.ArtifactKey)
	if err != nil {
		return nil, err
	}
	return &DownloadLink{URL: url, ExpiresAt: expires}, nil
}
