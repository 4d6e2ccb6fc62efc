// internal/services/alert.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

type CreateAlertRequest struct {
	DiseaseCode        string               `json:"disease_code" validate:"required,max=32"`
	Location           string               `json:"location" validate:"required,max=255"`
	Severity           models.AlertSeverity `json:"severity" validate:"required,oneof=low medium high critical"`
	AffectedPopulation int64                `json:"affected_population" validate:"min=0"`
	Description        string               `json:"description,omitempty" validate:"max=2000"`
}

type AlertQueryParams struct {
	utils.PaginationParams
	Status      models.AlertStatus `json:"status,omitempty"`
	DiseaseCode string             `json:"disease_code,omitempty"`
}

func (s *RecordService) CreateAlert(ctx context.Context, caller policy.Caller, req *CreateAlertRequest) (*models.OutbreakAlert, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}

	alert := &models.OutbreakAlert{
		DiseaseCode:        req.DiseaseCode,
		Location:           req.Location,
		Severity:           req.Severity,
		AffectedPopulation: req.AffectedPopulation,
		Description:        req.Description,
		CreatorOrgID:       caller.OrgID,
		Status:             models.AlertStatusActive,
	}
	if err := authorize(caller, policy.ActionAlertCreate, policy.AlertResource(alert)); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"alert_id":     alert.ID,
		"disease_code": alert.DiseaseCode,
		"severity":     alert.Severity,
		"creator":      caller.OrgID,
	}).Warn("Outbreak alert raised")

	appendAudit(s.trail, "alert.create", "alert", alert.ID.String(), caller.OrgID, map[string]interface{}{
		"disease_code": alert.DiseaseCode,
		"severity":     string(alert.Severity),
	})
	return alert, nil
}

// ResolveAlert moves an alert from ACTIVE to RESOLVED. Resolved alerts stay
// resolved.
func (s *RecordService) ResolveAlert(ctx context.Context, caller policy.Caller, alertID uuid.UUID) (*models.OutbreakAlert, error) {
	var alert models.OutbreakAlert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alert, "id = ?", alertID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("alert", alertID)
			}
			return fmt.Errorf("database error: %w", err)
		}
		if err := authorize(caller, policy.ActionAlertResolve, policy.AlertResource(&alert)); err != nil {
			return err
		}

		now := s.now()
		result := tx.Model(&models.OutbreakAlert{}).
			Where("id = ? AND status = ?", alertID, models.AlertStatusActive).
			Updates(map[string]interface{}{
				"status":      models.AlertStatusResolved,
				"resolved_by": caller.OrgID,
				"resolved_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to resolve alert: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return invalidf("alert %s is already resolved", alertID)
		}
		return tx.First(&alert, "id = ?", alertID).Error
	})
	if err != nil {
		return nil, err
	}

	appendAudit(s.trail, "alert.resolve", "alert", alert.ID.String(), caller.OrgID, nil)
	return &alert, nil
}

func (s *RecordService) ListAlerts(ctx context.Context, caller policy.Caller, params AlertQueryParams) (*utils.PaginationResult, error) {
	if err := authorize(caller, policy.ActionAlertRead, policy.Resource{Kind: policy.ResourceAlert}); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.OutbreakAlert{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.DiseaseCode != "" {
		query = query.Where("disease_code = ?", params.DiseaseCode)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	var alerts []models.OutbreakAlert
	query = utils.ApplySort(query, params.PaginationParams, []string{"created_at", "severity", "affected_population"})
	if err := utils.ApplyPagination(query, params.PaginationParams).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}

	result := utils.CreatePaginationResult(alerts, total, params.PaginationParams)
	return &result, nil
}
