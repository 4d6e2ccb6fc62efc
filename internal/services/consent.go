// internal/services/consent.go
package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

// Consent ledger: per-record research consent and its append-only history.
// Every change bumps the record version and appends a ConsentEvent in the
// same transaction.

type UpdateConsentRequest struct {
	RecordID        string `json:"record_id" validate:"required"`
	Consent         *bool  `json:"consent" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"required,min=1"`
}

type RecordHistory struct {
	RecordID      string                 `json:"record_id"`
	ConsentEvents []models.ConsentEvent  `json:"consent_events"`
	Versions      []models.RecordVersion `json:"versions"`
}

func (s *RecordService) UpdateConsent(ctx context.Context, caller policy.Caller, req *UpdateConsentRequest) (*models.HealthRecord, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}

	var updated *models.HealthRecord
	var oldValue bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.load(tx, req.RecordID)
		if err != nil {
			return err
		}
		if err := authorize(caller, policy.ActionConsentUpdate, policy.RecordResource(record)); err != nil {
			return err
		}

		oldValue = record.Consent
		if err := s.mutate(tx, record, req.ExpectedVersion, map[string]interface{}{"consent": *req.Consent}); err != nil {
			return err
		}

		if updated, err = s.load(tx, req.RecordID); err != nil {
			return err
		}

		if err := tx.Create(&models.ConsentEvent{
			RecordID:   updated.RecordID,
			OldValue:   oldValue,
			NewValue:   updated.Consent,
			ActorOrgID: caller.OrgID,
			Version:    updated.Version,
			Timestamp:  s.now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to append consent event: %w", err)
		}

		return tx.Create(&models.RecordVersion{
			RecordID:   updated.RecordID,
			Version:    updated.Version,
			Snapshot:   updated.Snapshot(),
			ChangedBy:  caller.OrgID,
			ChangeType: "consent",
		}).Error
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"record_id": updated.RecordID,
		"actor":     caller.OrgID,
		"consent":   updated.Consent,
		"version":   updated.Version,
	}).Info("Consent updated")

	appendAudit(s.trail, "consent.update", "record", updated.RecordID, caller.OrgID, map[string]interface{}{
		"old":     oldValue,
		"new":     updated.Consent,
		"version": updated.Version,
	})

	return updated, nil
}

// History returns the consent events and the version log, both oldest first.
func (s *RecordService) History(ctx context.Context, caller policy.Caller, recordID string) (*RecordHistory, error) {
	db := s.db.WithContext(ctx)
	record, err := s.load(db, recordID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, policy.ActionRecordHistory, policy.RecordResource(record)); err != nil {
		return nil, err
	}

	history := &RecordHistory{RecordID: recordID}
	if err := db.Where("record_id = ?", recordID).Order("timestamp ASC, id ASC").Find(&history.ConsentEvents).Error; err != nil {
		return nil, fmt.Errorf("failed to load consent events: %w", err)
	}
	if err := db.Where("record_id = ?", recordID).Order("version ASC").Find(&history.Versions).Error; err != nil {
		return nil, fmt.Errorf("failed to load record versions: %w", err)
	}
	return history, nil
}
