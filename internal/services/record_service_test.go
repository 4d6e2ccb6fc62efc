package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/utils"
)

func TestPutRecord(t *testing.T) {
	env := newTestEnv(t)

	result := env.putRecord("R1", false)
	assert.Equal(t, "R1", result.RecordID)
	assert.Equal(t, int64(1), result.Version)
	assert.Equal(t, hashPayload([]byte("ciphertext-R1")), result.DataHash)

	record, err := env.records.Get(env.ctx, hospital, "R1")
	require.NoError(t, err)
	assert.Equal(t, hospital.OrgID, record.OwnerOrgID)
	assert.False(t, record.Consent)

	t.Run("duplicate id", func(t *testing.T) {
		_, err := env.records.Put(env.ctx, hospital, &PutRecordRequest{
			RecordID:         "R1",
			OrgID:            hospital.OrgID,
			DiseaseCategory:  "respiratory",
			DiseaseCode:      "J10",
			EncryptedPayload: []byte("other"),
			AccessLevel:      models.AccessLevelPublic,
		})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("hospital cannot write for another organization", func(t *testing.T) {
		_, err := env.records.Put(env.ctx, hospital, &PutRecordRequest{
			RecordID:         "R2",
			OrgID:            otherHospital.OrgID,
			DiseaseCategory:  "respiratory",
			DiseaseCode:      "J10",
			EncryptedPayload: []byte("x"),
			AccessLevel:      models.AccessLevelPublic,
		})
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("invalid access level", func(t *testing.T) {
		_, err := env.records.Put(env.ctx, hospital, &PutRecordRequest{
			RecordID:         "R3",
			OrgID:            hospital.OrgID,
			DiseaseCategory:  "respiratory",
			DiseaseCode:      "J10",
			EncryptedPayload: []byte("x"),
			AccessLevel:      "SECRET",
		})
		assert.ErrorIs(t, err, ErrValidationFailed)
		var inputErr *InputError
		assert.True(t, errors.As(err, &inputErr))
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := env.records.Get(env.ctx, hospital, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// Research org is refused until the hospital grants consent, and then only
// sees the anonymized projection.
func TestConsentGatesResearchAccess(t *testing.T) {
	env := newTestEnv(t)
	env.putRecord("R1", false)

	_, err := env.records.Get(env.ctx, researcher, "R1")
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = env.records.GetAnonymized(env.ctx, researcher, "R1")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = env.records.UpdateConsent(env.ctx, hospital, &UpdateConsentRequest{
		RecordID:        "R1",
		Consent:         boolPtr(true),
		ExpectedVersion: 1,
	})
	require.NoError(t, err)

	projection, err := env.records.GetAnonymized(env.ctx, researcher, "R1")
	require.NoError(t, err)
	assert.Equal(t, "respiratory", projection.DiseaseCategory)
	assert.Equal(t, env.anonymizer.LocationHash("Taipei City"), projection.LocationHash)

	raw, err := json.Marshal(projection)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "patient")
	assert.NotContains(t, string(raw), "R1")
	assert.NotContains(t, string(raw), hospital.OrgID)

	// raw reads stay closed to research
	_, err = env.records.Get(env.ctx, researcher, "R1")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestHighlyRestrictedHiddenFromResearch(t *testing.T) {
	env := newTestEnv(t)
	env.putRecord("R1", true)

	_, err := env.records.UpdateAccessLevel(env.ctx, hospital, "R1", &UpdateAccessLevelRequest{
		AccessLevel:     models.AccessLevelHighlyRestricted,
		ExpectedVersion: 1,
	})
	require.NoError(t, err)

	_, err = env.records.GetAnonymized(env.ctx, researcher, "R1")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestInsuranceReadsFlaggedRecordsOnly(t *testing.T) {
	env := newTestEnv(t)
	env.putRecord("R1", false)

	_, err := env.records.Get(env.ctx, insurer, "R1")
	assert.ErrorIs(t, err, ErrAccessDenied)

	updated, err := env.records.UpdateAccessLevel(env.ctx, hospital, "R1", &UpdateAccessLevelRequest{
		AccessLevel:     models.AccessLevelInsuranceAccessible,
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	record, err := env.records.Get(env.ctx, insurer, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.AccessLevelInsuranceAccessible, record.AccessLevel)
}

func TestUpdateAccessLevelRejectsStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	env.putRecord("R1", false)

	_, err := env.records.UpdateAccessLevel(env.ctx, hospital, "R1", &UpdateAccessLevelRequest{
		AccessLevel:     models.AccessLevelPublic,
		ExpectedVersion: 1,
	})
	require.NoError(t, err)

	_, err = env.records.UpdateAccessLevel(env.ctx, hospital, "R1", &UpdateAccessLevelRequest{
		AccessLevel:     models.AccessLevelRestricted,
		ExpectedVersion: 1,
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	_, err = env.records.UpdateAccessLevel(env.ctx, otherHospital, "R1", &UpdateAccessLevelRequest{
		AccessLevel:     models.AccessLevelRestricted,
		ExpectedVersion: 2,
	})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestQueryByOwner(t *testing.T) {
	env := newTestEnv(t)
	env.putRecord("R1", false)
	env.putRecord("R2", true)

	result, err := env.records.QueryByOwner(env.ctx, hospital, hospital.OrgID, RecordQueryParams{
		PaginationParams: utils.PaginationParams{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)

	result, err = env.records.QueryByOwner(env.ctx, government, hospital.OrgID, RecordQueryParams{
		PaginationParams: utils.PaginationParams{Page: 1, Limit: 10},
		DiseaseCategory:  "cardiac",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Total)

	_, err = env.records.QueryByOwner(env.ctx, otherHospital, hospital.OrgID, RecordQueryParams{})
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = env.records.QueryByOwner(env.ctx, researcher, hospital.OrgID, RecordQueryParams{})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestExportRequiresConsent(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	env.putRecord("R1", false)

	_, err := env.records.Export(env.ctx, hospital, "R1", "")
	assert.ErrorIs(t, err, ErrAccessDenied)

	var proofs int64
	require.NoError(t, env.db.Model(&models.Proof{}).Count(&proofs).Error)
	assert.Zero(t, proofs)
}

func TestExportCreatesOneProof(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	env.putRecord("R1", true)

	first, err := env.records.Export(env.ctx, hospital, "R1", "")
	require.NoError(t, err)
	assert.False(t, first.Existing)
	assert.Equal(t, models.ProofStatusSubmitted, first.Status)

	proof, err := env.bridge.GetProof(env.ctx, mustUUID(t, first.ProofID))
	require.NoError(t, err)
	assert.Equal(t, first.ExportHash, proof.DataHash)
	assert.Equal(t, "research-chain", proof.TargetChain)
	assert.Equal(t, "health-chain", proof.SourceChain)

	again, err := env.records.Export(env.ctx, hospital, "R1", "")
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, first.ProofID, again.ProofID)

	var links int64
	require.NoError(t, env.db.Model(&models.RecordExport{}).Where("record_id = ?", "R1").Count(&links).Error)
	assert.Equal(t, int64(1), links)

	_, err = env.records.Export(env.ctx, researcher, "R1", "")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuditTrailChainsRecordEvents(t *testing.T) {
	env := newTestEnv(t)
	env.putRecord("R1", false)
	_, err := env.records.UpdateConsent(env.ctx, hospital, &UpdateConsentRequest{
		RecordID:        "R1",
		Consent:         boolPtr(true),
		ExpectedVersion: 1,
	})
	require.NoError(t, err)

	entries, err := env.records.AuditTrail(env.ctx, hospital, "R1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "record.create", entries[0].Event.Action)
	assert.Equal(t, "consent.update", entries[1].Event.Action)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)

	_, err = env.records.AuditTrail(env.ctx, researcher, "R1")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func boolPtr(b bool) *bool { return &b }
