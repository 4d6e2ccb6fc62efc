package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/utils"
)

func newAlert(severity models.AlertSeverity) *CreateAlertRequest {
	return &CreateAlertRequest{
		DiseaseCode:        "A00",
		Location:           "Kaohsiung",
		Severity:           severity,
		AffectedPopulation: 1200,
		Description:        "cholera cluster",
	}
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t)

	alert, err := env.records.CreateAlert(env.ctx, hospital, newAlert(models.AlertSeverityHigh))
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.Equal(t, hospital.OrgID, alert.CreatorOrgID)

	_, err = env.records.CreateAlert(env.ctx, researcher, newAlert(models.AlertSeverityLow))
	assert.ErrorIs(t, err, ErrAccessDenied)

	// another hospital may not close it, the ministry may
	_, err = env.records.ResolveAlert(env.ctx, otherHospital, alert.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	resolved, err := env.records.ResolveAlert(env.ctx, government, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.Equal(t, government.OrgID, resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = env.records.ResolveAlert(env.ctx, government, alert.ID)
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.records.ResolveAlert(env.ctx, government, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAlerts(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.records.CreateAlert(env.ctx, hospital, newAlert(models.AlertSeverityHigh))
	require.NoError(t, err)
	_, err = env.records.CreateAlert(env.ctx, government, newAlert(models.AlertSeverityCritical))
	require.NoError(t, err)
	_, err = env.records.ResolveAlert(env.ctx, hospital, first.ID)
	require.NoError(t, err)

	all, err := env.records.ListAlerts(env.ctx, researcher, AlertQueryParams{
		PaginationParams: utils.PaginationParams{Page: 1, Limit: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)

	active, err := env.records.ListAlerts(env.ctx, insurer, AlertQueryParams{
		PaginationParams: utils.PaginationParams{Page: 1, Limit: 10},
		Status:           models.AlertStatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), active.Total)
}
