package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthledger/attestation-service/internal/models"
)

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.putRecord("rec-1", true)
	env.putRecord("rec-2", false)
	env.addValidators(3)
	env.submitProof("H1")

	dataset := env.listDataset("Influenza 2026", 10)
	env.fund(researchAddr, 10)
	_, err := env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{Purpose: "study", DurationDays: 30})
	require.NoError(t, err)

	stats, err := env.metrics.Stats(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords)
	assert.Equal(t, int64(1), stats.ConsentedCount)
	assert.Equal(t, int64(1), stats.PendingProofs)
	assert.Equal(t, int64(1), stats.ValidatedProof)
	assert.Equal(t, int64(1), stats.ActiveLicenses)
	assert.Equal(t, int64(1), stats.ActiveDatasets)
	assert.Equal(t, "0", stats.TotalSupply)

	env.clock.Advance(31 * 24 * time.Hour)
	stats, err = env.metrics.Stats(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveLicenses)
}

func TestStatsFiltersAreIndexed(t *testing.T) {
	env := newTestEnv(t)
	migrator := env.db.Migrator()

	tests := []struct {
		model interface{}
		field string
	}{
		{&models.HealthRecord{}, "Consent"},
		{&models.Proof{}, "Status"},
		{&models.License{}, "ExpiresAt"},
		{&models.Dataset{}, "Active"},
		{&models.OutbreakAlert{}, "Status"},
	}
	for _, tt := range tests {
		assert.True(t, migrator.HasIndex(tt.model, tt.field), "%T.%s", tt.model, tt.field)
	}
}

func TestMetricsExposition(t *testing.T) {
	env := newTestEnv(t)
	env.putRecord("rec-1", true)
	env.metrics.ObserveRequest("GET", "/api/v1/records/:id", 200, 20*time.Millisecond)

	w := httptest.NewRecorder()
	env.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "health_records_total 1")
	assert.Contains(t, body, "bridge_pending_proofs 0")
	assert.Contains(t, body, `http_request_duration_seconds_count{method="GET",route="/api/v1/records/:id",status="200"} 1`)

	assert.Equal(t, 1, testutil.CollectAndCount(env.metrics.requests))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.ObserveVote("approve")
		m.ObserveProof(models.ProofStatusValidated)
		m.ObservePurchase("success")
		m.ObserveToken(models.TokenTransactionReward)
		m.ObserveIntegration("delivered")
		m.ObserveRequest("GET", "/", 200, time.Millisecond)
	})
}
