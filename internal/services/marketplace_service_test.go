package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/utils"
)

// listDataset creates a dataset backed by one validated proof and approves
// its compliance review.
func (e *testEnv) listDataset(title string, priceTokens int64) *models.Dataset {
	e.t.Helper()
	proof := e.validatedProof("backing-" + title)
	dataset, err := e.market.CreateDataset(e.ctx, hospital, &CreateDatasetRequest{
		Title:           title,
		Description:     "weekly influenza counts",
		DatasetType:     "influenza",
		Price:           models.TokenUnits(priceTokens),
		BackingProofIDs: []string{proof.ID.String()},
	})
	require.NoError(e.t, err)

	dataset, err = e.market.SetCompliance(e.ctx, platformAdmin, dataset.ID, &SetComplianceRequest{
		Approved:     boolPtr(true),
		EvidenceHash: dataHash("irb-" + title),
	})
	require.NoError(e.t, err)
	return dataset
}

func TestCreateDatasetRequiresValidatedProofs(t *testing.T) {
	env := newTestEnv(t)
	env.addValidators(3)
	pending := env.submitProof("H1")

	_, err := env.market.CreateDataset(env.ctx, hospital, &CreateDatasetRequest{
		Title:           "Flu season",
		DatasetType:     "influenza",
		Price:           models.TokenUnits(10),
		BackingProofIDs: []string{pending.ID.String()},
	})
	assert.ErrorIs(t, err, ErrValidationFailed)

	validated := env.validatedProof("H2")
	_, err = env.market.CreateDataset(env.ctx, researcher, &CreateDatasetRequest{
		Title:           "Flu season",
		DatasetType:     "influenza",
		Price:           models.TokenUnits(10),
		BackingProofIDs: []string{validated.ID.String()},
	})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = env.market.CreateDataset(env.ctx, hospital, &CreateDatasetRequest{
		Title:           "Flu season",
		DatasetType:     "influenza",
		Price:           models.NewAmount(0),
		BackingProofIDs: []string{validated.ID.String()},
	})
	assert.ErrorIs(t, err, ErrValidationFailed)

	dataset, err := env.market.CreateDataset(env.ctx, hospital, &CreateDatasetRequest{
		Title:           "Flu season",
		DatasetType:     "influenza",
		Price:           models.TokenUnits(10),
		BackingProofIDs: []string{validated.ID.String(), validated.ID.String()},
	})
	require.NoError(t, err)
	assert.True(t, dataset.Active)
	assert.False(t, dataset.Compliance)
	assert.Equal(t, hospital.OrgID, dataset.ProviderOrgID)
}

// A researcher with exactly the price buys a 90-day license, leaving a zero
// balance; the second purchase fails without issuing anything.
func TestPurchaseIssuesLicense(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.listDataset("Influenza 2026", 1000)
	env.fund(researchAddr, 1000)
	purchasedAt := env.clock.Now()

	result, err := env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{
		Purpose:      "vaccine efficacy study",
		DurationDays: 90,
	})
	require.NoError(t, err)
	assert.True(t, result.Balance.IsZero())
	assert.Equal(t, researchAddr, result.License.Researcher)
	assert.True(t, purchasedAt.AddDate(0, 0, 90).Equal(result.License.ExpiresAt))
	assert.Equal(t, models.TokenUnits(700).String(), result.Distribution.ProviderAmount.String())
	assert.Equal(t, models.TokenUnits(300).String(), result.Distribution.PlatformAmount.String())

	valid, err := env.market.HasValidLicense(env.ctx, researchAddr, dataset.ID)
	require.NoError(t, err)
	assert.True(t, valid)

	_, err = env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{
		Purpose:      "vaccine efficacy study",
		DurationDays: 90,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	licenses, err := env.market.ListLicenses(env.ctx, researchAddr, utils.PaginationParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), licenses.Total)

	stored, err := env.market.GetDataset(env.ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalSales)
	assert.Equal(t, models.TokenUnits(1000).String(), stored.TotalRevenue.String())

	supply, err := env.tokens.Supply(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TokenUnits(1000).String(), supply.TotalBurned.String())

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.purchases.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.purchases.WithLabelValues("failed")))

	env.clock.Advance(91 * 24 * time.Hour)
	valid, err = env.market.HasValidLicense(env.ctx, researchAddr, dataset.ID)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestPurchasePreconditions(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.listDataset("Influenza 2026", 10)
	env.fund(researchAddr, 100)

	t.Run("duration bounds", func(t *testing.T) {
		_, err := env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{Purpose: "study", DurationDays: 366})
		assert.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("acting for another address", func(t *testing.T) {
		_, err := env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{
			Researcher:   otherAddr,
			Purpose:      "study",
			DurationDays: 30,
		})
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("caller without address", func(t *testing.T) {
		_, err := env.market.Purchase(env.ctx, insurer, dataset.ID, &PurchaseRequest{Purpose: "study", DurationDays: 30})
		assert.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("missing dataset", func(t *testing.T) {
		_, err := env.market.Purchase(env.ctx, researcher, 9999, &PurchaseRequest{Purpose: "study", DurationDays: 30})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("compliance withdrawn", func(t *testing.T) {
		_, err := env.market.SetCompliance(env.ctx, platformAdmin, dataset.ID, &SetComplianceRequest{
			Approved:     boolPtr(false),
			EvidenceHash: dataHash("audit"),
		})
		require.NoError(t, err)
		_, err = env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{Purpose: "study", DurationDays: 30})
		assert.ErrorIs(t, err, ErrComplianceNotApproved)

		_, err = env.market.SetCompliance(env.ctx, platformAdmin, dataset.ID, &SetComplianceRequest{
			Approved:     boolPtr(true),
			EvidenceHash: dataHash("re-audit"),
		})
		require.NoError(t, err)
	})

	t.Run("inactive", func(t *testing.T) {
		_, err := env.market.SetActive(env.ctx, otherHospital, dataset.ID, false)
		assert.ErrorIs(t, err, ErrAccessDenied)

		_, err = env.market.SetActive(env.ctx, hospital, dataset.ID, false)
		require.NoError(t, err)
		_, err = env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{Purpose: "study", DurationDays: 30})
		assert.ErrorIs(t, err, ErrDatasetInactive)
	})

	account, err := env.tokens.Balance(env.ctx, researchAddr)
	require.NoError(t, err)
	assert.Equal(t, models.TokenUnits(100).String(), account.Balance.String())
}

func TestSetComplianceRequiresAuthority(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.listDataset("Influenza 2026", 10)

	_, err := env.market.SetCompliance(env.ctx, hospital, dataset.ID, &SetComplianceRequest{
		Approved:     boolPtr(true),
		EvidenceHash: dataHash("self-approved"),
	})
	assert.ErrorIs(t, err, ErrAccessDenied)

	var reviews int64
	require.NoError(t, env.db.Model(&models.ComplianceReview{}).Where("dataset_id = ?", dataset.ID).Count(&reviews).Error)
	assert.Equal(t, int64(1), reviews)
}

func TestRatingMean(t *testing.T) {
	env := newTestEnv(t)
	dataset := env.listDataset("Influenza 2026", 10)
	env.fund(researchAddr, 10)
	env.fund(otherAddr, 10)

	_, err := env.market.Rate(env.ctx, researcher, dataset.ID, &RateRequest{Score: 7})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{Purpose: "study", DurationDays: 30})
	require.NoError(t, err)
	_, err = env.market.Purchase(env.ctx, platformAdmin, dataset.ID, &PurchaseRequest{
		Researcher:   otherAddr,
		Purpose:      "study",
		DurationDays: 30,
	})
	require.NoError(t, err)

	rated, err := env.market.Rate(env.ctx, researcher, dataset.ID, &RateRequest{Score: 7})
	require.NoError(t, err)
	assert.InDelta(t, 7.0, rated.QualityScore, 1e-9)

	rated, err = env.market.Rate(env.ctx, platformAdmin, dataset.ID, &RateRequest{Rater: otherAddr, Score: 9})
	require.NoError(t, err)
	assert.InDelta(t, 8.0, rated.QualityScore, 1e-9)
	assert.Equal(t, int64(2), rated.RatingCount)

	_, err = env.market.Rate(env.ctx, researcher, dataset.ID, &RateRequest{Score: 1})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = env.market.Rate(env.ctx, researcher, dataset.ID, &RateRequest{Score: 11})
	assert.ErrorIs(t, err, ErrValidationFailed)

	stored, err := env.market.GetDataset(env.ctx, dataset.ID)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, stored.QualityScore, 1e-9)
}

func TestListDatasetsFilters(t *testing.T) {
	env := newTestEnv(t)
	flu := env.listDataset("Influenza 2026", 10)
	env.listDataset("Dengue 2026", 10)
	_, err := env.market.SetActive(env.ctx, hospital, flu.ID, false)
	require.NoError(t, err)

	all, err := env.market.ListDatasets(env.ctx, DatasetQueryParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)

	active, err := env.market.ListDatasets(env.ctx, DatasetQueryParams{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), active.Total)

	byProvider, err := env.market.ListDatasets(env.ctx, DatasetQueryParams{ProviderOrgID: otherHospital.OrgID})
	require.NoError(t, err)
	assert.Zero(t, byProvider.Total)
}

func TestArtifactUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	storage, err := NewStorageService(config.AWSConfig{LocalUploadDir: dir, PresignTTL: 15 * time.Minute}, 1)
	require.NoError(t, err)
	env.market.storage = storage

	dataset := env.listDataset("Influenza 2026", 10)

	_, err = env.market.DownloadURL(env.ctx, researcher, dataset.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.market.UploadArtifact(env.ctx, hospital, dataset.ID, "counts.exe", "application/octet-stream", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.market.UploadArtifact(env.ctx, otherHospital, dataset.ID, "counts.csv", "text/csv", strings.NewReader("week,cases\n1,12\n"))
	assert.ErrorIs(t, err, ErrAccessDenied)

	upload, err := env.market.UploadArtifact(env.ctx, hospital, dataset.ID, "counts.csv", "text/csv", strings.NewReader("week,cases\n1,12\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(16), upload.Size)
	assert.Len(t, upload.SHA256, 64)
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(upload.Key)))
	require.NoError(t, err)

	_, err = env.market.DownloadURL(env.ctx, researcher, dataset.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	env.fund(researchAddr, 10)
	_, err = env.market.Purchase(env.ctx, researcher, dataset.ID, &PurchaseRequest{Purpose: "study", DurationDays: 30})
	require.NoError(t, err)

	link, err := env.market.DownloadURL(env.ctx, researcher, dataset.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, "file://"))
	assert.True(t, strings.HasSuffix(link.URL, upload.Key))
}
