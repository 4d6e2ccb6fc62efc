package services

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/audit"
	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/database"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
)

const (
	hospitalAddr = "0x1111111111111111111111111111111111111111"
	researchAddr = "0x2222222222222222222222222222222222222222"
	otherAddr    = "0x3333333333333333333333333333333333333333"
	platformAddr = "0x9999999999999999999999999999999999999999"
)

var (
	hospital = policy.Caller{
		OrgID:   "city-hospital",
		Roles:   []models.Role{models.RoleHospital},
		Address: hospitalAddr,
	}
	otherHospital = policy.Caller{
		OrgID: "county-hospital",
		Roles: []models.Role{models.RoleHospital},
	}
	government = policy.Caller{
		OrgID: "health-ministry",
		Roles: []models.Role{models.RoleGovernment},
	}
	researcher = policy.Caller{
		OrgID:   "genome-lab",
		Roles:   []models.Role{models.RoleResearch},
		Address: researchAddr,
	}
	insurer = policy.Caller{
		OrgID: "mutual-insurance",
		Roles: []models.Role{models.RoleInsurance},
	}
	platformAdmin = policy.Caller{
		OrgID: "platform",
		Roles: []models.Role{models.RolePlatform},
		Capabilities: []models.Capability{
			models.CapabilityPlatformAdmin,
			models.CapabilityRewardsAuthority,
			models.CapabilityMarketplaceAuthority,
			models.CapabilityComplianceAuthority,
		},
		Address: platformAddr,
	}
)

// fakeClock is shared by every service in a test environment.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher keeps every delivered message.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []IntegrationMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, msg IntegrationMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Messages() []IntegrationMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]IntegrationMessage(nil), p.messages...)
}

type testEnv struct {
	t           *testing.T
	ctx         context.Context
	db          *gorm.DB
	cfg         *config.Config
	clock       *fakeClock
	trail       *audit.Store
	metrics     *MetricsService
	publisher   *recordingPublisher
	anonymizer  *AnonymizerService
	bridge      *BridgeService
	integration *IntegrationService
	records     *RecordService
	tokens      *TokenService
	market      *MarketplaceService
	validators  map[string]ed25519.PrivateKey
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{SecretKey: "test-secret", AccessTokenTTL: 1, Issuer: "health-ledger"},
		Bridge: config.BridgeConfig{
			SourceChainID:    "health-chain",
			DefaultTarget:    "research-chain",
			QuorumThreshold:  3,
			ProofValidity:    24 * time.Hour,
			ExpirySweepSpec:  "@every 1m",
			OutboxSweepSpec:  "@every 30s",
			OutboxMaxAttempt: 3,
		},
		Token:       config.TokenConfig{MaxSupplyTokens: 1_000_000},
		Marketplace: config.MarketplaceConfig{ProviderShareBps: 7000, MaxLicenseDays: 365, MaxArtifactSizeMB: 1},
		Anonymizer:  config.AnonymizerConfig{TimeBucket: time.Hour, LocationHashWidth: 12},
		Payment:     config.PaymentConfig{CentsPerToken: 10, Currency: "usd"},
		Platform:    config.PlatformConfig{OrgID: "platform"},
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenInMemory(name)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	cfg := testConfig()

	trail, err := audit.OpenMemory(4)
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	metrics := NewMetricsService(db)
	metrics.now = clock.Now
	publisher := &recordingPublisher{}

	env := &testEnv{
		t:          t,
		ctx:        context.Background(),
		db:         db,
		cfg:        cfg,
		clock:      clock,
		trail:      trail,
		metrics:    metrics,
		publisher:  publisher,
		anonymizer: NewAnonymizerService(cfg.Anonymizer),
		validators: map[string]ed25519.PrivateKey{},
	}

	env.bridge = NewBridgeService(db, cfg.Bridge, trail, metrics)
	env.bridge.now = clock.Now
	env.integration = NewIntegrationService(db, publisher, cfg.Bridge.OutboxMaxAttempt, metrics)
	env.integration.now = clock.Now
	env.bridge.SetNotifier(env.integration)

	env.records = NewRecordService(db, env.anonymizer, env.bridge, trail, cfg.Bridge)
	env.records.now = clock.Now

	env.tokens = NewTokenService(db, cfg.Token, trail, metrics)
	env.tokens.now = clock.Now

	env.market = NewMarketplaceService(db, env.tokens, nil, cfg.Marketplace, trail, metrics)
	env.market.now = clock.Now
	return env
}

// addValidators registers n validators with deterministic keys and returns
// their ids.
func (e *testEnv) addValidators(n int) []string {
	e.t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("validator-%d", len(e.validators)+1)
		seed := sha256.Sum256([]byte(id))
		priv := ed25519.NewKeyFromSeed(seed[:])
		_, err := e.bridge.RegisterValidator(e.ctx, platformAdmin, &RegisterValidatorRequest{
			ValidatorID: id,
			OrgID:       "validator-org",
			PublicKey:   hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
			StakeWeight: 1,
		})
		require.NoError(e.t, err)
		e.validators[id] = priv
		ids = append(ids, id)
	}
	return ids
}

func (e *testEnv) vote(proof *models.Proof, validatorID string, approved bool) *VoteRequest {
	priv, ok := e.validators[validatorID]
	require.True(e.t, ok, "unknown test validator %s", validatorID)
	sig := ed25519.Sign(priv, models.VoteMessage(proof.ID, proof.DataHash, approved))
	return &VoteRequest{
		ValidatorID: validatorID,
		Approved:    &approved,
		Signature:   hex.EncodeToString(sig),
	}
}

func dataHash(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func (e *testEnv) submitProof(seed string) *models.Proof {
	e.t.Helper()
	proof, err := e.bridge.SubmitProof(e.ctx, hospital, &SubmitProofRequest{
		DataHash:    dataHash(seed),
		SourceChain: "health-chain",
		TargetChain: "research-chain",
		RecordType:  "influenza",
	})
	require.NoError(e.t, err)
	return proof
}

// validatedProof submits a proof and approves it with the first three
// validators.
func (e *testEnv) validatedProof(seed string) *models.Proof {
	e.t.Helper()
	if len(e.validators) < e.cfg.Bridge.QuorumThreshold {
		e.addValidators(e.cfg.Bridge.QuorumThreshold - len(e.validators))
	}
	proof := e.submitProof(seed)
	for i := 1; i <= e.cfg.Bridge.QuorumThreshold; i++ {
		var err error
		proof, err = e.bridge.Validate(e.ctx, platformAdmin, proof.ID, e.vote(proof, fmt.Sprintf("validator-%d", i), true))
		require.NoError(e.t, err)
	}
	require.Equal(e.t, models.ProofStatusValidated, proof.Status)
	return proof
}

func (e *testEnv) putRecord(id string, consent bool) *PutRecordResult {
	e.t.Helper()
	result, err := e.records.Put(e.ctx, hospital, &PutRecordRequest{
		RecordID:         id,
		OrgID:            hospital.OrgID,
		PatientID:        "patient-" + id,
		DiseaseCategory:  "respiratory",
		DiseaseCode:      "J10",
		EncryptedPayload: []byte("ciphertext-" + id),
		AccessLevel:      models.AccessLevelRestricted,
		Location:         "Taipei City",
		QualityScore:     80,
		Consent:          consent,
	})
	require.NoError(e.t, err)
	return result
}

func (e *testEnv) fund(address string, tokens int64) {
	e.t.Helper()
	_, err := e.tokens.Reward(e.ctx, platformAdmin, &RewardRequest{
		Address: address,
		Amount:  models.TokenUnits(tokens),
		Reason:  "test funding",
	})
	require.NoError(e.t, err)
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}
