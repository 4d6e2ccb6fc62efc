package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("BRIDGE_QUORUM_THRESHOLD", "5")
	t.Setenv("BRIDGE_PROOF_VALIDITY", "48h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("PROVIDER_SHARE_BPS", "7000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Bridge.QuorumThreshold)
	assert.Equal(t, 48*time.Hour, cfg.Bridge.ProofValidity)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, int64(7000), cfg.Marketplace.ProviderShareBps)
	assert.Equal(t, cfg.Database.SQLitePath, cfg.Database.DSN())
}

func TestInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("BRIDGE_QUORUM_THRESHOLD", "three")
	t.Setenv("BRIDGE_PROOF_VALIDITY", "tomorrow")

	assert.Equal(t, 3, getEnvAsInt("BRIDGE_QUORUM_THRESHOLD", 3))
	assert.Equal(t, time.Hour, getEnvAsDuration("BRIDGE_PROOF_VALIDITY", time.Hour))
	assert.True(t, getEnvAsBool("UNSET_FLAG_FOR_TEST", true))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			Database:    DatabaseConfig{Driver: "postgres"},
			JWT:         JWTConfig{SecretKey: "s"},
			Bridge:      BridgeConfig{QuorumThreshold: 3},
			Token:       TokenConfig{MaxSupplyTokens: 100},
			Marketplace: MarketplaceConfig{ProviderShareBps: 8500, MaxLicenseDays: 365},
			Anonymizer:  AnonymizerConfig{LocationHashWidth: 12},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"default secret in production", func(c *Config) {
			c.Environment = "production"
			c.Database.Password = "pw"
			c.JWT.SecretKey = "your-secret-key-change-in-production"
		}},
		{"missing db password in production", func(c *Config) { c.Environment = "production" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero quorum", func(c *Config) { c.Bridge.QuorumThreshold = 0 }},
		{"share above 100%", func(c *Config) { c.Marketplace.ProviderShareBps = 10001 }},
		{"license over a year", func(c *Config) { c.Marketplace.MaxLicenseDays = 400 }},
		{"narrow location hash", func(c *Config) { c.Anonymizer.LocationHashWidth = 2 }},
		{"no supply", func(c *Config) { c.Token.MaxSupplyTokens = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
