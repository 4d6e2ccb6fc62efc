// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Bridge      BridgeConfig
	Token       TokenConfig
	Marketplace MarketplaceConfig
	Anonymizer  AnonymizerConfig
	Audit       AuditConfig
	Broker      BrokerConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
	Platform    PlatformConfig
	I18n        I18nConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	ReadTimeout    int
	WriteTimeout   int
	IdleTimeout    int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver       string // postgres | sqlite
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
	Issuer         string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	PresignTTL      time.Duration
	LocalUploadDir  string
}

type PaymentConfig struct {
	StripeSecretKey string
	// smallest currency unit (cents) charged per whole token
	CentsPerToken int64
	Currency      string
}

type BridgeConfig struct {
	SourceChainID    string
	DefaultTarget    string
	QuorumThreshold  int
	ProofValidity    time.Duration
	ExpirySweepSpec  string
	OutboxSweepSpec  string
	OutboxMaxAttempt int
}

type TokenConfig struct {
	// whole tokens; converted to 18-decimal base units by the ledger
	MaxSupplyTokens int64
	SettleSweepSpec string
}

type MarketplaceConfig struct {
	ProviderShareBps  int64
	MaxLicenseDays    int
	PlatformTreasury  string
	MaxArtifactSizeMB int64
}

type AnonymizerConfig struct {
	TimeBucket        time.Duration
	LocationHashWidth int
}

type AuditConfig struct {
	LevelDBPath string
}

type BrokerConfig struct {
	AMQPURL    string
	Exchange   string
	Queue      string
	RoutingKey string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type LoggingConfig struct {
	Level  string
	Format string // json | text
}

type PlatformConfig struct {
	OrgID        string
	OrgName      string
	APIKey       string
	TokenAddress string
}

type I18nConfig struct {
	DefaultLocale string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "health_ledger"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:   getEnv("DB_SQLITE_PATH", "health_ledger.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 12),
			Issuer:         getEnv("JWT_ISSUER", "health-ledger"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "health-ledger-datasets"),
			PresignTTL:      getEnvAsDuration("AWS_PRESIGN_TTL", 15*time.Minute),
			LocalUploadDir:  getEnv("LOCAL_UPLOAD_DIR", "./uploads"),
		},
		Payment: PaymentConfig{
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			CentsPerToken:   int64(getEnvAsInt("TOKEN_PRICE_CENTS", 10)),
			Currency:        getEnv("TOKEN_PRICE_CURRENCY", "usd"),
		},
		Bridge: BridgeConfig{
			SourceChainID:    getEnv("BRIDGE_SOURCE_CHAIN", "private-health-ledger"),
			DefaultTarget:    getEnv("BRIDGE_TARGET_CHAIN", "public-sidechain"),
			QuorumThreshold:  getEnvAsInt("BRIDGE_QUORUM_THRESHOLD", 3),
			ProofValidity:    getEnvAsDuration("BRIDGE_PROOF_VALIDITY", 24*time.Hour),
			ExpirySweepSpec:  getEnv("BRIDGE_EXPIRY_SWEEP", "@every 1m"),
			OutboxSweepSpec:  getEnv("INTEGRATION_OUTBOX_SWEEP", "@every 30s"),
			OutboxMaxAttempt: getEnvAsInt("INTEGRATION_MAX_ATTEMPTS", 10),
		},
		Token: TokenConfig{
			MaxSupplyTokens: int64(getEnvAsInt("TOKEN_MAX_SUPPLY", 1_000_000_000)),
			SettleSweepSpec: getEnv("TOKEN_SETTLE_SWEEP", "@every 1m"),
		},
		Marketplace: MarketplaceConfig{
			ProviderShareBps:  int64(getEnvAsInt("PROVIDER_SHARE_BPS", 8500)),
			MaxLicenseDays:    getEnvAsInt("MAX_LICENSE_DAYS", 365),
			PlatformTreasury:  getEnv("PLATFORM_TREASURY_ADDRESS", ""),
			MaxArtifactSizeMB: int64(getEnvAsInt("MAX_ARTIFACT_SIZE_MB", 100)),
		},
		Anonymizer: AnonymizerConfig{
			TimeBucket:        getEnvAsDuration("ANON_TIME_BUCKET", time.Hour),
			LocationHashWidth: getEnvAsInt("ANON_LOCATION_HASH_WIDTH", 12),
		},
		Audit: AuditConfig{
			LevelDBPath: getEnv("AUDIT_LEVELDB_PATH", "./data/audit"),
		},
		Broker: BrokerConfig{
			AMQPURL:    getEnv("AMQP_URL", ""),
			Exchange:   getEnv("AMQP_EXCHANGE", "health.integration"),
			Queue:      getEnv("AMQP_QUEUE", "surveillance.proofs"),
			RoutingKey: getEnv("AMQP_ROUTING_KEY", "proof.finalized"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Platform: PlatformConfig{
			OrgID:        getEnv("PLATFORM_ORG_ID", "platform"),
			OrgName:      getEnv("PLATFORM_ORG_NAME", "Health Ledger Platform"),
			APIKey:       getEnv("PLATFORM_API_KEY", ""),
			TokenAddress: getEnv("PLATFORM_TOKEN_ADDRESS", ""),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Driver == "postgres" && c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Bridge.QuorumThreshold < 1 {
		return fmt.Errorf("bridge quorum threshold must be at least 1")
	}

	if c.Marketplace.ProviderShareBps < 0 || c.Marketplace.ProviderShareBps > 10000 {
		return fmt.Errorf("provider share must be between 0 and 10000 basis points")
	}

	if c.Marketplace.MaxLicenseDays < 1 || c.Marketplace.MaxLicenseDays > 365 {
		return fmt.Errorf("max license days must be between 1 and 365")
	}

	if c.Anonymizer.LocationHashWidth < 4 || c.Anonymizer.LocationHashWidth > 64 {
		return fmt.Errorf("location hash width must be between 4 and 64 hex characters")
	}

	if c.Token.MaxSupplyTokens <= 0 {
		return fmt.Errorf("token max supply must be positive")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DebugMode is used by the logger and gin to pick verbose output.
func (c *Config) DebugMode() bool {
	return getEnvAsBool("DEBUG", c.Environment == "development")
}
