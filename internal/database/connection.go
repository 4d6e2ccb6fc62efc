// internal/database/connection.go
package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithField("driver", cfg.Driver).Info("Database connection established")
	return db, nil
}

// OpenInMemory opens a migrated, private SQLite database. A single
// connection keeps the shared-cache database alive and serializes writers.
func OpenInMemory(name string) (*gorm.DB, error) {
	db, err := Initialize(config.DatabaseConfig{
		Driver:       "sqlite",
		SQLitePath:   fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations")

	err := db.AutoMigrate(
		&models.Organization{},
		&models.HealthRecord{},
		&models.RecordVersion{},
		&models.ConsentEvent{},
		&models.RecordExport{},
		&models.OutbreakAlert{},
		&models.Validator{},
		&models.ValidatorSet{},
		&models.Proof{},
		&models.ProofVote{},
		&models.TokenAccount{},
		&models.TokenSupply{},
		&models.PendingBurn{},
		&models.TokenTransaction{},
		&models.TokenCheckpoint{},
		&models.TopUp{},
		&models.Dataset{},
		&models.ComplianceReview{},
		&models.License{},
		&models.Rating{},
		&models.RevenueDistribution{},
		&models.IntegrationEvent{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_health_records_owner_category ON health_records(owner_org_id, disease_category)",
		"CREATE INDEX IF NOT EXISTS idx_consent_events_record_ts ON consent_events(record_id, timestamp, id)",
		"CREATE INDEX IF NOT EXISTS idx_outbreak_alerts_status_code ON outbreak_alerts(status, disease_code)",
		"CREATE INDEX IF NOT EXISTS idx_proofs_status_expires ON proofs(status, expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_datasets_type_active ON datasets(dataset_type, active)",
		"CREATE INDEX IF NOT EXISTS idx_licenses_active_expires ON licenses(active, expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_integration_events_status_created ON integration_events(status, created_at)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("failed to create index: %s, error: %w", index, err)
		}
	}

	return nil
}

// SeedInitialData creates the platform organization and the token supply row.
func SeedInitialData(db *gorm.DB, cfg *config.Config) error {
	logrus.Info("Seeding initial data")

	return WithTransaction(db, func(tx *gorm.DB) error {
		var supply models.TokenSupply
		err := tx.First(&supply, 1).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			supply = models.TokenSupply{
				ID:          1,
				TotalSupply: models.NewAmount(0),
				MaxSupply:   models.TokenUnits(cfg.Token.MaxSupplyTokens),
				TotalBurned: models.NewAmount(0),
			}
			if err := tx.Create(&supply).Error; err != nil {
				return fmt.Errorf("failed to create token supply: %w", err)
			}
		} else if err != nil {
			return err
		}

		if cfg.Platform.APIKey == "" {
			logrus.Warn("PLATFORM_API_KEY not set, platform organization not seeded")
			return nil
		}

		var count int64
		tx.Model(&models.Organization{}).Where("id = ?", cfg.Platform.OrgID).Count(&count)
		if count > 0 {
			return nil
		}

		platform := &models.Organization{
			ID:           cfg.Platform.OrgID,
			Name:         cfg.Platform.OrgName,
			Roles:        []string{string(models.RolePlatform)},
			TokenAddress: cfg.Platform.TokenAddress,
			Active:       true,
			Capabilities: []string{
				string(models.CapabilityPlatformAdmin),
				string(models.CapabilityRewardsAuthority),
				string(models.CapabilityMarketplaceAuthority),
				string(models.CapabilityComplianceAuthority),
			},
		}
		if err := platform.SetAPIKey(cfg.Platform.APIKey); err != nil {
			return fmt.Errorf("failed to hash platform api key: %w", err)
		}
		if err := tx.Create(platform).Error; err != nil {
			return fmt.Errorf("failed to create platform organization: %w", err)
		}

		logrus.WithField("org_id", platform.ID).Info("Platform organization created")
		return nil
	})
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
