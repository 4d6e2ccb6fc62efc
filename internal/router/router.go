// internal/router/router.go
package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/handlers"
	"github.com/healthledger/attestation-service/internal/middleware"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/services"
	"github.com/healthledger/attestation-service/internal/utils"
)

const Version = "1.0.0"

// App holds the HTTP engine and the long-lived components main has to start
// and stop.
type App struct {
	Engine      *gin.Engine
	Bridge      *services.BridgeService
	Integration *services.IntegrationService
	Scheduler   *services.Scheduler
	Metrics     *services.MetricsService
	Payments    *services.PaymentService

	limiter *middleware.RateLimiter
}

// Options carries dependencies built outside the router.
type Options struct {
	Trail     services.AuditTrail
	Publisher services.Publisher
}

func Initialize(db *gorm.DB, cfg *config.Config, opts Options) (*App, error) {
	if opts.Publisher == nil {
		opts.Publisher = services.LogPublisher{}
	}

	// Initialize services
	metricsService := services.NewMetricsService(db)
	storageService, err := services.NewStorageService(cfg.AWS, cfg.Marketplace.MaxArtifactSizeMB)
	if err != nil {
		return nil, err
	}
	anonymizerService := services.NewAnonymizerService(cfg.Anonymizer)
	bridgeService := services.NewBridgeService(db, cfg.Bridge, opts.Trail, metricsService)
	integrationService := services.NewIntegrationService(db, opts.Publisher, cfg.Bridge.OutboxMaxAttempt, metricsService)
	bridgeService.SetNotifier(integrationService)

	recordService := services.NewRecordService(db, anonymizerService, bridgeService, opts.Trail, cfg.Bridge)
	syncService := services.NewSyncService(recordService)
	tokenService := services.NewTokenService(db, cfg.Token, opts.Trail, metricsService)
	marketplaceService := services.NewMarketplaceService(db, tokenService, storageService, cfg.Marketplace, opts.Trail, metricsService)
	paymentService := services.NewPaymentService(db, cfg.Payment, tokenService, cfg.Platform.OrgID, opts.Trail)
	authService := services.NewAuthService(db, cfg.JWT, opts.Trail)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	recordHandler := handlers.NewRecordHandler(recordService, syncService)
	proofHandler := handlers.NewProofHandler(bridgeService)
	tokenHandler := handlers.NewTokenHandler(tokenService, paymentService)
	datasetHandler := handlers.NewDatasetHandler(marketplaceService)
	systemHandler := handlers.NewSystemHandler(metricsService, Version)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept-Language"},
		ExposeHeaders:    []string{"X-Total-Count", "X-Page", "X-Per-Page"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))
	r.Use(middleware.RequestMetrics(metricsService))
	r.Use(middleware.AuditLogMiddleware(db))

	r.GET("/health", systemHandler.Health)
	r.GET("/metrics", systemHandler.Metrics)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.POST("/auth/token", limiter.Middleware(), authHandler.Login)

		protected := v1.Group("")
		protected.Use(middleware.AuthRequired(), limiter.Middleware())
		{
			orgs := protected.Group("/organizations")
			{
				orgs.POST("", middleware.RequireCapability(models.CapabilityPlatformAdmin), authHandler.RegisterOrganization)
				orgs.GET("/:id", authHandler.GetOrganization)
				orgs.GET("/:id/records", recordHandler.QueryByOwner)
			}

			records := protected.Group("/records")
			{
				records.POST("", recordHandler.Put)
				records.POST("/sync", recordHandler.Sync)
				records.GET("/:id", recordHandler.Get)
				records.GET("/:id/anonymized", recordHandler.GetAnonymized)
				records.GET("/:id/history", recordHandler.History)
				records.GET("/:id/audit", recordHandler.AuditTrail)
				records.POST("/:id/export", recordHandler.Export)
				records.PUT("/:id/access-level", recordHandler.UpdateAccessLevel)
			}
			protected.POST("/consent", recordHandler.UpdateConsent)

			alerts := protected.Group("/alerts")
			{
				alerts.POST("", recordHandler.CreateAlert)
				alerts.GET("", recordHandler.ListAlerts)
				alerts.PUT("/:id/resolve", recordHandler.ResolveAlert)
			}

			proofs := protected.Group("/proofs")
			{
				proofs.POST("", proofHandler.Submit)
				proofs.GET("/:id", proofHandler.Get)
				proofs.POST("/:id/vote", proofHandler.Vote)
			}

			validators := protected.Group("/validators")
			{
				validators.GET("", proofHandler.ListValidators)
				validators.GET("/set", proofHandler.CurrentValidatorSet)
				validators.POST("", middleware.RequireCapability(models.CapabilityPlatformAdmin), proofHandler.RegisterValidator)
				validators.DELETE("/:id", middleware.RequireCapability(models.CapabilityPlatformAdmin), proofHandler.DeactivateValidator)
			}

			token := protected.Group("/token")
			{
				token.POST("/reward", middleware.RequireCapability(models.CapabilityRewardsAuthority), tokenHandler.Reward)
				token.POST("/bulk-reward", middleware.RequireCapability(models.CapabilityRewardsAuthority), tokenHandler.BulkReward)
				token.POST("/pay", middleware.RequireCapability(models.CapabilityMarketplaceAuthority), tokenHandler.Pay)
				token.GET("/balance/:address", tokenHandler.Balance)
				token.GET("/supply", tokenHandler.Supply)
				token.GET("/transactions/:address", tokenHandler.Transactions)
				token.POST("/topup", tokenHandler.CreateTopUp)
				token.POST("/topup/:intentId/confirm", tokenHandler.ConfirmTopUp)
			}

			datasets := protected.Group("/datasets")
			{
				datasets.POST("", datasetHandler.Create)
				datasets.GET("", datasetHandler.List)
				datasets.GET("/:id", datasetHandler.Get)
				datasets.POST("/:id/compliance", middleware.RequireCapability(models.CapabilityComplianceAuthority), datasetHandler.SetCompliance)
				datasets.PUT("/:id/active", datasetHandler.SetActive)
				datasets.POST("/:id/purchase", datasetHandler.Purchase)
				datasets.POST("/:id/rate", datasetHandler.Rate)
				datasets.GET("/:id/license/:address", datasetHandler.HasValidLicense)
				datasets.POST("/:id/artifact", datasetHandler.UploadArtifact)
				datasets.GET("/:id/download", datasetHandler.Download)
			}
			protected.GET("/licenses/:address", datasetHandler.ListLicenses)

			protected.GET("/stats", systemHandler.Stats)
		}
	}

	logrus.WithField("version", Version).Debug("Router initialized")

	return &App{
		Engine:      r,
		Bridge:      bridgeService,
		Integration: integrationService,
		Scheduler:   services.NewScheduler(bridgeService, integrationService, tokenService, cfg.Bridge, cfg.Token),
		Metrics:     metricsService,
		Payments:    paymentService,
		limiter:     limiter,
	}, nil
}

// Close stops background work owned by the router.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.limiter.Stop()
	if err := a.Integration.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close integration publisher")
	}
}
