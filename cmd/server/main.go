// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/healthledger/attestation-service/internal/audit"
	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/database"
	"github.com/healthledger/attestation-service/internal/i18n"
	"github.com/healthledger/attestation-service/internal/logger"
	"github.com/healthledger/attestation-service/internal/router"
	"github.com/healthledger/attestation-service/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger.Setup(cfg.Logging)

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}
	if err := database.SeedInitialData(db, cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to seed initial data")
	}

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}

	trail, err := audit.Open(cfg.Audit.LevelDBPath, 0)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open audit store")
	}
	defer trail.Close()

	var publisher services.Publisher = services.LogPublisher{}
	if cfg.Broker.AMQPURL != "" {
		rabbit, err := services.NewRabbitPublisher(cfg.Broker)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to integration broker")
		}
		publisher = rabbit
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	app, err := router.Initialize(db, cfg, router.Options{Trail: trail, Publisher: publisher})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize router")
	}
	defer app.Close()

	if err := app.Scheduler.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start scheduler")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.Engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}
