// internal/logger/logger.go
package logger

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/healthledger/attestation-service/internal/config"
)

// Setup configures the global logrus logger. Unknown levels fall back to info.
func Setup(cfg config.LoggingConfig) {
	logrus.SetOutput(os.Stdout)

	switch cfg.Format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
		logrus.WithField("level", cfg.Level).Warn("Unknown log level, using info")
	}
	logrus.SetLevel(level)
}
