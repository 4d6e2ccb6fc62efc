// internal/services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/healthledger/attestation-service/internal/config"
)

const jobTimeout = 30 * time.Second

// Scheduler runs the periodic sweeps: proof expiry, outbox delivery and
// burn settlement.
type Scheduler struct {
	cron        *cron.Cron
	bridge      *BridgeService
	integration *IntegrationService
	tokens      *TokenService
	cfg         config.BridgeConfig
	settleSpec  string
}

func NewScheduler(bridge *BridgeService, integration *IntegrationService, tokens *TokenService, cfg config.BridgeConfig, tokenCfg config.TokenConfig) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		bridge:      bridge,
		integration: integration,
		tokens:      tokens,
		cfg:         cfg,
		settleSpec:  tokenCfg.SettleSweepSpec,
	}
}

func (s *Scheduler) Start() error {
	if err := s.cron.AddFunc(s.cfg.ExpirySweepSpec, s.expireProofs); err != nil {
		return err
	}
	if s.integration != nil {
		if err := s.cron.AddFunc(s.cfg.OutboxSweepSpec, s.dispatchOutbox); err != nil {
			return err
		}
	}
	if s.tokens != nil && s.settleSpec != "" {
		if err := s.cron.AddFunc(s.settleSpec, s.settleBurns); err != nil {
			return err
		}
	}
	s.cron.Start()

	logrus.WithFields(logrus.Fields{
		"expiry": s.cfg.ExpirySweepSpec,
		"outbox": s.cfg.OutboxSweepSpec,
		"settle": s.settleSpec,
	}).Info("Scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) expireProofs() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.bridge.ExpireStale(ctx); err != nil {
		logrus.WithError(err).Error("Proof expiry sweep failed")
	}
}

func (s *Scheduler) settleBurns() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.tokens.SettleBurns(ctx); err != nil {
		logrus.WithError(err).Error("Burn settlement failed")
	}
}

func (s *Scheduler) dispatchOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	delivered, err := s.integration.Dispatch(ctx)
	if err != nil {
		logrus.WithError(err).Error("Outbox dispatch failed")
		return
	}
	if delivered > 0 {
		logrus.WithField("delivered", delivered).Debug("Outbox dispatched")
	}
}
