// internal/services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

// PaymentIntents is the slice of the Stripe API used for top-ups.
type PaymentIntents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string) (*stripe.PaymentIntent, error)
}

type stripeIntents struct{}

func (stripeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (stripeIntents) Get(id string) (*stripe.PaymentIntent, error) {
	return paymentintent.Get(id, nil)
}

// PaymentService sells tokens for fiat. A top-up is credited by minting once
// Stripe reports the payment intent as succeeded.
type PaymentService struct {
	db       *gorm.DB
	intents  PaymentIntents
	minter   MintAuthority
	cfg      config.PaymentConfig
	platform string
	trail    AuditTrail
	now      func() time.Time
}

type CreateTopUpRequest struct {
	Tokens  int64  `json:"tokens" validate:"required,min=1,max=1000000"`
	Address string `json:"address,omitempty" validate:"omitempty,eth_addr"`
}

type TopUpResponse struct {
	ClientSecret    string             `json:"client_secret,omitempty"`
	PaymentIntentID string             `json:"payment_intent_id"`
	AmountCents     int64              `json:"amount_cents"`
	Currency        string             `json:"currency"`
	Status          models.TopUpStatus `json:"status"`
}

func NewPaymentService(db *gorm.DB, cfg config.PaymentConfig, minter MintAuthority, platformOrgID string, trail AuditTrail) *PaymentService {
	// Initialize Stripe
	stripe.Key = cfg.StripeSecretKey

	return &PaymentService{
		db:       db,
		intents:  stripeIntents{},
		minter:   minter,
		cfg:      cfg,
		platform: platformOrgID,
		trail:    trail,
		now:      time.Now,
	}
}

// WithIntents swaps the Stripe client, mainly for tests.
func (s *PaymentService) WithIntents(intents PaymentIntents) *PaymentService {
	s.intents = intents
	return s
}

func (s *PaymentService) CreateTopUp(ctx context.Context, caller policy.Caller, req *CreateTopUpRequest) (*TopUpResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	address, err := buyer(caller, req.Address)
	if err != nil {
		return nil, err
	}

	currency := s.cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	amountCents := req.Tokens * s.cfg.CentsPerToken
	if amountCents <= 0 {
		return nil, invalidf("top-up amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	params.AddMetadata("org_id", caller.OrgID)
	params.AddMetadata("address", address)
	params.AddMetadata("tokens", strconv.FormatInt(req.Tokens, 10))

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	topUp := &models.TopUp{
		PaymentIntentID: pi.ID,
		OrgID:           caller.OrgID,
		Address:         address,
		Tokens:          req.Tokens,
		AmountCents:     amountCents,
		Currency:        currency,
		Status:          models.TopUpStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(topUp).Error; err != nil {
		return nil, fmt.Errorf("failed to store top-up: %w", err)
	}

	return &TopUpResponse{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		AmountCents:     amountCents,
		Currency:        currency,
		Status:          topUp.Status,
	}, nil
}

// ConfirmTopUp checks the intent with Stripe and mints the purchased tokens.
// Confirming an already credited top-up is a no-op.
func (s *PaymentService) ConfirmTopUp(ctx context.Context, caller policy.Caller, intentID string) (*models.TopUp, error) {
	var topUp models.TopUp
	if err := s.db.WithContext(ctx).First(&topUp, "payment_intent_id = ?", intentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("top-up", intentID)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if topUp.OrgID != caller.OrgID && !policy.HasCapability(caller, models.CapabilityPlatformAdmin) {
		return nil, accessDenied("top-up belongs to another organization")
	}
	if topUp.Status != models.TopUpStatusPending {
		return &topUp, nil
	}

	pi, err := s.intents.Get(intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return s.credit(ctx, &topUp)
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		if err := s.db.WithContext(ctx).Model(&models.TopUp{}).
			Where("payment_intent_id = ? AND status = ?", intentID, models.TopUpStatusPending).
			Update("status", models.TopUpStatusFailed).Error; err != nil {
			return nil, fmt.Errorf("failed to update top-up: %w", err)
		}
		topUp.Status = models.TopUpStatusFailed
	}
	return &topUp, nil
}

func (s *PaymentService) credit(ctx context.Context, topUp *models.TopUp) (*models.TopUp, error) {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.TopUp{}).
			Where("payment_intent_id = ? AND status = ?", topUp.PaymentIntentID, models.TopUpStatusPending).
			Updates(map[string]interface{}{
				"status":      models.TopUpStatusCredited,
				"credited_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update top-up: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// credited by a concurrent confirmation
			return nil
		}
		_, err := s.minter.MintInTx(tx, s.platform, topUp.Address, models.TokenUnits(topUp.Tokens),
			"fiat top-up "+topUp.PaymentIntentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).First(topUp, "payment_intent_id = ?", topUp.PaymentIntentID).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"payment_intent": topUp.PaymentIntentID,
		"address":        topUp.Address,
		"tokens":         topUp.Tokens,
	}).Info("Top-up credited")
	appendAudit(s.trail, "token.topup", "token_account", topUp.Address, topUp.OrgID, map[string]interface{}{
		"payment_intent": topUp.PaymentIntentID,
		"tokens":         topUp.Tokens,
	})
	return topUp, nil
}
