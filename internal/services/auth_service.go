// internal/services/auth_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

type AuthService struct {
	db    *gorm.DB
	cfg   config.JWTConfig
	trail AuditTrail
}

type LoginRequest struct {
	OrgID  string `json:"org_id" validate:"required,org_id"`
	APIKey string `json:"api_key" validate:"required"`
}

type RegisterOrganizationRequest struct {
	ID           string              `json:"id" validate:"required,org_id"`
	Name         string              `json:"name" validate:"required,max=255"`
	Roles        []models.Role       `json:"roles" validate:"required,min=1,dive,oneof=government hospital research insurance platform"`
	Capabilities []models.Capability `json:"capabilities,omitempty" validate:"dive,oneof=rewards_authority marketplace_authority compliance_authority platform_admin"`
	PublicKey    string              `json:"public_key,omitempty" validate:"omitempty,hexadecimal,max=128"`
	TokenAddress string              `json:"token_address,omitempty" validate:"omitempty,eth_addr"`
	APIKey       string              `json:"api_key,omitempty" validate:"omitempty,api_key"`
}

type AuthResponse struct {
	Organization *models.Organization `json:"organization"`
	AccessToken  string               `json:"access_token"`
	TokenType    string               `json:"token_type"`
	ExpiresIn    int                  `json:"expires_in"` // in seconds
}

type RegisterOrganizationResponse struct {
	Organization *models.Organization `json:"organization"`
	// returned once; only the bcrypt hash is stored
	APIKey string `json:"api_key"`
}

func NewAuthService(db *gorm.DB, cfg config.JWTConfig, trail AuditTrail) *AuthService {
	return &AuthService{
		db:    db,
		cfg:   cfg,
		trail: trail,
	}
}

// Login exchanges an organization id and API key for an access token that
// carries the organization's roles and capabilities.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}

	var org models.Organization
	if err := s.db.WithContext(ctx).Where("id = ?", req.OrgID).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if err := org.CheckAPIKey(req.APIKey); err != nil {
		logrus.WithField("org_id", req.OrgID).Warn("Failed organization login")
		return nil, ErrInvalidCredentials
	}
	if !org.Active {
		return nil, accessDenied("organization " + org.ID + " is not active")
	}

	accessToken, err := utils.GenerateJWT(org.ID, org.Roles, org.Capabilities, org.TokenAddress, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &AuthResponse{
		Organization: &org,
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.AccessTokenTTL * 3600, // Convert hours to seconds
	}, nil
}

// RegisterOrganization adds a participant. The role set is fixed from here on.
func (s *AuthService) RegisterOrganization(ctx context.Context, caller policy.Caller, req *RegisterOrganizationRequest) (*RegisterOrganizationResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	if !policy.HasCapability(caller, models.CapabilityPlatformAdmin) {
		return nil, accessDenied("registering organizations requires platform_admin")
	}

	apiKey := req.APIKey
	if apiKey == "" {
		var err error
		if apiKey, err = utils.GenerateAPIKey(); err != nil {
			return nil, fmt.Errorf("failed to generate API key: %w", err)
		}
	}

	org := &models.Organization{
		ID:           req.ID,
		Name:         req.Name,
		PublicKey:    req.PublicKey,
		TokenAddress: req.TokenAddress,
		Active:       true,
	}
	for _, r := range req.Roles {
		org.Roles = append(org.Roles, string(r))
	}
	for _, c := range req.Capabilities {
		org.Capabilities = append(org.Capabilities, string(c))
	}
	if err := org.SetAPIKey(apiKey); err != nil {
		return nil, fmt.Errorf("failed to hash API key: %w", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Organization{}).Where("id = ?", org.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: organization %s", ErrAlreadyExists, org.ID)
		}
		if err := tx.Create(org).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: organization %s", ErrAlreadyExists, org.ID)
			}
			return fmt.Errorf("failed to create organization: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"org_id": org.ID,
		"roles":  []string(org.Roles),
	}).Info("Organization registered")
	appendAudit(s.trail, "organization.register", "organization", org.ID, caller.OrgID, map[string]interface{}{
		"roles":        []string(org.Roles),
		"capabilities": []string(org.Capabilities),
	})

	return &RegisterOrganizationResponse{Organization: org, APIKey: apiKey}, nil
}

func (s *AuthService) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).Where("id = ?", orgID).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("organization", orgID)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &org, nil
}
