// internal/services/bridge_service.go
package services

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

const maxVoteAttempts = 3

var errVoteRace = errors.New("proof counters moved during vote")

// ProofNotifier is told about every proof that reaches a terminal status.
// Queue runs inside the transaction that finalizes the proof, so a committed
// terminal status always has its notifications stored. Deliver runs after
// commit and may fail; undelivered events stay queued for retry.
type ProofNotifier interface {
	QueueFinalized(tx *gorm.DB, proof *models.Proof) ([]models.IntegrationEvent, error)
	Deliver(ctx context.Context, events []models.IntegrationEvent)
}

type BridgeService struct {
	db       *gorm.DB
	cfg      config.BridgeConfig
	notifier ProofNotifier
	trail    AuditTrail
	metrics  *MetricsService
	now      func() time.Time
}

type SubmitProofRequest struct {
	DataHash    string `json:"data_hash" validate:"required,hexadecimal,len=64"`
	SourceChain string `json:"source_chain" validate:"required,max=64"`
	TargetChain string `json:"target_chain" validate:"required,max=64"`
	RecordType  string `json:"record_type" validate:"required,max=100"`
}

type VoteRequest struct {
	ValidatorID string `json:"validator_id" validate:"required,max=64"`
	Approved    *bool  `json:"approved" validate:"required"`
	Signature   string `json:"signature" validate:"required,hexadecimal"`
}

type RegisterValidatorRequest struct {
	ValidatorID string `json:"validator_id" validate:"required,max=64"`
	OrgID       string `json:"org_id" validate:"required,max=64"`
	PublicKey   string `json:"public_key" validate:"required,hexadecimal,len=64"`
	StakeWeight int64  `json:"stake_weight" validate:"min=0"`
}

func NewBridgeService(db *gorm.DB, cfg config.BridgeConfig, trail AuditTrail, metrics *MetricsService) *BridgeService {
	return &BridgeService{
		db:      db,
		cfg:     cfg,
		trail:   trail,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetNotifier wires the integration outbox once it has been built.
func (s *BridgeService) SetNotifier(n ProofNotifier) {
	s.notifier = n
}

// SubmitProof registers a new attestation. A second submission of the same
// (data hash, source chain, target chain) returns the stored proof together
// with ErrAlreadySubmitted.
func (s *BridgeService) SubmitProof(ctx context.Context, caller policy.Caller, req *SubmitProofRequest) (*models.Proof, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	if !caller.HasRole(models.RoleHospital) && !caller.HasRole(models.RoleGovernment) && !caller.HasRole(models.RolePlatform) {
		return nil, accessDenied("only data-holding organizations submit proofs")
	}

	proof := &models.Proof{
		DataHash:       req.DataHash,
		SourceChain:    req.SourceChain,
		TargetChain:    req.TargetChain,
		RecordType:     req.RecordType,
		Status:         models.ProofStatusSubmitted,
		SubmitterOrgID: caller.OrgID,
		ExpiresAt:      s.now().Add(s.cfg.ProofValidity),
	}

	var existing *models.Proof
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.findByKey(tx, req)
		if err != nil {
			return err
		}
		if found != nil {
			existing = found
			return ErrAlreadySubmitted
		}

		set, err := s.latestSet(tx)
		if err != nil {
			return err
		}
		if len(set.Members) < set.Threshold || set.Threshold < 1 {
			return invalidf("validator set v%d has %d members, quorum needs %d", set.Version, len(set.Members), set.Threshold)
		}
		proof.ValidatorSetVersion = set.Version
		proof.EligibleCount = len(set.Members)
		proof.RequiredCount = set.Threshold

		if err := tx.Create(proof).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadySubmitted
			}
			return fmt.Errorf("failed to create proof: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrAlreadySubmitted) {
		if existing == nil {
			// lost an insert race; the winner has committed by now
			if existing, err = s.findByKey(s.db.WithContext(ctx), req); err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, fmt.Errorf("%w: proof for %s", ErrConcurrentModification, req.DataHash)
			}
		}
		return existing, fmt.Errorf("%w: proof %s", ErrAlreadySubmitted, existing.ID)
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"proof_id":      proof.ID,
		"target_chain":  proof.TargetChain,
		"validator_set": proof.ValidatorSetVersion,
		"required":      proof.RequiredCount,
	}).Info("Proof submitted")
	appendAudit(s.trail, "proof.submit", "proof", proof.ID.String(), caller.OrgID, map[string]interface{}{
		"data_hash":    proof.DataHash,
		"target_chain": proof.TargetChain,
	})
	s.metrics.ObserveProof(models.ProofStatusSubmitted)
	return proof, nil
}

func (s *BridgeService) findByKey(tx *gorm.DB, req *SubmitProofRequest) (*models.Proof, error) {
	var proofs []models.Proof
	err := tx.Where("data_hash = ? AND source_chain = ? AND target_chain = ?",
		req.DataHash, req.SourceChain, req.TargetChain).Limit(1).Find(&proofs).Error
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if len(proofs) == 0 {
		return nil, nil
	}
	return &proofs[0], nil
}

func (s *BridgeService) latestSet(tx *gorm.DB) (*models.ValidatorSet, error) {
	var set models.ValidatorSet
	result := tx.Order("version DESC").Limit(1).Find(&set)
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, invalidf("no validator set registered")
	}
	return &set, nil
}

// quorumStatus derives the status from the counters. A proof is rejected
// once approval can no longer reach the required count.
func quorumStatus(p *models.Proof) models.ProofStatus {
	switch {
	case p.ApproveCount >= p.RequiredCount:
		return models.ProofStatusValidated
	case p.RejectCount > p.EligibleCount-p.RequiredCount:
		return models.ProofStatusRejected
	case p.ReceivedCount > 0:
		return models.ProofStatusPending
	default:
		return models.ProofStatusSubmitted
	}
}

// Validate records one validator vote and recomputes the proof status.
func (s *BridgeService) Validate(ctx context.Context, caller policy.Caller, proofID uuid.UUID, req *VoteRequest) (*models.Proof, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}

	var (
		proof   *models.Proof
		expired bool
		queued  []models.IntegrationEvent
		err     error
	)
	for attempt := 0; attempt < maxVoteAttempts; attempt++ {
		proof, expired, queued, err = s.castVote(ctx, proofID, req)
		if !errors.Is(err, errVoteRace) {
			break
		}
	}
	if errors.Is(err, errVoteRace) {
		return nil, fmt.Errorf("%w: proof %s", ErrConcurrentModification, proofID)
	}
	if err != nil {
		if errors.Is(err, ErrDuplicateVote) || errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrUnknownValidator) {
			s.metrics.ObserveVote("refused")
		}
		return nil, err
	}

	if expired {
		s.finalized(ctx, proof, caller.OrgID, queued)
		return proof, fmt.Errorf("%w: proof %s expired at %s", ErrProofExpired, proof.ID, proof.ExpiresAt.Format(time.RFC3339))
	}

	outcome := "reject"
	if *req.Approved {
		outcome = "approve"
	}
	s.metrics.ObserveVote(outcome)

	logrus.WithFields(logrus.Fields{
		"proof_id":     proof.ID,
		"validator_id": req.ValidatorID,
		"approved":     *req.Approved,
		"status":       proof.Status,
		"received":     proof.ReceivedCount,
	}).Info("Proof vote recorded")
	appendAudit(s.trail, "proof.vote", "proof", proof.ID.String(), caller.OrgID, map[string]interface{}{
		"validator_id": req.ValidatorID,
		"approved":     *req.Approved,
		"status":       string(proof.Status),
	})

	if proof.Status.Final() {
		s.finalized(ctx, proof, caller.OrgID, queued)
	}
	return proof, nil
}

func (s *BridgeService) castVote(ctx context.Context, proofID uuid.UUID, req *VoteRequest) (*models.Proof, bool, []models.IntegrationEvent, error) {
	var (
		proof  models.Proof
		queued []models.IntegrationEvent
	)
	expired := false
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&proof, "id = ?", proofID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("proof", proofID)
			}
			return fmt.Errorf("database error: %w", err)
		}
		if proof.Status.Final() {
			return fmt.Errorf("%w: proof %s is %s", ErrProofFinalized, proof.ID, proof.Status)
		}
		if !now.Before(proof.ExpiresAt) {
			var err error
			if queued, err = s.markExpired(tx, &proof, now); err != nil {
				return err
			}
			expired = true
			return nil
		}

		var set models.ValidatorSet
		if err := tx.First(&set, "version = ?", proof.ValidatorSetVersion).Error; err != nil {
			return fmt.Errorf("failed to load validator set v%d: %w", proof.ValidatorSetVersion, err)
		}
		pubHex, ok := set.Members[req.ValidatorID]
		if !ok {
			return fmt.Errorf("%w: %s is not in validator set v%d", ErrUnknownValidator, req.ValidatorID, set.Version)
		}

		var voted int64
		if err := tx.Model(&models.ProofVote{}).
			Where("proof_id = ? AND validator_id = ?", proof.ID, req.ValidatorID).
			Count(&voted).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if voted > 0 {
			return fmt.Errorf("%w: %s on proof %s", ErrDuplicateVote, req.ValidatorID, proof.ID)
		}

		if err := verifyVote(pubHex, req.Signature, proof.SignedMessage(*req.Approved)); err != nil {
			return err
		}

		vote := &models.ProofVote{
			ProofID:     proof.ID,
			ValidatorID: req.ValidatorID,
			Approved:    *req.Approved,
			Signature:   req.Signature,
		}
		if err := tx.Create(vote).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s on proof %s", ErrDuplicateVote, req.ValidatorID, proof.ID)
			}
			return fmt.Errorf("failed to store vote: %w", err)
		}

		previous := proof.ReceivedCount
		proof.ReceivedCount++
		if *req.Approved {
			proof.ApproveCount++
		} else {
			proof.RejectCount++
		}
		proof.Status = quorumStatus(&proof)
		fields := map[string]interface{}{
			"received_count": proof.ReceivedCount,
			"approve_count":  proof.ApproveCount,
			"reject_count":   proof.RejectCount,
			"status":         proof.Status,
			"updated_at":     now,
		}
		if proof.Status.Final() {
			proof.FinalizedAt = &now
			fields["finalized_at"] = now
		}

		result := tx.Model(&models.Proof{}).
			Where("id = ? AND received_count = ?", proof.ID, previous).
			Updates(fields)
		if result.Error != nil {
			return fmt.Errorf("failed to update proof: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errVoteRace
		}
		if proof.Status.Final() {
			var err error
			queued, err = s.queueNotifications(tx, &proof)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, false, nil, err
	}
	return &proof, expired, queued, nil
}

func verifyVote(pubHex, sigHex string, message []byte) error {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed validator key", ErrInvalidSignature)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// markExpired moves an open proof to EXPIRED and queues its notifications in
// the same transaction.
func (s *BridgeService) markExpired(tx *gorm.DB, proof *models.Proof, now time.Time) ([]models.IntegrationEvent, error) {
	result := tx.Model(&models.Proof{}).
		Where("id = ? AND status IN ?", proof.ID, []models.ProofStatus{models.ProofStatusSubmitted, models.ProofStatusPending}).
		Updates(map[string]interface{}{
			"status":       models.ProofStatusExpired,
			"finalized_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to expire proof: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errVoteRace
	}
	proof.Status = models.ProofStatusExpired
	proof.FinalizedAt = &now
	return s.queueNotifications(tx, proof)
}

func (s *BridgeService) queueNotifications(tx *gorm.DB, proof *models.Proof) ([]models.IntegrationEvent, error) {
	if s.notifier == nil {
		return nil, nil
	}
	events, err := s.notifier.QueueFinalized(tx, proof)
	if err != nil {
		return nil, fmt.Errorf("failed to queue proof notification: %w", err)
	}
	return events, nil
}

// finalized runs after the terminal status has committed.
func (s *BridgeService) finalized(ctx context.Context, proof *models.Proof, actor string, queued []models.IntegrationEvent) {
	s.metrics.ObserveProof(proof.Status)
	logrus.WithFields(logrus.Fields{
		"proof_id": proof.ID,
		"status":   proof.Status,
		"approve":  proof.ApproveCount,
		"reject":   proof.RejectCount,
	}).Info("Proof finalized")
	appendAudit(s.trail, "proof.finalize", "proof", proof.ID.String(), actor, map[string]interface{}{
		"status": string(proof.Status),
	})

	if s.notifier != nil && len(queued) > 0 {
		s.notifier.Deliver(ctx, queued)
	}
}

func (s *BridgeService) GetProof(ctx context.Context, proofID uuid.UUID) (*models.Proof, error) {
	var proof models.Proof
	err := s.db.WithContext(ctx).
		Preload("Votes", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&proof, "id = ?", proofID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("proof", proofID)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &proof, nil
}

// ExpireStale moves every open proof past its deadline to EXPIRED and
// returns how many were moved.
func (s *BridgeService) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	var stale []models.Proof
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?", []models.ProofStatus{models.ProofStatusSubmitted, models.ProofStatusPending}, now).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("failed to find stale proofs: %w", err)
	}

	expired := 0
	for i := range stale {
		proof := &stale[i]
		var queued []models.IntegrationEvent
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			queued, err = s.markExpired(tx, proof, now)
			return err
		})
		if errors.Is(err, errVoteRace) {
			// a vote finalized it first
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
		s.finalized(ctx, proof, "", queued)
	}

	if expired > 0 {
		logrus.WithField("count", expired).Info("Expired stale proofs")
	}
	return expired, nil
}

func (s *BridgeService) RegisterValidator(ctx context.Context, caller policy.Caller, req *RegisterValidatorRequest) (*models.Validator, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	if !policy.HasCapability(caller, models.CapabilityPlatformAdmin) {
		return nil, accessDenied("validator registry requires platform_admin")
	}

	validator := &models.Validator{
		ValidatorID: req.ValidatorID,
		OrgID:       req.OrgID,
		PublicKey:   req.PublicKey,
		Active:      true,
		StakeWeight: req.StakeWeight,
	}
	var set *models.ValidatorSet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Validator{}).Where("validator_id = ?", req.ValidatorID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: validator %s", ErrAlreadyExists, req.ValidatorID)
		}
		if err := tx.Create(validator).Error; err != nil {
			return fmt.Errorf("failed to create validator: %w", err)
		}
		var err error
		set, err = s.writeSnapshot(tx, "register "+req.ValidatorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"validator_id": validator.ValidatorID,
		"set_version":  set.Version,
	}).Info("Validator registered")
	appendAudit(s.trail, "validator.register", "validator", validator.ValidatorID, caller.OrgID, map[string]interface{}{
		"set_version": set.Version,
	})
	return validator, nil
}

func (s *BridgeService) DeactivateValidator(ctx context.Context, caller policy.Caller, validatorID string) (*models.ValidatorSet, error) {
	if !policy.HasCapability(caller, models.CapabilityPlatformAdmin) {
		return nil, accessDenied("validator registry requires platform_admin")
	}

	var set *models.ValidatorSet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Validator{}).
			Where("validator_id = ? AND active = ?", validatorID, true).
			Updates(map[string]interface{}{"active": false, "updated_at": s.now()})
		if result.Error != nil {
			return fmt.Errorf("failed to deactivate validator: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFound("active validator", validatorID)
		}
		var err error
		set, err = s.writeSnapshot(tx, "deactivate "+validatorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	appendAudit(s.trail, "validator.deactivate", "validator", validatorID, caller.OrgID, map[string]interface{}{
		"set_version": set.Version,
	})
	return set, nil
}

// writeSnapshot stores the current active roster as a new immutable version.
func (s *BridgeService) writeSnapshot(tx *gorm.DB, reason string) (*models.ValidatorSet, error) {
	var active []models.Validator
	if err := tx.Where("active = ?", true).Find(&active).Error; err != nil {
		return nil, fmt.Errorf("failed to load validators: %w", err)
	}
	members := make(models.ValidatorMembers, len(active))
	for _, v := range active {
		members[v.ValidatorID] = v.PublicKey
	}
	set := &models.ValidatorSet{
		Members:   members,
		Threshold: s.cfg.QuorumThreshold,
		Reason:    reason,
	}
	if err := tx.Create(set).Error; err != nil {
		return nil, fmt.Errorf("failed to write validator set: %w", err)
	}
	return set, nil
}

func (s *BridgeService) ListValidators(ctx context.Context, activeOnly bool) ([]models.Validator, error) {
	query := s.db.WithContext(ctx).Order("validator_id ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var validators []models.Validator
	if err := query.Find(&validators).Error; err != nil {
		return nil, fmt.Errorf("failed to list validators: %w", err)
	}
	return validators, nil
}

func (s *BridgeService) CurrentValidatorSet(ctx context.Context) (*models.ValidatorSet, error) {
	set, err := s.latestSet(s.db.WithContext(ctx))
	if errors.Is(err, ErrValidationFailed) {
		return nil, notFound("validator set", "current")
	}
	return set, err
}
