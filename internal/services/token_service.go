// internal/services/token_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/healthledger/attestation-service/internal/config"
	"github.com/healthledger/attestation-service/internal/models"
	"github.com/healthledger/attestation-service/internal/policy"
	"github.com/healthledger/attestation-service/internal/utils"
)

const (
	supplyRowID = 1
	// pending burns folded per query during settlement
	settleBatch = 1000
)

// MintAuthority credits tokens inside a caller-owned transaction. Only
// components acting for a rewards authority are handed one.
type MintAuthority interface {
	MintInTx(tx *gorm.DB, actorOrgID, address string, amount models.Amount, reason string) (*models.TokenAccount, error)
}

// PaymentBurner debits and burns tokens inside a caller-owned transaction.
type PaymentBurner interface {
	BurnInTx(tx *gorm.DB, actorOrgID, address string, amount models.Amount, reason string) (*models.TokenAccount, error)
}

type TokenService struct {
	db        *gorm.DB
	maxSupply models.Amount
	trail     AuditTrail
	metrics   *MetricsService
	now       func() time.Time
}

type RewardRequest struct {
	Address string        `json:"address" validate:"required,eth_addr"`
	Amount  models.Amount `json:"amount"`
	Reason  string        `json:"reason" validate:"max=255"`
}

type BulkRewardRequest struct {
	Rewards []RewardRequest `json:"rewards" validate:"required,min=1,max=500,dive"`
}

type PayRequest struct {
	Address string        `json:"address" validate:"required,eth_addr"`
	Amount  models.Amount `json:"amount"`
	Reason  string        `json:"reason" validate:"max=255"`
}

type BulkRewardResult struct {
	Accounts    []models.TokenAccount `json:"accounts"`
	TotalMinted models.Amount         `json:"total_minted"`
}

func NewTokenService(db *gorm.DB, cfg config.TokenConfig, trail AuditTrail, metrics *MetricsService) *TokenService {
	return &TokenService{
		db:        db,
		maxSupply: models.TokenUnits(cfg.MaxSupplyTokens),
		trail:     trail,
		metrics:   metrics,
		now:       time.Now,
	}
}

func positive(a models.Amount) error {
	if a.Sign() <= 0 {
		return invalidf("amount must be greater than zero")
	}
	return nil
}

// Reward mints amount to address. The caller must hold rewards_authority.
func (s *TokenService) Reward(ctx context.Context, caller policy.Caller, req *RewardRequest) (*models.TokenAccount, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	if err := positive(req.Amount); err != nil {
		return nil, err
	}
	if !policy.HasCapability(caller, models.CapabilityRewardsAuthority) {
		return nil, accessDenied("reward requires rewards_authority")
	}

	var account *models.TokenAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.MintInTx(tx, caller.OrgID, req.Address, req.Amount, req.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveToken(models.TokenTransactionReward)
	appendAudit(s.trail, "token.reward", "token_account", req.Address, caller.OrgID, map[string]interface{}{
		"amount": req.Amount.String(),
		"reason": req.Reason,
	})
	return account, nil
}

// BulkReward mints every entry or none of them.
func (s *TokenService) BulkReward(ctx context.Context, caller policy.Caller, req *BulkRewardRequest) (*BulkRewardResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	if !policy.HasCapability(caller, models.CapabilityRewardsAuthority) {
		return nil, accessDenied("reward requires rewards_authority")
	}
	total := models.NewAmount(0)
	for i, r := range req.Rewards {
		if r.Amount.Sign() <= 0 {
			return nil, invalidf("rewards[%d]: amount must be greater than zero", i)
		}
		total = total.Add(r.Amount)
	}

	result := &BulkRewardResult{TotalMinted: total}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		supply, err := s.lockSupply(tx)
		if err != nil {
			return err
		}
		if supply.TotalSupply.Add(total).Cmp(supply.MaxSupply) > 0 {
			return fmt.Errorf("%w: batch of %s exceeds remaining supply", ErrSupplyExceeded, total)
		}
		for _, r := range req.Rewards {
			account, err := s.MintInTx(tx, caller.OrgID, r.Address, r.Amount, r.Reason)
			if err != nil {
				return err
			}
			result.Accounts = append(result.Accounts, *account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"count": len(req.Rewards),
		"total": total.String(),
		"actor": caller.OrgID,
	}).Info("Bulk reward minted")
	s.metrics.ObserveToken(models.TokenTransactionReward)
	appendAudit(s.trail, "token.bulk_reward", "token_supply", "supply", caller.OrgID, map[string]interface{}{
		"count": len(req.Rewards),
		"total": total.String(),
	})
	return result, nil
}

// Pay debits and burns amount from address. The caller must hold
// marketplace_authority.
func (s *TokenService) Pay(ctx context.Context, caller policy.Caller, req *PayRequest) (*models.TokenAccount, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, invalid(err)
	}
	if err := positive(req.Amount); err != nil {
		return nil, err
	}
	if !policy.HasCapability(caller, models.CapabilityMarketplaceAuthority) {
		return nil, accessDenied("pay requires marketplace_authority")
	}

	var account *models.TokenAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.BurnInTx(tx, caller.OrgID, req.Address, req.Amount, req.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveToken(models.TokenTransactionBurn)
	appendAudit(s.trail, "token.pay", "token_account", req.Address, caller.OrgID, map[string]interface{}{
		"amount": req.Amount.String(),
		"reason": req.Reason,
	})
	return account, nil
}

// lockSupply returns the supply row under a write lock with every committed
// pending burn folded in.
func (s *TokenService) lockSupply(tx *gorm.DB) (*models.TokenSupply, error) {
	supply, err := s.lockSupplyRow(tx)
	if err != nil {
		return nil, err
	}
	if _, err := s.settleBurns(tx, supply); err != nil {
		return nil, err
	}
	return supply, nil
}

// lockSupplyRow locks the supply row, creating it on first use.
func (s *TokenService) lockSupplyRow(tx *gorm.DB) (*models.TokenSupply, error) {
	seed := models.TokenSupply{
		ID:          supplyRowID,
		TotalSupply: models.NewAmount(0),
		MaxSupply:   s.maxSupply,
		TotalBurned: models.NewAmount(0),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("failed to initialize supply: %w", err)
	}

	var supply models.TokenSupply
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&supply, "id = ?", supplyRowID).Error; err != nil {
		return nil, fmt.Errorf("failed to lock supply: %w", err)
	}
	return &supply, nil
}

// settleBurns moves pending burns into the locked supply row and deletes
// them. Burns committed while this runs are left for the next settlement.
func (s *TokenService) settleBurns(tx *gorm.DB, supply *models.TokenSupply) (int, error) {
	settled := 0
	for {
		var burns []models.PendingBurn
		if err := tx.Order("id ASC").Limit(settleBatch).Find(&burns).Error; err != nil {
			return settled, fmt.Errorf("failed to read pending burns: %w", err)
		}
		if len(burns) == 0 {
			return settled, nil
		}

		total := models.NewAmount(0)
		ids := make([]uint, 0, len(burns))
		for _, b := range burns {
			total = total.Add(b.Amount)
			ids = append(ids, b.ID)
		}
		supply.TotalSupply = supply.TotalSupply.Sub(total)
		supply.TotalBurned = supply.TotalBurned.Add(total)

		if err := tx.Model(&models.TokenSupply{}).Where("id = ?", supplyRowID).Updates(map[string]interface{}{
			"total_supply": supply.TotalSupply,
			"total_burned": supply.TotalBurned,
			"updated_at":   s.now(),
		}).Error; err != nil {
			return settled, fmt.Errorf("failed to update supply: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.PendingBurn{}).Error; err != nil {
			return settled, fmt.Errorf("failed to clear pending burns: %w", err)
		}
		settled += len(burns)
		if len(burns) < settleBatch {
			return settled, nil
		}
	}
}

// SettleBurns folds pending burns into the supply row. Mints settle as a side
// effect; the scheduler calls this so the row stays current between mints.
func (s *TokenService) SettleBurns(ctx context.Context) (int, error) {
	settled := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		supply, err := s.lockSupplyRow(tx)
		if err != nil {
			return err
		}
		settled, err = s.settleBurns(tx, supply)
		return err
	})
	return settled, err
}

func (s *TokenService) lockAccount(tx *gorm.DB, address string, create bool) (*models.TokenAccount, error) {
	if create {
		seed := models.TokenAccount{
			Address:       address,
			Balance:       models.NewAmount(0),
			RewardsEarned: models.NewAmount(0),
			TotalSpent:    models.NewAmount(0),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return nil, fmt.Errorf("failed to open account: %w", err)
		}
	}

	var account models.TokenAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &account, nil
}

func (s *TokenService) MintInTx(tx *gorm.DB, actorOrgID, address string, amount models.Amount, reason string) (*models.TokenAccount, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	supply, err := s.lockSupply(tx)
	if err != nil {
		return nil, err
	}
	newSupply := supply.TotalSupply.Add(amount)
	if newSupply.Cmp(supply.MaxSupply) > 0 {
		return nil, fmt.Errorf("%w: minting %s would exceed %s", ErrSupplyExceeded, amount, supply.MaxSupply)
	}

	account, err := s.lockAccount(tx, address, true)
	if err != nil {
		return nil, err
	}
	account.Balance = account.Balance.Add(amount)
	account.RewardsEarned = account.RewardsEarned.Add(amount)

	now := s.now()
	if err := tx.Model(&models.TokenAccount{}).Where("address = ?", address).Updates(map[string]interface{}{
		"balance":        account.Balance,
		"rewards_earned": account.RewardsEarned,
		"updated_at":     now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}
	if err := tx.Model(&models.TokenSupply{}).Where("id = ?", supplyRowID).Updates(map[string]interface{}{
		"total_supply": newSupply,
		"updated_at":   now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update supply: %w", err)
	}

	if err := s.record(tx, models.TokenTransactionReward, actorOrgID, account, amount, reason, now); err != nil {
		return nil, err
	}
	return account, nil
}

// BurnInTx debits address and records the burn as pending. Only the
// account row is locked, so pays on different accounts do not wait on each
// other.
func (s *TokenService) BurnInTx(tx *gorm.DB, actorOrgID, address string, amount models.Amount, reason string) (*models.TokenAccount, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	account, err := s.lockAccount(tx, address, false)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s cannot cover %s", ErrInsufficientBalance, address, amount)
	}
	account.Balance = account.Balance.Sub(amount)
	account.TotalSpent = account.TotalSpent.Add(amount)

	now := s.now()
	if err := tx.Model(&models.TokenAccount{}).Where("address = ?", address).Updates(map[string]interface{}{
		"balance":     account.Balance,
		"total_spent": account.TotalSpent,
		"updated_at":  now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}
	if err := tx.Create(&models.PendingBurn{Amount: amount, CreatedAt: now}).Error; err != nil {
		return nil, fmt.Errorf("failed to record burn: %w", err)
	}

	if err := s.record(tx, models.TokenTransactionBurn, actorOrgID, account, amount, reason, now); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *TokenService) record(tx *gorm.DB, kind models.TokenTransactionKind, actor string, account *models.TokenAccount, amount models.Amount, reason string, at time.Time) error {
	if err := tx.Create(&models.TokenTransaction{
		Address:      account.Address,
		Kind:         kind,
		Amount:       amount,
		Reason:       reason,
		ActorOrgID:   actor,
		BalanceAfter: account.Balance,
	}).Error; err != nil {
		return fmt.Errorf("failed to record %s: %w", kind, err)
	}
	return tx.Create(&models.TokenCheckpoint{
		Address: account.Address,
		Balance: account.Balance,
		At:      at,
	}).Error
}

// Balance returns the account, or an empty one for an address never credited.
func (s *TokenService) Balance(ctx context.Context, address string) (*models.TokenAccount, error) {
	var accounts []models.TokenAccount
	if err := s.db.WithContext(ctx).Where("address = ?", address).Limit(1).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if len(accounts) == 0 {
		return &models.TokenAccount{
			Address:       address,
			Balance:       models.NewAmount(0),
			RewardsEarned: models.NewAmount(0),
			TotalSpent:    models.NewAmount(0),
		}, nil
	}
	return &accounts[0], nil
}

// Supply reports the ledger totals including burns not yet settled.
func (s *TokenService) Supply(ctx context.Context) (*models.TokenSupply, error) {
	supply, found, err := readSupply(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if !found {
		supply.ID = supplyRowID
		supply.MaxSupply = s.maxSupply
	}
	return supply, nil
}

// readSupply loads the supply row without locking it and applies pending
// burns. found is false when nothing has been minted yet.
func readSupply(db *gorm.DB) (*models.TokenSupply, bool, error) {
	supply := &models.TokenSupply{
		TotalSupply: models.NewAmount(0),
		TotalBurned: models.NewAmount(0),
	}
	result := db.Where("id = ?", supplyRowID).Limit(1).Find(supply)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to load supply: %w", result.Error)
	}

	var pending []models.PendingBurn
	if err := db.Find(&pending).Error; err != nil {
		return nil, false, fmt.Errorf("failed to read pending burns: %w", err)
	}
	for _, b := range pending {
		supply.TotalSupply = supply.TotalSupply.Sub(b.Amount)
		supply.TotalBurned = supply.TotalBurned.Add(b.Amount)
	}
	return supply, result.RowsAffected > 0, nil
}

// VotingPowerAt returns the balance address held at time at.
func (s *TokenService) VotingPowerAt(ctx context.Context, address string, at time.Time) (models.Amount, error) {
	var checkpoints []models.TokenCheckpoint
	err := s.db.WithContext(ctx).
		Where("address = ? AND at <= ?", address, at).
		Order("at DESC, id DESC").
		Limit(1).
		Find(&checkpoints).Error
	if err != nil {
		return models.Amount{}, fmt.Errorf("database error: %w", err)
	}
	if len(checkpoints) == 0 {
		return models.NewAmount(0), nil
	}
	return checkpoints[0].Balance, nil
}

func (s *TokenService) Transactions(ctx context.Context, address string, params utils.PaginationParams) (*utils.PaginationResult, error) {
	query := s.db.WithContext(ctx).Model(&models.TokenTransaction{}).Where("address = ?", address)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	var txs []models.TokenTransaction
	if err := utils.ApplyPagination(query.Order("id DESC"), params).Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	result := utils.CreatePaginationResult(txs, total, params)
	return &result, nil
}
