// internal/models/token.go
package models

import (
	"time"
)

type TokenAccount struct {
	Address       string    `json:"address" gorm:"primaryKey;size:42"`
	Balance       Amount    `json:"balance" gorm:"type:varchar(80);not null"`
	RewardsEarned Amount    `json:"rewards_earned" gorm:"type:varchar(80);not null"`
	TotalSpent    Amount    `json:"total_spent" gorm:"type:varchar(80);not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TokenSupply is a single row holding the ledger-wide totals. Burns reach
// it through PendingBurn, so the row may lag committed pays until the next
// settlement.
type TokenSupply struct {
	ID          uint      `json:"-" gorm:"primaryKey"`
	TotalSupply Amount    `json:"total_supply" gorm:"type:varchar(80);not null"`
	MaxSupply   Amount    `json:"max_supply" gorm:"type:varchar(80);not null"`
	TotalBurned Amount    `json:"total_burned" gorm:"type:varchar(80);not null"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PendingBurn is a burn already debited from its account but not yet folded
// into TokenSupply. Pays append here instead of locking the supply row.
type PendingBurn struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Amount    Amount    `gorm:"type:varchar(80);not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type TokenTransaction struct {
	ID           uint                 `json:"id" gorm:"primaryKey;autoIncrement"`
	Address      string               `json:"address" gorm:"size:42;not null;index"`
	Kind         TokenTransactionKind `json:"kind" gorm:"type:varchar(16);not null;index"`
	Amount       Amount               `json:"amount" gorm:"type:varchar(80);not null"`
	Reason       string               `json:"reason" gorm:"size:255"`
	ActorOrgID   string               `json:"actor_org_id" gorm:"size:64"`
	BalanceAfter Amount               `json:"balance_after" gorm:"type:varchar(80);not null"`
	CreatedAt    time.Time            `json:"created_at" gorm:"index"`
}

// TokenCheckpoint records an account balance after each change and backs
// historical vote-weight lookups.
type TokenCheckpoint struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Address   string    `json:"address" gorm:"size:42;not null;index:idx_checkpoint_address_at"`
	Balance   Amount    `json:"balance" gorm:"type:varchar(80);not null"`
	At        time.Time `json:"at" gorm:"not null;index:idx_checkpoint_address_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TopUp tracks a fiat payment that is credited to a token account once.
type TopUp struct {
	PaymentIntentID string      `json:"payment_intent_id" gorm:"primaryKey;size:255"`
	OrgID           string      `json:"org_id" gorm:"size:64;not null;index"`
	Address         string      `json:"address" gorm:"size:42;not null"`
	Tokens          int64       `json:"tokens" gorm:"not null"`
	AmountCents     int64       `json:"amount_cents" gorm:"not null"`
	Currency        string      `json:"currency" gorm:"size:8;not null"`
	Status          TopUpStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	CreditedAt      *time.Time  `json:"credited_at"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
