// internal/models/proof.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Proof struct {
	BaseModel
	DataHash            string      `json:"data_hash" gorm:"size:64;not null;uniqueIndex:idx_proof_replay"`
	SourceChain         string      `json:"source_chain" gorm:"size:64;not null;uniqueIndex:idx_proof_replay"`
	TargetChain         string      `json:"target_chain" gorm:"size:64;not null;uniqueIndex:idx_proof_replay"`
	RecordType          string      `json:"record_type" gorm:"size:100;not null"`
	Status              ProofStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	SubmitterOrgID      string      `json:"submitter_org_id" gorm:"size:64;not null;index"`
	ValidatorSetVersion uint        `json:"validator_set_version" gorm:"not null"`
	EligibleCount       int         `json:"eligible_count" gorm:"not null"`
	RequiredCount       int         `json:"required_count" gorm:"not null"`
	ReceivedCount       int         `json:"received_count" gorm:"not null"`
	ApproveCount        int         `json:"approve_count" gorm:"not null"`
	RejectCount         int         `json:"reject_count" gorm:"not null"`
	ExpiresAt           time.Time   `json:"expires_at" gorm:"not null;index"`
	FinalizedAt         *time.Time  `json:"finalized_at"`

	Votes []ProofVote `json:"votes,omitempty" gorm:"foreignKey:ProofID"`
}

// SignedMessage is the byte string validators sign for a vote.
func (p *Proof) SignedMessage(approved bool) []byte {
	return VoteMessage(p.ID, p.DataHash, approved)
}

func VoteMessage(proofID uuid.UUID, dataHash string, approved bool) []byte {
	return []byte(fmt.Sprintf("%s|%s|%t", proofID.String(), dataHash, approved))
}

type ProofVote struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ProofID     uuid.UUID `json:"proof_id" gorm:"type:uuid;not null;uniqueIndex:idx_proof_vote"`
	ValidatorID string    `json:"validator_id" gorm:"size:64;not null;uniqueIndex:idx_proof_vote"`
	Approved    bool      `json:"approved"`
	Signature   string    `json:"signature" gorm:"size:128;not null"`
	CreatedAt   time.Time `json:"created_at"`
}

type Validator struct {
	ValidatorID string    `json:"validator_id" gorm:"primaryKey;size:64"`
	OrgID       string    `json:"org_id" gorm:"size:64;not null;index"`
	PublicKey   string    `json:"public_key" gorm:"size:64;not null"`
	Active      bool      `json:"active"`
	StakeWeight int64     `json:"stake_weight"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidatorMembers maps validator id to hex public key.
type ValidatorMembers map[string]string

func (m ValidatorMembers) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *ValidatorMembers) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = ValidatorMembers{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("unsupported validator members source type %T", value)
}

// ValidatorSet is an immutable roster snapshot. Every roster change writes a
// new version; proofs reference the version current at submission.
type ValidatorSet struct {
	Version   uint             `json:"version" gorm:"primaryKey;autoIncrement"`
	Members   ValidatorMembers `json:"members" gorm:"type:jsonb;not null"`
	Threshold int              `json:"threshold" gorm:"not null"`
	Reason    string           `json:"reason" gorm:"size:255"`
	CreatedAt time.Time        `json:"created_at"`
}
