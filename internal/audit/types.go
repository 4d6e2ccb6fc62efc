// internal/audit/types.go
package audit

import "time"

// Event is one state change on a core resource.
type Event struct {
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	ActorOrgID   string                 `json:"actor_org_id"`
	Timestamp    time.Time              `json:"timestamp"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Record chains an Event to its predecessor.
type Record struct {
	Index    int64  `json:"index"`
	Event    Event  `json:"event"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// RootRecord is the Merkle root over a closed batch of record hashes.
type RootRecord struct {
	FromIndex int64     `json:"from_index"`
	ToIndex   int64     `json:"to_index"`
	RootHash  string    `json:"root_hash"`
	CreatedAt time.Time `json:"created_at"`
}

type VerifyReport struct {
	OK           bool     `json:"ok"`
	Total        int64    `json:"total"`
	LastIndex    int64    `json:"last_index"`
	LastHash     string   `json:"last_hash"`
	RootsChecked int      `json:"roots_checked"`
	Errors       []string `json:"errors,omitempty"`
}
