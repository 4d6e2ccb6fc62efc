// internal/models/organization.go
package models

import (
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Organization is a trust-domain participant. Its role set is written once
// at registration; no operation updates it afterwards.
type Organization struct {
	ID           string         `json:"id" gorm:"primaryKey;size:64"`
	Name         string         `json:"name" gorm:"size:255;not null"`
	Roles        pq.StringArray `json:"roles" gorm:"type:text[];not null"`
	Capabilities pq.StringArray `json:"capabilities" gorm:"type:text[]"`
	PublicKey    string         `json:"public_key" gorm:"size:128"`
	TokenAddress string         `json:"token_address" gorm:"size:42;index"`
	APIKeyHash   string         `json:"-" gorm:"size:255;not null"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (o *Organization) SetAPIKey(key string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	o.APIKeyHash = string(hashed)
	return nil
}

func (o *Organization) CheckAPIKey(key string) error {
	return bcrypt.CompareHashAndPassword([]byte(o.APIKeyHash), []byte(key))
}

func (o *Organization) RoleSet() []Role {
	roles := make([]Role, 0, len(o.Roles))
	for _, r := range o.Roles {
		roles = append(roles, Role(r))
	}
	return roles
}

func (o *Organization) CapabilitySet() []Capability {
	caps := make([]Capability, 0, len(o.Capabilities))
	for _, c := range o.Capabilities {
		caps = append(caps, Capability(c))
	}
	return caps
}
