package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capability is the upstream family a credential can serve.
type Capability string

const (
	// CapabilityAny places no constraint on the credential.
	CapabilityAny    Capability = ""
	CapabilityClaude Capability = "claude"
	CapabilityGemini Capability = "gemini"
)

// CapabilityFor infers the required capability from a model name by a
// case-insensitive keyword match.
func CapabilityFor(model string) Capability {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, string(CapabilityClaude)):
		return CapabilityClaude
	case strings.Contains(m, string(CapabilityGemini)):
		return CapabilityGemini
	default:
		return CapabilityAny
	}
}

// MaxLastErrorLength bounds the diagnostic stored on a credential.
const MaxLastErrorLength = 500

// Credential is a donated upstream secret and its health bookkeeping.
// EncryptedSecret is the sealed bundle; plaintext never leaves the pool.
type Credential struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	OwnerID         uuid.UUID  `db:"owner_id" json:"owner_id"`
	EncryptedSecret string     `db:"encrypted_secret" json:"-"`
	Email           *string    `db:"email" json:"email,omitempty"`
	ProjectID       string     `db:"project_id" json:"project_id"`
	SupportsClaude  bool       `db:"supports_claude" json:"supports_claude"`
	SupportsGemini  bool       `db:"supports_gemini" json:"supports_gemini"`
	IsPublic        bool       `db:"is_public" json:"is_public"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	RewardGranted   bool       `db:"reward_granted" json:"reward_granted"`
	SuccessCount    int64      `db:"success_count" json:"success_count"`
	FailureCount    int64      `db:"failure_count" json:"failure_count"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	LastUsed        *time.Time `db:"last_used" json:"last_used,omitempty"`
	Version         int64      `db:"version" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Supports reports whether the credential satisfies a capability.
func (c *Credential) Supports(capability Capability) bool {
	switch capability {
	case CapabilityClaude:
		return c.SupportsClaude
	case CapabilityGemini:
		return c.SupportsGemini
	default:
		return true
	}
}

// Selectable reports whether the pool may hand this credential out.
func (c *Credential) Selectable(capability Capability) bool {
	return c.IsActive && c.Supports(capability)
}

// PoolStats summarizes the public pool.
type PoolStats struct {
	Total   int `db:"total" json:"total"`
	Valid   int `db:"valid" json:"valid"`
	Invalid int `db:"-" json:"invalid"`
	Claude  int `db:"claude" json:"claude"`
	Gemini  int `db:"gemini" json:"gemini"`
}
