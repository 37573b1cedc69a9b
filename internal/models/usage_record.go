package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageOutcome is the state of a request attempt when its record is written.
type UsageOutcome string

const (
	// OutcomeAttempted is written before the upstream call; usage is
	// attributed on attempt, not on success.
	OutcomeAttempted UsageOutcome = "attempted"
)

// UsageRecord is an append-only fact for one request attempt.
type UsageRecord struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	OwnerID      uuid.UUID    `db:"owner_id" json:"owner_id"`
	CredentialID uuid.UUID    `db:"credential_id" json:"credential_id"`
	RequestID    string       `db:"request_id" json:"request_id"`
	Model        string       `db:"model" json:"model"`
	Provider     string       `db:"provider" json:"provider"`
	Outcome      UsageOutcome `db:"outcome" json:"outcome"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}
