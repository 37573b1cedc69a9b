package models

import (
	"time"

	"github.com/google/uuid"
)

// Owner is a principal that calls the gateway and may donate credentials.
// DailyQuota is the standing ceiling; the per-day counter lives elsewhere.
type Owner struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	DailyQuota int       `db:"daily_quota" json:"daily_quota"`
	IsAdmin    bool      `db:"is_admin" json:"is_admin"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
