// Package quota tracks per-owner daily request budgets. The ceiling lives
// on the owner row; the per-day counter lives in Redis.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pool_gateway/internal/models"
)

// ErrQuotaExhausted is returned when an owner has used today's budget
var ErrQuotaExhausted = errors.New("daily quota exhausted")

// counterTTL keeps a day's counter around long enough to survive the
// date boundary in any timezone.
const counterTTL = 48 * time.Hour

// OwnerStore is the owner persistence the ledger needs
type OwnerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Owner, error)
	AdjustCeiling(ctx context.Context, id uuid.UUID, delta, floor int) (int, error)
}

// Usage is an owner's position against today's ceiling
type Usage struct {
	Used    int `json:"used"`
	Ceiling int `json:"ceiling"`
}

// Remaining returns how many requests are left today
func (u Usage) Remaining() int {
	if u.Used >= u.Ceiling {
		return 0
	}
	return u.Ceiling - u.Used
}

// Ledger checks and counts daily usage and adjusts ceilings
type Ledger struct {
	client *redis.Client
	owners OwnerStore
	now    func() time.Time
}

// NewLedger creates a new quota ledger
func NewLedger(client *redis.Client, owners OwnerStore) *Ledger {
	return &Ledger{client: client, owners: owners, now: time.Now}
}

func (l *Ledger) counterKey(ownerID uuid.UUID) string {
	return fmt.Sprintf("quota:%s:%s", ownerID, l.now().UTC().Format("20060102"))
}

// CheckAndCount takes one unit of today's budget. When the budget is
// already spent the unit is given back and ErrQuotaExhausted is returned.
func (l *Ledger) CheckAndCount(ctx context.Context, ownerID uuid.UUID) (Usage, error) {
	owner, err := l.owners.GetByID(ctx, ownerID)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to load owner: %w", err)
	}

	key := l.counterKey(ownerID)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{}, fmt.Errorf("failed to count request: %w", err)
	}

	used := int(incr.Val())
	if used > owner.DailyQuota {
		if err := l.client.Decr(ctx, key).Err(); err != nil {
			return Usage{}, fmt.Errorf("failed to release quota unit: %w", err)
		}
		return Usage{Used: used - 1, Ceiling: owner.DailyQuota}, ErrQuotaExhausted
	}

	return Usage{Used: used, Ceiling: owner.DailyQuota}, nil
}

// Refund gives back a unit taken by CheckAndCount for a request that never
// reached an upstream.
func (l *Ledger) Refund(ctx context.Context, ownerID uuid.UUID) error {
	key := l.counterKey(ownerID)
	n, err := l.client.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to refund quota unit: %w", err)
	}
	if n < 0 {
		return l.client.Set(ctx, key, 0, counterTTL).Err()
	}
	return nil
}

// Used reports today's usage without counting a request
func (l *Ledger) Used(ctx context.Context, ownerID uuid.UUID) (Usage, error) {
	owner, err := l.owners.GetByID(ctx, ownerID)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to load owner: %w", err)
	}

	used, err := l.client.Get(ctx, l.counterKey(ownerID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, fmt.Errorf("failed to read quota counter: %w", err)
	}

	return Usage{Used: used, Ceiling: owner.DailyQuota}, nil
}

// AdjustCeiling moves the owner's standing ceiling by delta, never below floor
func (l *Ledger) AdjustCeiling(ctx context.Context, ownerID uuid.UUID, delta, floor int) (int, error) {
	return l.owners.AdjustCeiling(ctx, ownerID, delta, floor)
}
