package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pool_gateway/internal/models"
)

// cachedOwner is an owner snapshot held by the request-path cache
type cachedOwner struct {
	owner *models.Owner
}

// OwnerRepository handles owner database operations
type OwnerRepository struct {
	db *DB
}

// NewOwnerRepository creates a new owner repository
func NewOwnerRepository(db *DB) *OwnerRepository {
	return &OwnerRepository{db: db}
}

// Create inserts a new owner
func (r *OwnerRepository) Create(ctx context.Context, owner *models.Owner) error {
	if owner.ID == uuid.Nil {
		owner.ID = uuid.New()
	}
	now := time.Now().UTC()
	owner.CreatedAt = now
	owner.UpdatedAt = now

	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO owners (id, name, daily_quota, is_admin, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), owner.ID, owner.Name, owner.DailyQuota, owner.IsAdmin, owner.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("failed to create owner: %w", err)
	}

	return nil
}

// GetByID retrieves an owner, consulting the cache first
func (r *OwnerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Owner, error) {
	key := id.String()
	if cached, ok := r.db.ownerCache.Get(key); ok {
		return cached.owner, nil
	}

	var owner models.Owner
	err := r.db.conn.GetContext(ctx, &owner, r.db.rebind(`
		SELECT id, name, daily_quota, is_admin, is_active, created_at, updated_at
		FROM owners
		WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}

	r.db.ownerCache.Set(key, &cachedOwner{owner: &owner})
	return &owner, nil
}

// AdjustCeiling adds delta to the owner's quota ceiling without letting it
// fall below floor, and returns the new ceiling. The arithmetic runs in one
// statement so concurrent adjustments compose.
func (r *OwnerRepository) AdjustCeiling(ctx context.Context, id uuid.UUID, delta, floor int) (int, error) {
	var ceiling int
	err := r.db.conn.GetContext(ctx, &ceiling, r.db.rebind(`
		UPDATE owners
		SET daily_quota = CASE
				WHEN daily_quota + CAST(? AS INTEGER) < CAST(? AS INTEGER) THEN CAST(? AS INTEGER)
				ELSE daily_quota + CAST(? AS INTEGER)
			END,
			updated_at = ?
		WHERE id = ?
		RETURNING daily_quota
	`), delta, floor, floor, delta, time.Now().UTC(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrOwnerNotFound
		}
		return 0, fmt.Errorf("failed to adjust quota ceiling: %w", err)
	}

	r.db.ownerCache.Delete(id.String())
	return ceiling, nil
}

// Count returns the number of owners
func (r *OwnerRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM owners`); err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return n, nil
}

// Invalidate drops a cached owner snapshot
func (r *OwnerRepository) Invalidate(id uuid.UUID) {
	r.db.ownerCache.Delete(id.String())
}
