package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pool_gateway/internal/models"
)

// UsageRepository handles usage record database operations
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create inserts a usage record using the repository's connection
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	return r.insert(ctx, r.db.conn, record)
}

// CreateTx inserts a usage record inside an existing transaction
func (r *UsageRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, record *models.UsageRecord) error {
	return r.insert(ctx, tx, record)
}

func (r *UsageRepository) insert(ctx context.Context, exec sqlx.ExtContext, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if record.Outcome == "" {
		record.Outcome = models.OutcomeAttempted
	}

	query := exec.Rebind(`
		INSERT INTO usage_records (id, owner_id, credential_id, request_id, model, provider, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := exec.ExecContext(ctx, query,
		record.ID, record.OwnerID, record.CredentialID, record.RequestID,
		record.Model, record.Provider, record.Outcome, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}

	return nil
}

// CountSince returns the number of attempts an owner made since a point in time
func (r *UsageRepository) CountSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.db.conn.GetContext(ctx, &n, r.db.rebind(`
		SELECT COUNT(*) FROM usage_records WHERE owner_id = ? AND created_at >= ?
	`), ownerID, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return n, nil
}

// CountAllSince returns the number of attempts across all owners since a point in time
func (r *UsageRepository) CountAllSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.conn.GetContext(ctx, &n, r.db.rebind(`
		SELECT COUNT(*) FROM usage_records WHERE created_at >= ?
	`), since.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return n, nil
}

// Count returns the total number of usage records
func (r *UsageRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM usage_records`); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return n, nil
}
