package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pool_gateway/internal/models"
	"pool_gateway/internal/utils"
)

const credentialColumns = `
	id, owner_id, encrypted_secret, email, project_id, supports_claude, supports_gemini,
	is_public, is_active, reward_granted, success_count, failure_count, last_error,
	last_used, version, created_at, updated_at`

// CredentialRepository handles credential database operations. Every
// mutation is a single conditional statement (or a short transaction of
// them) so concurrent requests never lose counter updates.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// EligibilityFilter selects active credentials for the pool.
type EligibilityFilter struct {
	// PublicOnly restricts the search to donated credentials.
	PublicOnly bool
	// OwnerID restricts the search to one owner's credentials.
	OwnerID *uuid.UUID
	// Capability requires the matching support flag.
	Capability models.Capability
}

// Create inserts a new credential. The reward flag always starts cleared;
// granting is a separate transition.
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now
	cred.Version = 1
	cred.RewardGranted = false

	return r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if cred.Email != nil && *cred.Email != "" {
			var n int
			err := tx.GetContext(ctx, &n, tx.Rebind(`
				SELECT COUNT(*) FROM credentials WHERE owner_id = ? AND email = ?
			`), cred.OwnerID, *cred.Email)
			if err != nil {
				return fmt.Errorf("failed to check duplicate credential: %w", err)
			}
			if n > 0 {
				return ErrDuplicateCredential
			}
		}

		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO credentials (
				id, owner_id, encrypted_secret, email, project_id, supports_claude,
				supports_gemini, is_public, is_active, reward_granted, success_count,
				failure_count, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 1, ?, ?)
		`),
			cred.ID, cred.OwnerID, cred.EncryptedSecret, cred.Email, cred.ProjectID,
			cred.SupportsClaude, cred.SupportsGemini, cred.IsPublic, cred.IsActive,
			false, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to create credential: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a credential by ID
func (r *CredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	var cred models.Credential
	query := r.db.rebind(`SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`)

	err := r.db.conn.GetContext(ctx, &cred, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// ListEligible returns active credentials matching the filter.
func (r *CredentialRepository) ListEligible(ctx context.Context, filter EligibilityFilter) ([]*models.Credential, error) {
	where := []string{"is_active = TRUE"}
	var args []interface{}

	if filter.PublicOnly {
		where = append(where, "is_public = TRUE")
	}
	if filter.OwnerID != nil {
		where = append(where, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	switch filter.Capability {
	case models.CapabilityClaude:
		where = append(where, "supports_claude = TRUE")
	case models.CapabilityGemini:
		where = append(where, "supports_gemini = TRUE")
	}

	query := r.db.rebind(`SELECT ` + credentialColumns + ` FROM credentials WHERE ` +
		strings.Join(where, " AND "))

	var creds []*models.Credential
	if err := r.db.conn.SelectContext(ctx, &creds, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list eligible credentials: %w", err)
	}

	return creds, nil
}

// ListByOwner returns every credential an owner has donated, newest first.
func (r *CredentialRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Credential, error) {
	query := r.db.rebind(`SELECT ` + credentialColumns +
		` FROM credentials WHERE owner_id = ? ORDER BY created_at DESC`)

	var creds []*models.Credential
	if err := r.db.conn.SelectContext(ctx, &creds, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	return creds, nil
}

// RecordSuccess increments success_count, stamps last_used and clears the
// stored error in one statement.
func (r *CredentialRepository) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE credentials
		SET success_count = success_count + 1, last_used = ?, last_error = NULL, updated_at = ?
		WHERE id = ?
	`), at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}

	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// FailureResult describes the transitions a failure report caused.
type FailureResult struct {
	OwnerID uuid.UUID
	// Deactivated is true only for the report that flipped is_active.
	Deactivated bool
	// RewardRevoked is true when this report claimed the donation clawback.
	RewardRevoked bool
}

// RecordFailure increments failure_count and stores the truncated error.
// With deactivate set it also claims the reward clawback and disables the
// credential, each as a conditional update so only one caller observes
// either transition.
func (r *CredentialRepository) RecordFailure(ctx context.Context, id uuid.UUID, errText string, deactivate bool) (FailureResult, error) {
	var result FailureResult
	now := time.Now().UTC()
	lastErr := utils.Truncate(errText, models.MaxLastErrorLength)

	err := r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &result.OwnerID, tx.Rebind(`
			UPDATE credentials
			SET failure_count = failure_count + 1, last_error = ?, updated_at = ?
			WHERE id = ?
			RETURNING owner_id
		`), lastErr, now, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrCredentialNotFound
			}
			return fmt.Errorf("failed to record failure: %w", err)
		}

		if !deactivate {
			return nil
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE credentials SET reward_granted = FALSE
			WHERE id = ? AND reward_granted = TRUE
		`), id)
		if err != nil {
			return fmt.Errorf("failed to revoke reward: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		result.RewardRevoked = n == 1

		res, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE credentials SET is_active = FALSE, version = version + 1
			WHERE id = ? AND is_active = TRUE
		`), id)
		if err != nil {
			return fmt.Errorf("failed to deactivate credential: %w", err)
		}
		n, err = affected(res)
		if err != nil {
			return err
		}
		result.Deactivated = n == 1
		return nil
	})
	if err != nil {
		return FailureResult{}, err
	}

	return result, nil
}

// UpdateSecret replaces the sealed bundle if the row is still at
// expectedVersion. A lost race returns ErrVersionConflict.
func (r *CredentialRepository) UpdateSecret(ctx context.Context, id uuid.UUID, sealed string, expectedVersion int64) error {
	res, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE credentials
		SET encrypted_secret = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`), sealed, time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
	}

	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

// VisibilityResult describes what a visibility change did to the reward.
type VisibilityResult struct {
	Changed       bool
	RewardGranted bool
	RewardRevoked bool
}

// SetVisibility moves a credential between private and public. Becoming
// public claims the reward if the credential is active and does not hold it
// yet; becoming private releases a held reward. Repeating a call is a no-op.
func (r *CredentialRepository) SetVisibility(ctx context.Context, id, ownerID uuid.UUID, public bool) (VisibilityResult, error) {
	var result VisibilityResult
	now := time.Now().UTC()

	err := r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE credentials SET is_public = ?, updated_at = ?
			WHERE id = ? AND owner_id = ? AND is_public = ?
		`), public, now, id, ownerID, !public)
		if err != nil {
			return fmt.Errorf("failed to set visibility: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.GetContext(ctx, &exists, tx.Rebind(`
				SELECT COUNT(*) FROM credentials WHERE id = ? AND owner_id = ?
			`), id, ownerID)
			if err != nil {
				return fmt.Errorf("failed to get credential: %w", err)
			}
			if exists == 0 {
				return ErrCredentialNotFound
			}
			return nil
		}
		result.Changed = true

		var claim string
		if public {
			claim = `UPDATE credentials SET reward_granted = TRUE
				WHERE id = ? AND reward_granted = FALSE AND is_active = TRUE`
		} else {
			claim = `UPDATE credentials SET reward_granted = FALSE
				WHERE id = ? AND reward_granted = TRUE`
		}
		res, err = tx.ExecContext(ctx, tx.Rebind(claim), id)
		if err != nil {
			return fmt.Errorf("failed to update reward: %w", err)
		}
		n, err = affected(res)
		if err != nil {
			return err
		}
		if n == 1 {
			result.RewardGranted = public
			result.RewardRevoked = !public
		}
		return nil
	})
	if err != nil {
		return VisibilityResult{}, err
	}

	return result, nil
}

// ClaimReward marks a public, active credential as rewarded. It returns
// true only for the call that made the transition.
func (r *CredentialRepository) ClaimReward(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		UPDATE credentials SET reward_granted = TRUE
		WHERE id = ? AND reward_granted = FALSE AND is_public = TRUE AND is_active = TRUE
	`), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim reward: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes an owner's credential and reports whether it still held a
// donation reward.
func (r *CredentialRepository) Delete(ctx context.Context, id, ownerID uuid.UUID) (bool, error) {
	var rewardHeld bool
	err := r.db.conn.GetContext(ctx, &rewardHeld, r.db.rebind(`
		DELETE FROM credentials WHERE id = ? AND owner_id = ?
		RETURNING reward_granted
	`), id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrCredentialNotFound
		}
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}

	return rewardHeld, nil
}

// Stats summarizes the public pool.
func (r *CredentialRepository) Stats(ctx context.Context) (models.PoolStats, error) {
	var stats models.PoolStats
	err := r.db.conn.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0) AS valid,
			COALESCE(SUM(CASE WHEN is_active AND supports_claude THEN 1 ELSE 0 END), 0) AS claude,
			COALESCE(SUM(CASE WHEN is_active AND supports_gemini THEN 1 ELSE 0 END), 0) AS gemini
		FROM credentials
		WHERE is_public = TRUE
	`)
	if err != nil {
		return models.PoolStats{}, fmt.Errorf("failed to get pool stats: %w", err)
	}

	stats.Invalid = stats.Total - stats.Valid
	return stats, nil
}

// CountPublicActiveByOwner counts an owner's live donations. Contributors
// get a higher request rate.
func (r *CredentialRepository) CountPublicActiveByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	err := r.db.conn.GetContext(ctx, &n, r.db.rebind(`
		SELECT COUNT(*) FROM credentials
		WHERE owner_id = ? AND is_public = TRUE AND is_active = TRUE
	`), ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to count donations: %w", err)
	}
	return n, nil
}
