package pool

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pool_gateway/internal/models"
	"pool_gateway/internal/storage"
)

// RegisterInput describes a verified credential being added to the pool
type RegisterInput struct {
	Email          string
	ProjectID      string
	SupportsClaude bool
	SupportsGemini bool
	Public         bool
}

// Register seals the secret and stores a new active credential. A
// credential created public pays its owner the donation reward once.
func (p *Pool) Register(ctx context.Context, ownerID uuid.UUID, bundle storage.SecretBundle, in RegisterInput) (*models.Credential, error) {
	sealed, err := p.codec.SealBundle(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to seal secret: %w", err)
	}

	cred := &models.Credential{
		OwnerID:         ownerID,
		EncryptedSecret: sealed,
		ProjectID:       in.ProjectID,
		SupportsClaude:  in.SupportsClaude,
		SupportsGemini:  in.SupportsGemini,
		IsPublic:        in.Public,
		IsActive:        true,
	}
	if in.Email != "" {
		email := in.Email
		cred.Email = &email
	}

	if err := p.store.Create(ctx, cred); err != nil {
		return nil, err
	}
	p.logger.Info("Credential registered", "credential_id", cred.ID, "owner_id", ownerID, "public", in.Public)

	if in.Public {
		claimed, err := p.store.ClaimReward(ctx, cred.ID)
		if err != nil {
			return cred, err
		}
		if claimed {
			cred.RewardGranted = true
			if err := p.grant(ctx, ownerID); err != nil {
				return cred, err
			}
		}
	}

	return cred, nil
}

// SetVisibility donates a credential to the public pool or takes it back.
// The reward moves only on an actual transition, so repeating a call has
// no quota effect.
func (p *Pool) SetVisibility(ctx context.Context, ownerID, id uuid.UUID, public bool) (storage.VisibilityResult, error) {
	res, err := p.store.SetVisibility(ctx, id, ownerID, public)
	if err != nil {
		return res, err
	}

	switch {
	case res.RewardGranted:
		err = p.grant(ctx, ownerID)
	case res.RewardRevoked:
		err = p.clawback(ctx, ownerID)
	}
	return res, err
}

// Remove deletes an owner's credential, clawing back a reward it still held
func (p *Pool) Remove(ctx context.Context, ownerID, id uuid.UUID) error {
	rewardHeld, err := p.store.Delete(ctx, id, ownerID)
	if err != nil {
		return err
	}
	p.logger.Info("Credential removed", "credential_id", id, "owner_id", ownerID)

	if rewardHeld {
		return p.clawback(ctx, ownerID)
	}
	return nil
}

// Credentials lists an owner's credentials
func (p *Pool) Credentials(ctx context.Context, ownerID uuid.UUID) ([]*models.Credential, error) {
	return p.store.ListByOwner(ctx, ownerID)
}

// Stats summarizes the public pool
func (p *Pool) Stats(ctx context.Context) (models.PoolStats, error) {
	return p.store.Stats(ctx)
}

// IsContributor reports whether the owner has at least one live donation
func (p *Pool) IsContributor(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	n, err := p.store.CountPublicActiveByOwner(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
