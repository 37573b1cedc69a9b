// Package pool hands out donated credentials, keeps their access tokens
// fresh and turns call outcomes into credential health and owner quota.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"pool_gateway/internal/models"
	"pool_gateway/internal/oauth"
	"pool_gateway/internal/storage"
	"pool_gateway/internal/utils"
)

var (
	// ErrNoEligibleCredential is returned when neither the public pool nor
	// the caller's own credentials can serve the model
	ErrNoEligibleCredential = errors.New("no eligible credential available")

	// ErrRefreshFailed is returned when an expired token could not be renewed
	ErrRefreshFailed = errors.New("credential refresh failed")

	// ErrSecretUnreadable is returned when a stored secret cannot be decrypted
	ErrSecretUnreadable = errors.New("credential secret cannot be decrypted")
)

// reportTimeout bounds bookkeeping writes that outlive the request
const reportTimeout = 5 * time.Second

// CredentialStore is the credential persistence the pool needs
type CredentialStore interface {
	Create(ctx context.Context, cred *models.Credential) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error)
	ListEligible(ctx context.Context, filter storage.EligibilityFilter) ([]*models.Credential, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Credential, error)
	RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordFailure(ctx context.Context, id uuid.UUID, errText string, deactivate bool) (storage.FailureResult, error)
	UpdateSecret(ctx context.Context, id uuid.UUID, sealed string, expectedVersion int64) error
	SetVisibility(ctx context.Context, id, ownerID uuid.UUID, public bool) (storage.VisibilityResult, error)
	ClaimReward(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) (bool, error)
	Stats(ctx context.Context) (models.PoolStats, error)
	CountPublicActiveByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)
}

// CeilingAdjuster moves an owner's quota ceiling
type CeilingAdjuster interface {
	AdjustCeiling(ctx context.Context, ownerID uuid.UUID, delta, floor int) (int, error)
}

// TokenRefresher renews access tokens
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// Config holds pool policy
type Config struct {
	// Reward is added to an owner's ceiling for each public donation
	Reward int
	// Floor is the lowest ceiling a clawback may leave behind
	Floor int
	// RefreshMargin renews tokens this long before they expire
	RefreshMargin time.Duration
	// RefreshTimeout bounds one token exchange
	RefreshTimeout time.Duration
}

// Pool is the credential pool
type Pool struct {
	store     CredentialStore
	ledger    CeilingAdjuster
	codec     *storage.Encryption
	refresher TokenRefresher
	cfg       Config

	flight singleflight.Group
	pick   func(n int) int
	now    func() time.Time
	logger *utils.Logger
}

// New creates a credential pool
func New(store CredentialStore, ledger CeilingAdjuster, codec *storage.Encryption, refresher TokenRefresher, cfg Config) *Pool {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	return &Pool{
		store:     store,
		ledger:    ledger,
		codec:     codec,
		refresher: refresher,
		cfg:       cfg,
		pick:      rand.IntN,
		now:       time.Now,
		logger:    utils.NewLogger("pool"),
	}
}

// Acquire selects a credential for the owner and model. Public credentials
// are preferred; the owner's own credentials are the fallback. The choice
// within a tier is uniformly random.
func (p *Pool) Acquire(ctx context.Context, ownerID uuid.UUID, model string) (*models.Credential, error) {
	capability := models.CapabilityFor(model)

	candidates, err := p.store.ListEligible(ctx, storage.EligibilityFilter{
		PublicOnly: true,
		Capability: capability,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list public credentials: %w", err)
	}

	if len(candidates) == 0 {
		candidates, err = p.store.ListEligible(ctx, storage.EligibilityFilter{
			OwnerID:    &ownerID,
			Capability: capability,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list own credentials: %w", err)
		}
	}

	if len(candidates) == 0 {
		return nil, ErrNoEligibleCredential
	}

	return candidates[p.pick(len(candidates))], nil
}

// Decrypt opens a credential's secret bundle for the duration of one call
func (p *Pool) Decrypt(cred *models.Credential) (storage.SecretBundle, error) {
	bundle, err := p.codec.OpenBundle(cred.EncryptedSecret)
	if err != nil {
		return storage.SecretBundle{}, fmt.Errorf("%w: %v", ErrSecretUnreadable, err)
	}
	return bundle, nil
}

// LiveAccessToken returns an access token that stays valid for at least the
// refresh margin, renewing it if needed. Concurrent renewals of the same
// credential share one exchange, and the exchange is not cancelled when
// the caller that started it goes away.
func (p *Pool) LiveAccessToken(ctx context.Context, cred *models.Credential) (string, error) {
	bundle, err := p.Decrypt(cred)
	if err != nil {
		return "", err
	}
	if bundle.FreshAt(p.now(), p.cfg.RefreshMargin) {
		return bundle.AccessToken, nil
	}
	if !bundle.Refreshable() {
		return "", fmt.Errorf("%w: token expired and no refresh token is stored", ErrRefreshFailed)
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := p.flight.DoChan(cred.ID.String(), func() (interface{}, error) {
		return p.refresh(flightCtx, cred.ID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refresh renews one credential's token and persists the new bundle with a
// version check. It re-reads the row first so a renewal that finished
// between the caller's read and this flight is reused.
func (p *Pool) refresh(ctx context.Context, id uuid.UUID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RefreshTimeout)
	defer cancel()

	cred, err := p.store.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	bundle, err := p.Decrypt(cred)
	if err != nil {
		return "", err
	}
	if bundle.FreshAt(p.now(), p.cfg.RefreshMargin) {
		return bundle.AccessToken, nil
	}

	token, err := p.refresher.Refresh(ctx, bundle.RefreshToken)
	if err != nil {
		p.logger.Warn("Token refresh failed", "credential_id", id, "refresh_fp", utils.Fingerprint(bundle.RefreshToken), "error", err)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	renewed := bundle.Renewed(token.AccessToken, token.Lifetime(), p.now())
	sealed, err := p.codec.SealBundle(renewed)
	if err != nil {
		return "", fmt.Errorf("failed to seal renewed secret: %w", err)
	}

	err = p.store.UpdateSecret(ctx, id, sealed, cred.Version)
	switch {
	case err == nil:
		p.logger.Debug("Token refreshed", "credential_id", id, "expires_at", renewed.ExpiresAt)
	case errors.Is(err, storage.ErrVersionConflict):
		// Another replica renewed first; its token is as good as ours.
		if latest, getErr := p.store.GetByID(ctx, id); getErr == nil {
			if stored, openErr := p.Decrypt(latest); openErr == nil && stored.FreshAt(p.now(), p.cfg.RefreshMargin) {
				return stored.AccessToken, nil
			}
		}
	default:
		// The provider already issued the token; keep serving with it.
		p.logger.Error("Failed to persist refreshed token", "credential_id", id, "error", err)
	}

	return renewed.AccessToken, nil
}

// ReportSuccess records a successful upstream call
func (p *Pool) ReportSuccess(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if err := p.store.RecordSuccess(ctx, id, p.now()); err != nil {
		return fmt.Errorf("failed to report success: %w", err)
	}
	return nil
}

// ReportFailure records a failed upstream call and applies its consequences.
// Authorization failures deactivate the credential and claw back the
// owner's donation reward, at most once per grant.
func (p *Pool) ReportFailure(ctx context.Context, id uuid.UUID, cause error) (FailureKind, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	kind := Classify(cause)
	text := "unknown error"
	if cause != nil {
		text = cause.Error()
	}

	res, err := p.store.RecordFailure(ctx, id, text, kind == FailureAuthRejected)
	if err != nil {
		return kind, fmt.Errorf("failed to report failure: %w", err)
	}

	if res.Deactivated {
		p.logger.Warn("Credential deactivated", "credential_id", id, "owner_id", res.OwnerID)
	}
	if res.RewardRevoked {
		if err := p.clawback(ctx, res.OwnerID); err != nil {
			return kind, err
		}
	}

	return kind, nil
}

func (p *Pool) grant(ctx context.Context, ownerID uuid.UUID) error {
	ceiling, err := p.ledger.AdjustCeiling(ctx, ownerID, p.cfg.Reward, 0)
	if err != nil {
		return fmt.Errorf("failed to grant donation reward: %w", err)
	}
	p.logger.Info("Donation reward granted", "owner_id", ownerID, "ceiling", ceiling)
	return nil
}

func (p *Pool) clawback(ctx context.Context, ownerID uuid.UUID) error {
	ceiling, err := p.ledger.AdjustCeiling(ctx, ownerID, -p.cfg.Reward, p.cfg.Floor)
	if err != nil {
		return fmt.Errorf("failed to claw back donation reward: %w", err)
	}
	p.logger.Info("Donation reward clawed back", "owner_id", ownerID, "ceiling", ceiling)
	return nil
}
