package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool_gateway/internal/models"
	"pool_gateway/internal/oauth"
	"pool_gateway/internal/storage"
	"pool_gateway/internal/storage/storagetest"
)

const (
	testReward = 800
	testFloor  = 100
)

type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	token   string
	err     error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &oauth.Token{AccessToken: f.token, ExpiresIn: 3600}, nil
}

type fixture struct {
	pool      *Pool
	db        *storage.DB
	creds     *storage.CredentialRepository
	owners    *storage.OwnerRepository
	codec     *storage.Encryption
	refresher *fakeRefresher
}

func setupPool(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewTestDB(t)
	codec, err := storage.NewEncryptionFromSecret("pool-test-secret")
	require.NoError(t, err)

	f := &fixture{
		db:        db,
		creds:     db.NewCredentialRepository(),
		owners:    db.NewOwnerRepository(),
		codec:     codec,
		refresher: &fakeRefresher{token: "renewed-token"},
	}
	f.pool = New(f.creds, f.owners, codec, f.refresher, Config{
		Reward:         testReward,
		Floor:          testFloor,
		RefreshMargin:  5 * time.Minute,
		RefreshTimeout: 5 * time.Second,
	})
	return f
}

func (f *fixture) owner(t *testing.T, ceiling int) uuid.UUID {
	t.Helper()
	o := &models.Owner{Name: "donor-" + uuid.NewString()[:8], DailyQuota: ceiling, IsActive: true}
	require.NoError(t, f.owners.Create(context.Background(), o))
	return o.ID
}

func (f *fixture) ceiling(t *testing.T, id uuid.UUID) int {
	t.Helper()
	f.owners.Invalidate(id)
	o, err := f.owners.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o.DailyQuota
}

func (f *fixture) register(t *testing.T, owner uuid.UUID, bundle storage.SecretBundle, in RegisterInput) *models.Credential {
	t.Helper()
	if in.Email == "" {
		in.Email = uuid.NewString() + "@example.com"
	}
	cred, err := f.pool.Register(context.Background(), owner, bundle, in)
	require.NoError(t, err)
	return cred
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Credential {
	t.Helper()
	cred, err := f.creds.GetByID(context.Background(), id)
	require.NoError(t, err)
	return cred
}

func TestAcquire_PrefersPublicPool(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	donor := f.owner(t, 100)
	caller := f.owner(t, 100)

	public := f.register(t, donor, storage.SecretBundle{AccessToken: "pub"}, RegisterInput{SupportsGemini: true, Public: true})
	f.register(t, caller, storage.SecretBundle{AccessToken: "own"}, RegisterInput{SupportsGemini: true})

	for i := 0; i < 10; i++ {
		cred, err := f.pool.Acquire(ctx, caller, "gemini-2.5-pro")
		require.NoError(t, err)
		assert.Equal(t, public.ID, cred.ID)
	}
}

func TestAcquire_FallsBackToOwnCredentials(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	donor := f.owner(t, 100)
	caller := f.owner(t, 100)

	// public credential without the needed capability
	f.register(t, donor, storage.SecretBundle{AccessToken: "pub"}, RegisterInput{SupportsGemini: true, Public: true})
	own := f.register(t, caller, storage.SecretBundle{AccessToken: "own"}, RegisterInput{SupportsClaude: true})

	cred, err := f.pool.Acquire(ctx, caller, "Claude-Sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, own.ID, cred.ID)

	// another owner's private credential is never used
	_, err = f.pool.Acquire(ctx, donor, "claude-sonnet-4")
	assert.ErrorIs(t, err, ErrNoEligibleCredential)
}

func TestAcquire_NeverReturnsInactive(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	owner := f.owner(t, 100)

	for i := 0; i < 5; i++ {
		cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsClaude: true, SupportsGemini: true, Public: i%2 == 0})
		_, err := f.pool.ReportFailure(ctx, cred.ID, errors.New("upstream returned 401"))
		require.NoError(t, err)
	}

	for _, model := range []string{"gemini-2.5-flash", "claude-opus-4", "something-else"} {
		_, err := f.pool.Acquire(ctx, owner, model)
		assert.ErrorIs(t, err, ErrNoEligibleCredential, model)
	}
}

func TestAcquire_UniformAcrossCandidates(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	owner := f.owner(t, 100)

	seen := map[uuid.UUID]int{}
	for i := 0; i < 3; i++ {
		c := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true, Public: true})
		seen[c.ID] = 0
	}

	for i := 0; i < 300; i++ {
		cred, err := f.pool.Acquire(ctx, owner, "gemini")
		require.NoError(t, err)
		seen[cred.ID]++
	}
	for id, n := range seen {
		assert.Greater(t, n, 0, "credential %s never selected", id)
	}
}

func TestLiveAccessToken_FreshTokenUnchanged(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{
		AccessToken:  "cached",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(600 * time.Second),
	}, RegisterInput{SupportsGemini: true})

	token, err := f.pool.LiveAccessToken(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Equal(t, int32(0), f.refresher.calls.Load())
}

func TestLiveAccessToken_BearerWithoutExpiry(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "sk-proxy"}, RegisterInput{SupportsClaude: true})

	token, err := f.pool.LiveAccessToken(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "sk-proxy", token)
	assert.Equal(t, int32(0), f.refresher.calls.Load())
}

func TestLiveAccessToken_RefreshesInsideMargin(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(60 * time.Second),
	}, RegisterInput{SupportsGemini: true})

	token, err := f.pool.LiveAccessToken(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "renewed-token", token)
	assert.Equal(t, int32(1), f.refresher.calls.Load())

	stored := f.reload(t, cred.ID)
	assert.Equal(t, cred.Version+1, stored.Version)
	bundle, err := f.pool.Decrypt(stored)
	require.NoError(t, err)
	assert.Equal(t, "renewed-token", bundle.AccessToken)
	assert.Equal(t, "refresh", bundle.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), bundle.ExpiresAt, 5*time.Second)

	// identity and counters survive the rewrite
	assert.Equal(t, cred.OwnerID, stored.OwnerID)
	assert.Equal(t, cred.SupportsGemini, stored.SupportsGemini)
}

func TestLiveAccessToken_ConcurrentCallersShareOneExchange(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}, RegisterInput{SupportsGemini: true})

	f.refresher.release = make(chan struct{})

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.pool.LiveAccessToken(context.Background(), cred)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(f.refresher.release)
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "renewed-token", tokens[i])
	}
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestLiveAccessToken_CallerCancelDoesNotAbortExchange(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}, RegisterInput{SupportsGemini: true})

	f.refresher.release = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := f.pool.LiveAccessToken(ctx, cred)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(f.refresher.release)
	require.Eventually(t, func() bool {
		return f.reload(t, cred.ID).Version == cred.Version+1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLiveAccessToken_RefreshFailures(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	ctx := context.Background()

	t.Run("no refresh token", func(t *testing.T) {
		cred := f.register(t, owner, storage.SecretBundle{
			AccessToken: "expired",
			ExpiresAt:   time.Now().Add(-time.Hour),
		}, RegisterInput{SupportsGemini: true})

		_, err := f.pool.LiveAccessToken(ctx, cred)
		assert.ErrorIs(t, err, ErrRefreshFailed)
	})

	t.Run("exchange rejected", func(t *testing.T) {
		f.refresher.err = &oauth.HTTPError{Endpoint: "token", StatusCode: 400, Body: `{"error":"invalid_grant"}`}
		defer func() { f.refresher.err = nil }()

		cred := f.register(t, owner, storage.SecretBundle{
			AccessToken:  "expired",
			RefreshToken: "revoked",
			ExpiresAt:    time.Now().Add(-time.Hour),
		}, RegisterInput{SupportsGemini: true})

		_, err := f.pool.LiveAccessToken(ctx, cred)
		assert.ErrorIs(t, err, ErrRefreshFailed)

		// stored state is untouched
		stored := f.reload(t, cred.ID)
		assert.Equal(t, cred.Version, stored.Version)
		assert.Equal(t, cred.EncryptedSecret, stored.EncryptedSecret)
		assert.True(t, stored.IsActive)
	})
}

func TestReportFailure_RefreshOutcome(t *testing.T) {
	tests := []struct {
		name       string
		refreshErr error
		wantKind   FailureKind
		wantActive bool
	}{
		{
			name:       "grant revoked",
			refreshErr: &oauth.HTTPError{Endpoint: "token", StatusCode: 400, Body: `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`},
			wantKind:   FailureAuthRejected,
		},
		{
			name:       "gateway client rejected",
			refreshErr: &oauth.HTTPError{Endpoint: "token", StatusCode: 401, Body: `{"error":"invalid_client"}`},
			wantKind:   FailureTransient,
			wantActive: true,
		},
		{
			name:       "gateway client missing",
			refreshErr: oauth.ErrNotConfigured,
			wantKind:   FailureTransient,
			wantActive: true,
		},
		{
			name:       "identity provider unavailable",
			refreshErr: &oauth.HTTPError{Endpoint: "token", StatusCode: 503, Body: "backend error"},
			wantKind:   FailureTransient,
			wantActive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupPool(t)
			ctx := context.Background()
			owner := f.owner(t, 100)
			f.refresher.err = tt.refreshErr

			cred := f.register(t, owner, storage.SecretBundle{
				AccessToken:  "expired",
				RefreshToken: "refresh",
				ExpiresAt:    time.Now().Add(-time.Hour),
			}, RegisterInput{SupportsGemini: true, Public: true})
			require.Equal(t, 100+testReward, f.ceiling(t, owner))

			_, err := f.pool.LiveAccessToken(ctx, cred)
			require.ErrorIs(t, err, ErrRefreshFailed)

			kind, err := f.pool.ReportFailure(ctx, cred.ID, err)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)

			stored := f.reload(t, cred.ID)
			assert.Equal(t, tt.wantActive, stored.IsActive)
			assert.Equal(t, tt.wantActive, stored.RewardGranted)
			assert.Equal(t, int64(1), stored.FailureCount)
			if tt.wantActive {
				assert.Equal(t, 100+testReward, f.ceiling(t, owner))
			} else {
				assert.Equal(t, 100, f.ceiling(t, owner))
			}
		})
	}
}

func TestLiveAccessToken_VersionConflictUsesStoredToken(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	ctx := context.Background()
	cred := f.register(t, owner, storage.SecretBundle{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}, RegisterInput{SupportsGemini: true})

	// another replica renews while our exchange is in flight
	f.refresher.release = make(chan struct{})
	done := make(chan string, 1)
	go func() {
		token, err := f.pool.LiveAccessToken(ctx, cred)
		assert.NoError(t, err)
		done <- token
	}()

	require.Eventually(t, func() bool { return f.refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	sealed, err := f.codec.SealBundle(storage.SecretBundle{
		AccessToken:  "from-other-replica",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, f.creds.UpdateSecret(ctx, cred.ID, sealed, cred.Version))

	close(f.refresher.release)
	assert.Equal(t, "from-other-replica", <-done)
}

func TestReportSuccess_ConcurrentIncrements(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true})

	_, err := f.pool.ReportFailure(context.Background(), cred.ID, errors.New("connection reset"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.pool.ReportSuccess(context.Background(), cred.ID))
		}()
	}
	wg.Wait()

	stored := f.reload(t, cred.ID)
	assert.Equal(t, int64(100), stored.SuccessCount)
	assert.Nil(t, stored.LastError)
	assert.NotNil(t, stored.LastUsed)
}

func TestReportFailure_AuthRejectionDeactivates(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true, Public: true})
	require.Equal(t, 100+testReward, f.ceiling(t, owner))

	kind, err := f.pool.ReportFailure(ctx, cred.ID, errors.New("upstream returned 401: token expired"))
	require.NoError(t, err)
	assert.Equal(t, FailureAuthRejected, kind)

	stored := f.reload(t, cred.ID)
	assert.False(t, stored.IsActive)
	assert.False(t, stored.RewardGranted)
	assert.Equal(t, int64(1), stored.FailureCount)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "401")
	assert.Equal(t, 100, f.ceiling(t, owner))

	// a second rejection does not claw back again
	_, err = f.pool.ReportFailure(ctx, cred.ID, errors.New("403 forbidden"))
	require.NoError(t, err)
	assert.Equal(t, 100, f.ceiling(t, owner))
	assert.Equal(t, int64(2), f.reload(t, cred.ID).FailureCount)
}

func TestReportFailure_TransientKeepsActive(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true, Public: true})

	kind, err := f.pool.ReportFailure(context.Background(), cred.ID, errors.New("connection reset"))
	require.NoError(t, err)
	assert.Equal(t, FailureTransient, kind)

	stored := f.reload(t, cred.ID)
	assert.True(t, stored.IsActive)
	assert.True(t, stored.RewardGranted)
	assert.Equal(t, 100+testReward, f.ceiling(t, owner))
}

func TestReportFailure_ClawbackFlooredAtDefault(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true, Public: true})

	// an operator lowered the ceiling after the donation
	_, err := f.owners.AdjustCeiling(context.Background(), owner, -700, 0)
	require.NoError(t, err)
	require.Equal(t, 200, f.ceiling(t, owner))

	_, err = f.pool.ReportFailure(context.Background(), cred.ID, errors.New("Unauthorized"))
	require.NoError(t, err)
	assert.Equal(t, testFloor, f.ceiling(t, owner))
}

func TestReportFailure_TruncatesLastError(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true})

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	_, err := f.pool.ReportFailure(context.Background(), cred.ID, errors.New(string(long)))
	require.NoError(t, err)

	stored := f.reload(t, cred.ID)
	require.NotNil(t, stored.LastError)
	assert.LessOrEqual(t, len(*stored.LastError), models.MaxLastErrorLength)
}

func TestSetVisibility_ToggleRestoresCeiling(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true})
	before := f.ceiling(t, owner)

	res, err := f.pool.SetVisibility(ctx, owner, cred.ID, true)
	require.NoError(t, err)
	assert.True(t, res.RewardGranted)
	assert.Equal(t, before+testReward, f.ceiling(t, owner))

	// repeating the same toggle is a no-op
	res, err = f.pool.SetVisibility(ctx, owner, cred.ID, true)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, before+testReward, f.ceiling(t, owner))

	_, err = f.pool.SetVisibility(ctx, owner, cred.ID, false)
	require.NoError(t, err)
	_, err = f.pool.SetVisibility(ctx, owner, cred.ID, false)
	require.NoError(t, err)
	assert.Equal(t, before, f.ceiling(t, owner))

	_, err = f.pool.SetVisibility(ctx, owner, cred.ID, true)
	require.NoError(t, err)
	_, err = f.pool.SetVisibility(ctx, owner, cred.ID, false)
	require.NoError(t, err)
	assert.Equal(t, before, f.ceiling(t, owner))
}

func TestSetVisibility_AfterDeactivationNoDoubleClawback(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	owner := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true, Public: true})

	_, err := f.pool.ReportFailure(ctx, cred.ID, errors.New("401"))
	require.NoError(t, err)
	require.Equal(t, 100, f.ceiling(t, owner))

	res, err := f.pool.SetVisibility(ctx, owner, cred.ID, false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.RewardRevoked)

	// an inactive credential earns nothing when donated again
	res, err = f.pool.SetVisibility(ctx, owner, cred.ID, true)
	require.NoError(t, err)
	assert.False(t, res.RewardGranted)
	assert.Equal(t, 100, f.ceiling(t, owner))
}

func TestSetVisibility_WrongOwner(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	other := f.owner(t, 100)
	cred := f.register(t, owner, storage.SecretBundle{AccessToken: "tok"}, RegisterInput{SupportsGemini: true})

	_, err := f.pool.SetVisibility(context.Background(), other, cred.ID, true)
	assert.ErrorIs(t, err, storage.ErrCredentialNotFound)
	assert.Equal(t, 100, f.ceiling(t, other))
}

func TestRemove_PublicCredentialClawsBack(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	owner := f.owner(t, 100)
	public := f.register(t, owner, storage.SecretBundle{AccessToken: "a"}, RegisterInput{SupportsGemini: true, Public: true})
	private := f.register(t, owner, storage.SecretBundle{AccessToken: "b"}, RegisterInput{SupportsGemini: true})
	require.Equal(t, 100+testReward, f.ceiling(t, owner))

	require.NoError(t, f.pool.Remove(ctx, owner, private.ID))
	assert.Equal(t, 100+testReward, f.ceiling(t, owner))

	require.NoError(t, f.pool.Remove(ctx, owner, public.ID))
	assert.Equal(t, 100, f.ceiling(t, owner))

	assert.ErrorIs(t, f.pool.Remove(ctx, owner, public.ID), storage.ErrCredentialNotFound)

	creds, err := f.pool.Credentials(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := setupPool(t)
	owner := f.owner(t, 100)
	in := RegisterInput{Email: "donor@example.com", SupportsGemini: true, Public: true}
	f.register(t, owner, storage.SecretBundle{AccessToken: "a"}, in)

	_, err := f.pool.Register(context.Background(), owner, storage.SecretBundle{AccessToken: "b"}, in)
	assert.ErrorIs(t, err, storage.ErrDuplicateCredential)
	assert.Equal(t, 100+testReward, f.ceiling(t, owner))
}

func TestStatsAndContributor(t *testing.T) {
	f := setupPool(t)
	ctx := context.Background()
	donor := f.owner(t, 100)
	lurker := f.owner(t, 100)

	f.register(t, donor, storage.SecretBundle{AccessToken: "a"}, RegisterInput{SupportsClaude: true, Public: true})
	dead := f.register(t, donor, storage.SecretBundle{AccessToken: "b"}, RegisterInput{SupportsGemini: true, Public: true})
	f.register(t, lurker, storage.SecretBundle{AccessToken: "c"}, RegisterInput{SupportsGemini: true})
	_, err := f.pool.ReportFailure(ctx, dead.ID, errors.New("401"))
	require.NoError(t, err)

	stats, err := f.pool.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PoolStats{Total: 2, Valid: 1, Invalid: 1, Claude: 1, Gemini: 0}, stats)

	ok, err := f.pool.IsContributor(ctx, donor)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.pool.IsContributor(ctx, lurker)
	require.NoError(t, err)
	assert.False(t, ok)
}
