package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool_gateway/internal/models"
	"pool_gateway/internal/storage/storagetest"
)

func setupLedger(t *testing.T, ceiling int) (*Ledger, *miniredis.Miniredis, uuid.UUID) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := storagetest.NewTestDB(t)
	owners := db.NewOwnerRepository()
	owner := &models.Owner{Name: "caller", DailyQuota: ceiling, IsActive: true}
	require.NoError(t, owners.Create(context.Background(), owner))

	return NewLedger(client, owners), mr, owner.ID
}

func TestLedger_CheckAndCount(t *testing.T) {
	ledger, _, owner := setupLedger(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		usage, err := ledger.CheckAndCount(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, i, usage.Used)
		assert.Equal(t, 3, usage.Ceiling)
	}

	usage, err := ledger.CheckAndCount(ctx, owner)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 3, usage.Used)
	assert.Equal(t, 0, usage.Remaining())

	// a rejected check does not consume budget
	current, err := ledger.Used(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, current.Used)
}

func TestLedger_ZeroCeiling(t *testing.T) {
	ledger, _, owner := setupLedger(t, 0)

	_, err := ledger.CheckAndCount(context.Background(), owner)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestLedger_ConcurrentCallersNeverOvershoot(t *testing.T) {
	ledger, _, owner := setupLedger(t, 10)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.CheckAndCount(ctx, owner); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
}

func TestLedger_DayRollover(t *testing.T) {
	ledger, mr, owner := setupLedger(t, 1)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	_, err := ledger.CheckAndCount(ctx, owner)
	require.NoError(t, err)
	_, err = ledger.CheckAndCount(ctx, owner)
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	key := "quota:" + owner.String() + ":20260501"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, counterTTL, mr.TTL(key))

	now = now.Add(2 * time.Minute)
	_, err = ledger.CheckAndCount(ctx, owner)
	assert.NoError(t, err, "a new day starts a new counter")
}

func TestLedger_Refund(t *testing.T) {
	ledger, _, owner := setupLedger(t, 1)
	ctx := context.Background()

	_, err := ledger.CheckAndCount(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, ledger.Refund(ctx, owner))

	_, err = ledger.CheckAndCount(ctx, owner)
	assert.NoError(t, err)

	// refunds never drive the counter negative
	other := uuid.New()
	require.NoError(t, ledger.Refund(ctx, other))
}

func TestLedger_AdjustCeiling(t *testing.T) {
	ledger, _, owner := setupLedger(t, 100)
	ctx := context.Background()

	ceiling, err := ledger.AdjustCeiling(ctx, owner, 800, 0)
	require.NoError(t, err)
	assert.Equal(t, 900, ceiling)

	usage, err := ledger.Used(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 900, usage.Ceiling)

	ceiling, err = ledger.AdjustCeiling(ctx, owner, -1600, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, ceiling)
}
