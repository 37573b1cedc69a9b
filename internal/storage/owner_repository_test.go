package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerRepository_GetByID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := db.NewOwnerRepository()
	owner := createTestOwner(t, db, 100)

	got, err := repo.GetByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, owner.Name, got.Name)
	assert.Equal(t, 100, got.DailyQuota)
	assert.True(t, got.IsActive)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOwnerNotFound)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOwnerRepository_AdjustCeiling(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := db.NewOwnerRepository()
	owner := createTestOwner(t, db, 100)

	// prime the cache so invalidation is exercised
	_, err := repo.GetByID(ctx, owner.ID)
	require.NoError(t, err)

	ceiling, err := repo.AdjustCeiling(ctx, owner.ID, 800, 0)
	require.NoError(t, err)
	assert.Equal(t, 900, ceiling)

	got, err := repo.GetByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 900, got.DailyQuota)

	ceiling, err = repo.AdjustCeiling(ctx, owner.ID, -2000, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, ceiling, "clawback is floored")

	_, err = repo.AdjustCeiling(ctx, uuid.New(), 1, 0)
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestOwnerRepository_ConcurrentAdjust(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := db.NewOwnerRepository()
	owner := createTestOwner(t, db, 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AdjustCeiling(ctx, owner.ID, 10, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, got.DailyQuota)
}
