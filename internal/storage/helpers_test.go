package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pool_gateway/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := DefaultDBConfig()
	cfg.URL = fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.NewString())

	db, err := NewDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(db))
	return db
}

func createTestOwner(t *testing.T, db *DB, quota int) *models.Owner {
	t.Helper()
	owner := &models.Owner{Name: "owner-" + uuid.NewString()[:8], DailyQuota: quota, IsActive: true}
	require.NoError(t, db.NewOwnerRepository().Create(context.Background(), owner))
	return owner
}

func createTestCredential(t *testing.T, db *DB, owner uuid.UUID, mutate func(*models.Credential)) *models.Credential {
	t.Helper()
	cred := &models.Credential{
		OwnerID:         owner,
		EncryptedSecret: "sealed",
		SupportsGemini:  true,
		IsActive:        true,
	}
	if mutate != nil {
		mutate(cred)
	}
	require.NoError(t, db.NewCredentialRepository().Create(context.Background(), cred))
	return cred
}
