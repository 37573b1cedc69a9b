// Package storagetest opens throwaway migrated databases for tests in other
// packages.
package storagetest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"pool_gateway/internal/storage"
)

// NewTestDB returns a migrated shared in-memory SQLite database that is
// closed when the test ends.
func NewTestDB(t testing.TB) *storage.DB {
	t.Helper()

	cfg := storage.DefaultDBConfig()
	cfg.URL = fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.NewString())

	db, err := storage.NewDB(cfg)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.RunMigrations(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}
