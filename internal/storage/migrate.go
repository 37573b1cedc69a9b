package storage

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// RunMigrations applies all pending migrations for the connection's dialect.
// It is safe to call on every startup; applied migrations are skipped.
func RunMigrations(db *DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+db.dialect)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	var dbDriver database.Driver
	switch db.dialect {
	case DialectPostgres:
		dbDriver, err = migratepostgres.WithInstance(db.conn.DB, &migratepostgres.Config{})
	case DialectSQLite:
		dbDriver, err = migratesqlite.WithInstance(db.conn.DB, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("no migrations for dialect %q", db.dialect)
	}
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, db.dialect, dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
