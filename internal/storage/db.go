package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DB wraps the database connection and provides health checks
type DB struct {
	conn    *sqlx.DB
	dialect string

	// Cache for owner lookups on the request path
	ownerCache *LRUCache[*cachedOwner]
}

// DBConfig holds database configuration
type DBConfig struct {
	// URL selects the driver: postgres://, postgresql:// or sqlite://<path>
	URL string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings
	OwnerCacheSize int
	OwnerCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		URL: "sqlite://pool_gateway.db",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		OwnerCacheSize: 1000,
		OwnerCacheTTL:  1 * time.Minute,
	}
}

// parseURL maps a database URL to a driver name and DSN.
func parseURL(rawURL string) (dialect, dsn string, err error) {
	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return DialectPostgres, rawURL, nil
	case strings.HasPrefix(rawURL, "sqlite://"):
		path := strings.TrimPrefix(rawURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite URL has no path")
		}
		if !strings.HasPrefix(path, "file:") {
			path = "file:" + path
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
		if !strings.Contains(path, "mode=memory") {
			dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
		}
		return DialectSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL %q", rawURL)
	}
}

// NewDB creates a new database connection with caching
func NewDB(cfg DBConfig) (*DB, error) {
	dialect, dsn, err := parseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Connect(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == DialectSQLite {
		// A single writer avoids "database is locked"; in-memory databases
		// also disappear when their last connection closes.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	cacheSize := cfg.OwnerCacheSize
	if cacheSize <= 0 {
		cacheSize = 1000
	}

	return &DB{
		conn:       conn,
		dialect:    dialect,
		ownerCache: NewLRUCache[*cachedOwner](cacheSize, cfg.OwnerCacheTTL),
	}, nil
}

// Dialect returns the SQL dialect in use.
func (db *DB) Dialect() string {
	return db.dialect
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.ownerCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	err := db.conn.GetContext(ctx, &result, "SELECT 1")
	if err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection
// Use this for custom queries not covered by repositories
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// rebind converts ? placeholders to the driver's bindvar style.
func (db *DB) rebind(query string) string {
	return db.conn.Rebind(query)
}

// CleanupExpiredCacheEntries removes expired entries from all caches
// Should be called periodically (e.g., every minute)
func (db *DB) CleanupExpiredCacheEntries() int {
	return db.ownerCache.CleanupExpired()
}

// inTx runs fn inside a transaction, committing on success.
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// affected returns the number of rows touched by a statement.
func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// Repository factory methods

// NewCredentialRepository creates a new credential repository
func (db *DB) NewCredentialRepository() *CredentialRepository {
	return NewCredentialRepository(db)
}

// NewOwnerRepository creates a new owner repository
func (db *DB) NewOwnerRepository() *OwnerRepository {
	return NewOwnerRepository(db)
}

// NewUsageRepository creates a new usage repository
func (db *DB) NewUsageRepository() *UsageRepository {
	return NewUsageRepository(db)
}
