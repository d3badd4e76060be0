package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/nerrad567/motion-core/internal/infrastructure/config"
)

const (
	dirMode  = 0o750
	fileMode = 0o600

	pingTimeout = 5 * time.Second
	idleTimeout = 30 * time.Minute
)

// DB is the analysis history store: a single-connection SQLite pool plus
// the migration runner.
type DB struct {
	*sql.DB
	path string
}

// dsn builds the go-sqlite3 connection string for cfg.
func dsn(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt((time.Duration(cfg.BusyTimeout)*time.Second).Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode {
		// Readers of the history list do not block the insert after an analysis.
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens the SQLite file at cfg.Path, creating it and its directory
// as needed, and pings it.
//
// SQLite has one writer, so the pool holds one connection.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	pool, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)
	pool.SetConnMaxIdleTime(idleTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	os.Chmod(cfg.Path, fileMode) //nolint:errcheck // created lazily by the driver

	return &DB{DB: pool, path: cfg.Path}, nil
}

// Close is a no-op on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func (db *DB) Path() string { return db.path }

// HealthCheck round-trips a query through the pool.
func (db *DB) HealthCheck(ctx context.Context) error {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&n); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
