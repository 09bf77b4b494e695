// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists settings, metadata records, and download links.
// Implements: the Settings Store key-value contract with an atomic
// read-modify-write, MetadataRecord upserts keyed by (user, doi), and the
// download-link table. Backends: sqlite (default) and Postgres.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dastyar-team/dastyar/pkg/types"
)

// ErrNotFound is returned when a key, record, or link does not exist.
var ErrNotFound = errors.New("not found")

// Store is the database-backed settings, record, and link store.
type Store struct {
	db      *sql.DB
	driver  types.StoreDriver
	builder sq.StatementBuilderType

	// mu serializes Update within this process. The transaction guards
	// against other processes.
	mu sync.Mutex
}

// Open opens or creates the store described by cfg and creates the schema
// if it does not exist.
func Open(cfg types.StoreConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = types.DriverSQLite
	}

	var (
		db  *sql.DB
		err error
		ph  sq.PlaceholderFormat
	)
	switch driver {
	case types.DriverSQLite:
		path, _, _ := strings.Cut(cfg.DSN, "?")
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating store directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", sqliteDSN(cfg.DSN))
		ph = sq.Question
	case types.DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		ph = sq.Dollar
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:      db,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(ph),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// sqliteOptions are appended to every sqlite DSN.
const sqliteOptions = "_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"

// sqliteDSN appends sqliteOptions to dsn, keeping any query it already has.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + sqliteOptions
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metadata_records (
			user_id BIGINT NOT NULL,
			doi TEXT NOT NULL,
			title TEXT,
			year INTEGER,
			journal TEXT,
			abstract TEXT,
			category TEXT,
			category_source TEXT,
			status TEXT NOT NULL,
			error TEXT,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (user_id, doi)
		)`,
		`CREATE TABLE IF NOT EXISTS download_links (
			token TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			file_path TEXT NOT NULL,
			filename TEXT,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			used_at BIGINT,
			used_by BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_download_links_expires ON download_links(expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}
