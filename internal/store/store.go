package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/meshwork/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets the web server read snapshots while the job processor writes.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS state (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS job_definitions (
			name         TEXT PRIMARY KEY,
			description  TEXT,
			type         TEXT,
			request      TEXT,
			steps        TEXT,
			mode         TEXT,
			schedule     TEXT,
			role         TEXT,
			next_run_at  DATETIME,
			last_run_at  DATETIME,
			last_job_id  TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_definitions_next_run ON job_definitions(next_run_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name        TEXT PRIMARY KEY,
			value       BLOB NOT NULL,
			nonce       BLOB NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	// Schema additions (idempotent ALTER TABLE)
	alterations := []string{
		`ALTER TABLE job_definitions ADD COLUMN role TEXT`,
	}
	for _, a := range alterations {
		_, _ = s.db.Exec(a) // ignore "duplicate column" errors
	}

	return nil
}
