// Package store provides SQLite-backed durable state: a key-value table for
// the operation log, quota cache and group overrides, and a lease table for
// electing one active instance across IDE windows.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 2

// Well-known keys.
const (
	KeyOperationLog   = "operationLog"
	KeyQuotaCache     = "quotaCache"
	KeyGroupOverrides = "groupOverrides"
)

// KV is the durable key-value capability the core components depend on.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Store implements KV and leases on a local SQLite database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns ~/.autoaccept/state.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "autoaccept", "state.db")
	}
	return filepath.Join(home, ".autoaccept", "state.db")
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	var ver int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		ver = 0
	} else if err != nil {
		return fmt.Errorf("read version: %w", err)
	}

	if ver < 1 {
		if err := s.exec("migrate v1",
			`CREATE TABLE IF NOT EXISTS kv (
				key        TEXT PRIMARY KEY,
				value      BLOB NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`INSERT INTO schema_version (version) VALUES (1)`,
		); err != nil {
			return err
		}
	}

	if ver < 2 {
		if err := s.exec("migrate v2",
			`CREATE TABLE IF NOT EXISTS leases (
				name         TEXT PRIMARY KEY,
				owner        TEXT NOT NULL,
				heartbeat_ms INTEGER NOT NULL
			)`,
			fmt.Sprintf(`UPDATE schema_version SET version = %d`, schemaVersion),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) exec(label string, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
	}
	return nil
}

// Get returns the value for key. ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return val, true, nil
}

// Put writes value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the value under key into v. ok is false when absent.
func GetJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	data, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, data)
}
