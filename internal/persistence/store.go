// Package persistence implements the key-value persistence adapter:
// save/load/list/delete/exists over a namespace, backed by SQLite with
// a single-writer-per-namespace file lock. The style follows the
// embedded-schema, open-once SQLite store idiom, generalized from a
// task-execution-history table to an arbitrary namespaced key-value
// table.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv_store (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// Store is a SQLite-backed key-value adapter. One Store owns one
// database file and one namespace-keyed set of advisory file locks so
// that concurrent processes sharing the same db path serialize their
// writes per namespace, per the single-serializing-queue-per-namespace
// requirement.
type Store struct {
	db      *sql.DB
	dbPath  string
	lockDir string
}

// New opens (creating if necessary) the SQLite database at dbPath and
// ensures the kv_store schema exists.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("persistence: create database directory: %w", err)
		}
	}

	dsn := dbPath
	if dbPath == ":memory:" {
		// A bare ":memory:" DSN gives each pooled connection its own
		// database; share one across the pool so Save/Load see the
		// same data regardless of which connection serves them.
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: init schema: %w", err)
	}

	lockDir := filepath.Dir(dbPath)
	if dbPath == ":memory:" {
		lockDir = os.TempDir()
	}

	return &Store{db: db, dbPath: dbPath, lockDir: lockDir}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) namespaceLock(namespace string) *flock.Flock {
	path := filepath.Join(s.lockDir, fmt.Sprintf(".swarm-persistence-%s.lock", namespace))
	return flock.New(path)
}

// withNamespaceLock serializes writers to one namespace across
// processes sharing the same dbPath.
func (s *Store) withNamespaceLock(ctx context.Context, namespace string, fn func() error) error {
	lock := s.namespaceLock(namespace)
	locked, err := lock.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("persistence: acquire namespace lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("persistence: namespace %q is locked by another writer", namespace)
	}
	defer lock.Unlock()
	return fn()
}

// Save writes data under (namespace, key). data is round-tripped
// through JSON so mapping-typed values survive Save/Load unchanged.
func (s *Store) Save(ctx context.Context, namespace, key string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("persistence: marshal value: %w", err)
	}

	return s.withNamespaceLock(ctx, namespace, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv_store (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			namespace, key, string(encoded), time.Now())
		if err != nil {
			return fmt.Errorf("persistence: save %s/%s: %w", namespace, key, err)
		}
		return nil
	})
}

// ErrNotFound is returned by Load when (namespace, key) doesn't exist.
var ErrNotFound = fmt.Errorf("persistence: key not found")

// Load reads the value stored under (namespace, key) into out, which
// must be a pointer. Returns ErrNotFound if nothing is stored there.
func (s *Store) Load(ctx context.Context, namespace, key string, out any) error {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE namespace = ? AND key = ?`, namespace, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("persistence: load %s/%s: %w", namespace, key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("persistence: unmarshal %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns every key stored in namespace, oldest-updated first.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_store WHERE namespace = ? ORDER BY updated_at ASC`, namespace)
	if err != nil {
		return nil, fmt.Errorf("persistence: list %s: %w", namespace, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("persistence: scan list %s: %w", namespace, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes (namespace, key) if present. Deleting a missing key is
// not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	return s.withNamespaceLock(ctx, namespace, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM kv_store WHERE namespace = ? AND key = ?`, namespace, key)
		if err != nil {
			return fmt.Errorf("persistence: delete %s/%s: %w", namespace, key, err)
		}
		return nil
	})
}

// Exists reports whether (namespace, key) is present.
func (s *Store) Exists(ctx context.Context, namespace, key string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_store WHERE namespace = ? AND key = ?`, namespace, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("persistence: exists %s/%s: %w", namespace, key, err)
	}
	return count > 0, nil
}
