package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(namespace, key)
);

CREATE INDEX IF NOT EXISTS idx_kv_entries_namespace ON kv_entries(namespace);
`

type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the local database at path and ensures
// the schema exists. Pass ":memory:" for an ephemeral store in tests.
func NewSQLite(path string) (Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases
	// from being scoped per pooled connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

func (s *sqliteStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context, namespace string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv_entries WHERE namespace = ? ORDER BY seq ASC`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate namespace %s: %w", namespace, err)
	}

	return entries, nil
}

func (s *sqliteStore) DeletePrefix(ctx context.Context, namespace, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE namespace = ? AND key LIKE ? || '%'`,
		namespace, prefix,
	)
	if err != nil {
		return fmt.Errorf("failed to delete prefix %s/%s: %w", namespace, prefix, err)
	}
	return nil
}

func (s *sqliteStore) Clear(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE namespace = ?`,
		namespace,
	)
	if err != nil {
		return fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
